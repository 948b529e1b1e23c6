// Package dedupe detects duplicate articles across a run and across prior
// runs of the same target date. Detection is two-level: exact SHA-256
// matching on canonical text, then MinHash LSH for near-duplicates above a
// Jaccard threshold. Within a duplicate class the smallest entry id is the
// representative regardless of arrival order; when a smaller id arrives
// late the class re-roots and the caller repairs the displaced rows.
package dedupe

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/masx-gsgi/flashpipe/internal/config"
)

// Result reports the classification of one entry.
type Result struct {
	ContentHash string
	Signature   []uint64
	IsExact     bool
	IsNear      bool
	DuplicateOf *uuid.UUID // class representative when duplicate
	Displaced   *uuid.UUID // previous representative this entry unseated
	Similarity  float64
}

// IsDuplicate reports whether the entry joined an existing class as a
// non-representative member.
func (r *Result) IsDuplicate() bool { return r.IsExact || r.IsNear }

// Engine holds the in-memory dedupe state for one target date. Safe for
// concurrent use.
type Engine struct {
	mu sync.Mutex

	numPerm   int
	threshold float64
	shingleK  int
	perms     []perm
	bands     int
	rows      int

	hashes  map[string]uuid.UUID    // content hash -> class root
	sigs    map[uuid.UUID][]uint64  // registered representative signatures
	roots   map[uuid.UUID]uuid.UUID // displaced representative -> successor
	buckets map[uint64][]uuid.UUID  // LSH band key -> candidate ids

	logger *slog.Logger
}

// NewEngine builds an empty engine from the dedupe configuration.
func NewEngine(cfg *config.DedupeConfig, logger *slog.Logger) *Engine {
	bands, rows := bandingFor(cfg.NumPerm, cfg.Threshold)
	return &Engine{
		numPerm:   cfg.NumPerm,
		threshold: cfg.Threshold,
		shingleK:  cfg.ShingleSize,
		perms:     newPerms(cfg.NumPerm),
		bands:     bands,
		rows:      rows,
		hashes:    make(map[string]uuid.UUID),
		sigs:      make(map[uuid.UUID][]uint64),
		roots:     make(map[uuid.UUID]uuid.UUID),
		buckets:   make(map[uint64][]uuid.UUID),
		logger:    logger.With("component", "dedupe"),
	}
}

// CanonicalText folds text for hashing: NFKC normalization, lower case,
// punctuation stripped, whitespace collapsed to single spaces.
func CanonicalText(text string) string {
	folded := norm.NFKC.String(text)
	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range folded {
		switch {
		case unicode.IsSpace(r):
			space = true
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_':
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// ContentHash is the hex SHA-256 of the canonical text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(CanonicalText(text)))
	return hex.EncodeToString(sum[:])
}

// Check classifies the entry against everything registered so far and
// registers it (as a representative, or as a member of an existing class).
func (e *Engine) Check(entryID uuid.UUID, text string) *Result {
	canonical := CanonicalText(text)
	sum := sha256.Sum256([]byte(canonical))
	hash := hex.EncodeToString(sum[:])
	sig := e.signature(canonical)

	e.mu.Lock()
	defer e.mu.Unlock()

	res := &Result{ContentHash: hash, Signature: sig}

	if rootID, ok := e.hashes[hash]; ok {
		rootID = e.resolve(rootID)
		if less(entryID, rootID) {
			res.Displaced = &rootID
			res.Similarity = 1.0
			e.reroot(hash, rootID, entryID, sig)
			return res
		}
		res.IsExact = true
		res.DuplicateOf = &rootID
		res.Similarity = 1.0
		e.logger.Debug("exact duplicate", "entry_id", entryID, "duplicate_of", rootID)
		return res
	}

	if bestID, bestSim := e.nearest(entryID, sig); bestSim >= e.threshold {
		rootID := e.resolve(bestID)
		res.Similarity = bestSim
		if less(entryID, rootID) {
			res.Displaced = &rootID
			e.reroot(hash, rootID, entryID, sig)
			return res
		}
		res.IsNear = true
		res.DuplicateOf = &rootID
		// An exact copy of this text later belongs to the same class.
		e.hashes[hash] = rootID
		e.logger.Debug("near duplicate",
			"entry_id", entryID, "duplicate_of", rootID, "similarity", bestSim)
		return res
	}

	e.register(entryID, hash, sig)
	return res
}

// Seed registers a representative from a prior run's job row so state
// survives restarts. Rows persisted without a signature still block exact
// copies through their hash.
func (e *Engine) Seed(entryID uuid.UUID, contentHash, packedSig string) error {
	if contentHash == "" {
		return fmt.Errorf("seed %s: empty content hash", entryID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.sigs[entryID]; ok {
		return nil
	}
	if packedSig == "" {
		if _, ok := e.hashes[contentHash]; !ok {
			e.hashes[contentHash] = entryID
		}
		return nil
	}

	sig, err := UnpackSignature(packedSig)
	if err != nil {
		return fmt.Errorf("seed %s: %w", entryID, err)
	}
	if len(sig) != e.numPerm {
		return fmt.Errorf("seed %s: signature has %d values, engine uses %d", entryID, len(sig), e.numPerm)
	}
	e.register(entryID, contentHash, sig)
	return nil
}

// Stats reports registered hash and signature counts.
func (e *Engine) Stats() (hashes, signatures int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.hashes), len(e.sigs)
}

// register adds the entry as a class representative.
func (e *Engine) register(entryID uuid.UUID, hash string, sig []uint64) {
	e.hashes[hash] = entryID
	e.sigs[entryID] = sig
	for _, key := range e.bandKeys(sig) {
		e.buckets[key] = append(e.buckets[key], entryID)
	}
}

// reroot makes newID the representative of oldID's class. The old
// representative's signature stays in the index; lookups that land on it
// resolve forward to the successor.
func (e *Engine) reroot(hash string, oldID, newID uuid.UUID, sig []uint64) {
	e.roots[oldID] = newID
	e.register(newID, hash, sig)
	e.logger.Debug("duplicate class re-rooted", "old", oldID, "new", newID)
}

// resolve follows displaced representatives to the current class root.
func (e *Engine) resolve(id uuid.UUID) uuid.UUID {
	cur := id
	for {
		next, ok := e.roots[cur]
		if !ok {
			break
		}
		cur = next
	}
	if cur != id {
		e.roots[id] = cur
	}
	return cur
}

// nearest returns the registered candidate with the highest estimated
// similarity to sig among the band-bucket collisions.
func (e *Engine) nearest(entryID uuid.UUID, sig []uint64) (uuid.UUID, float64) {
	var bestID uuid.UUID
	bestSim := -1.0
	checked := make(map[uuid.UUID]struct{})
	for _, key := range e.bandKeys(sig) {
		for _, candID := range e.buckets[key] {
			if candID == entryID {
				continue
			}
			if _, ok := checked[candID]; ok {
				continue
			}
			checked[candID] = struct{}{}
			candSig, ok := e.sigs[candID]
			if !ok {
				continue
			}
			if sim := estimate(sig, candSig); sim > bestSim {
				bestID, bestSim = candID, sim
			}
		}
	}
	return bestID, bestSim
}

// less orders UUIDs by canonical string form, which matches byte order.
func less(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}
