package dedupe

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// MinHash parameters follow the classic 32-bit setup: permuted values are
// reduced modulo the Mersenne prime 2^61-1, then truncated to 32 bits.
const (
	mersennePrime = (1 << 61) - 1
	maxHash       = (1 << 32) - 1

	// permSeed fixes the permutation parameters so signatures computed by
	// different processes (or persisted by earlier runs) stay comparable.
	permSeed = 1
)

// perm is one universal hash h(x) = (a*x + b) mod p.
type perm struct {
	a, b uint64
}

func newPerms(n int) []perm {
	rng := rand.New(rand.NewSource(permSeed))
	perms := make([]perm, n)
	for i := range perms {
		perms[i] = perm{
			a: uint64(rng.Int63n(mersennePrime-1)) + 1,
			b: uint64(rng.Int63n(mersennePrime)),
		}
	}
	return perms
}

// signature computes the MinHash signature over word k-shingles of the
// canonical text. Texts shorter than one shingle hash as a single shingle
// so distinct short texts do not all collapse to the empty signature.
func (e *Engine) signature(canonical string) []uint64 {
	sig := make([]uint64, e.numPerm)
	for i := range sig {
		sig[i] = maxHash
	}

	update := func(shingle string) {
		h := xxhash.Sum64String(shingle)
		for i, p := range e.perms {
			if v := ((p.a*h + p.b) % mersennePrime) & maxHash; v < sig[i] {
				sig[i] = v
			}
		}
	}

	words := strings.Fields(canonical)
	if len(words) < e.shingleK {
		if canonical != "" {
			update(canonical)
		}
		return sig
	}

	seen := make(map[string]struct{}, len(words))
	for i := 0; i+e.shingleK <= len(words); i++ {
		shingle := strings.Join(words[i:i+e.shingleK], " ")
		if _, ok := seen[shingle]; ok {
			continue
		}
		seen[shingle] = struct{}{}
		update(shingle)
	}
	return sig
}

// estimate is the fraction of aligned signature positions that agree, an
// unbiased estimator of Jaccard similarity.
func estimate(a, b []uint64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	eq := 0
	for i := range a {
		if a[i] == b[i] {
			eq++
		}
	}
	return float64(eq) / float64(len(a))
}

// bandingFor picks the band/row split whose LSH collision curve
// (1/bands)^(1/rows) lands closest to the similarity threshold.
func bandingFor(numPerm int, threshold float64) (bands, rows int) {
	bands, rows = numPerm, 1
	best := math.Inf(1)
	for b := 1; b <= numPerm; b++ {
		if numPerm%b != 0 {
			continue
		}
		r := numPerm / b
		curve := math.Pow(1/float64(b), 1/float64(r))
		if d := math.Abs(curve - threshold); d < best {
			best = d
			bands, rows = b, r
		}
	}
	return bands, rows
}

// bandKeys hashes each signature band (prefixed with its index) to a
// bucket key.
func (e *Engine) bandKeys(sig []uint64) []uint64 {
	keys := make([]uint64, e.bands)
	buf := make([]byte, 8*(e.rows+1))
	for b := 0; b < e.bands; b++ {
		binary.BigEndian.PutUint64(buf[0:8], uint64(b))
		for i, v := range sig[b*e.rows : (b+1)*e.rows] {
			binary.BigEndian.PutUint64(buf[(i+1)*8:(i+2)*8], v)
		}
		keys[b] = xxhash.Sum64(buf)
	}
	return keys
}

// PackSignature encodes a signature for the minhash_sig job column.
// Values fit 32 bits, so each packs to four bytes before base64.
func PackSignature(sig []uint64) string {
	buf := make([]byte, 4*len(sig))
	for i, v := range sig {
		binary.BigEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// UnpackSignature reverses PackSignature.
func UnpackSignature(packed string) ([]uint64, error) {
	buf, err := base64.StdEncoding.DecodeString(packed)
	if err != nil {
		return nil, fmt.Errorf("decode minhash signature: %w", err)
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("minhash signature has %d bytes, want a multiple of 4", len(buf))
	}
	sig := make([]uint64, len(buf)/4)
	for i := range sig {
		sig[i] = uint64(binary.BigEndian.Uint32(buf[i*4:]))
	}
	return sig, nil
}
