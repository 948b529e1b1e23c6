package types

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// RunStatus tracks one orchestrated execution in processing_runs.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunPartial   RunStatus = "partial"
)

// Tier selects how much of the pipeline a run executes.
//
//	A: fetch + extract + enrich + dedupe + write-back
//	B: A + embeddings + clustering + local summaries
//	C: B + oracle summaries, title translation, premium pass
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
)

// ParseTier accepts "a", "B", etc.
func ParseTier(s string) (Tier, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return TierA, nil
	case "B":
		return TierB, nil
	case "C":
		return TierC, nil
	}
	return "", fmt.Errorf("unknown pipeline tier %q (want A, B or C)", s)
}

// HasEmbeddings reports whether the tier runs embed + cluster stages.
func (t Tier) HasEmbeddings() bool { return t == TierB || t == TierC }

// HasOracle reports whether the tier calls the LLM summarizer.
func (t Tier) HasOracle() bool { return t == TierC }

// Run is one processing_runs row.
type Run struct {
	RunID            string     `db:"run_id"`
	Status           RunStatus  `db:"status"`
	Tier             Tier       `db:"pipeline_tier"`
	TargetDate       string     `db:"target_date"`
	TotalEntries     int        `db:"total_entries"`
	ProcessedEntries int        `db:"processed_entries"`
	FailedEntries    int        `db:"failed_entries"`
	DedupeSkipped    int        `db:"dedupe_skipped"`
	ClustersCreated  int        `db:"clusters_created"`
	StartedAt        *time.Time `db:"started_at"`
	CompletedAt      *time.Time `db:"completed_at"`
	ErrorMessage     string     `db:"error_message"`
}

// NewRunID builds a lexicographically sortable run identifier encoding the
// UTC start instant, e.g. "run_20251103_142530_a1b2c3d4".
func NewRunID(now time.Time) string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("run_%s_%s", now.UTC().Format("20060102_150405"), hex.EncodeToString(b[:]))
}
