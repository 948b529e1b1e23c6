package types

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the per-entry state machine, persisted after every
// transition. Values match the job_status enum in the sidecar schema.
type JobStatus string

const (
	JobQueued           JobStatus = "queued"
	JobFetching         JobStatus = "fetching"
	JobExtracted        JobStatus = "extracted"
	JobDeduped          JobStatus = "deduped"
	JobEmbedded         JobStatus = "embedded"
	JobClustered        JobStatus = "clustered"
	JobSummarized       JobStatus = "summarized"
	JobScored           JobStatus = "scored"
	JobFailed           JobStatus = "failed"
	JobSkippedDuplicate JobStatus = "skipped_duplicate"
)

// jobOrder gives the forward position of each non-terminal status.
var jobOrder = map[JobStatus]int{
	JobQueued:     0,
	JobFetching:   1,
	JobExtracted:  2,
	JobDeduped:    3,
	JobEmbedded:   4,
	JobClustered:  5,
	JobSummarized: 6,
	JobScored:     7,
}

// CanAdvanceTo reports whether next is a legal transition from s.
// Any state may fail; SKIPPED_DUPLICATE branches at the dedupe verdict
// (the write collapsing it may come from EXTRACTED); otherwise only
// forward movement along the stage order is allowed.
func (s JobStatus) CanAdvanceTo(next JobStatus) bool {
	if s == JobFailed || s == JobSkippedDuplicate || s == JobScored {
		return false
	}
	if next == JobFailed {
		return true
	}
	if next == JobSkippedDuplicate {
		return s == JobExtracted || s == JobDeduped
	}
	from, ok := jobOrder[s]
	if !ok {
		return false
	}
	to, ok := jobOrder[next]
	if !ok {
		return false
	}
	return to > from
}

// Terminal reports whether the status ends the job's lifecycle.
func (s JobStatus) Terminal() bool {
	return s == JobFailed || s == JobSkippedDuplicate || s == JobScored
}

// FailureReason classifies why a job (or a run) failed.
type FailureReason string

const (
	ReasonFetchError     FailureReason = "fetch_error"
	ReasonTimeout        FailureReason = "timeout"
	ReasonHTTP4xx        FailureReason = "http_4xx"
	ReasonHTTP5xx        FailureReason = "http_5xx"
	ReasonDomainBlocked  FailureReason = "domain_blocked"
	ReasonNoText         FailureReason = "no_text"
	ReasonTooShort       FailureReason = "too_short"
	ReasonPaywall        FailureReason = "paywall"
	ReasonJSRequired     FailureReason = "js_required"
	ReasonConsentWall    FailureReason = "consent_wall"
	ReasonParseError     FailureReason = "parse_error"
	ReasonEmbedError     FailureReason = "embed_error"
	ReasonClusterError   FailureReason = "cluster_error"
	ReasonSummarizeError FailureReason = "summarize_error"
	ReasonCancelled      FailureReason = "cancelled"
	ReasonUnknown        FailureReason = "unknown"
)

// Job is one (entry, run) row in feed_entry_jobs.
type Job struct {
	FeedEntryID      uuid.UUID     `db:"feed_entry_id"`
	RunID            string        `db:"run_id"`
	Status           JobStatus     `db:"status"`
	Attempts         int           `db:"attempts"`
	LastError        string        `db:"last_error"`
	FailureReason    FailureReason `db:"failure_reason"`
	ExtractionMethod string        `db:"extraction_method"`
	ExtractionChars  int           `db:"extraction_chars"`
	ContentHash      string        `db:"content_hash"`
	MinhashSig       string        `db:"minhash_sig"`
	IsDuplicate      bool          `db:"is_duplicate"`
	DuplicateOf      *uuid.UUID    `db:"duplicate_of"`
	FetchDurationMS  int           `db:"fetch_duration_ms"`
	ExtractDurMS     int           `db:"extract_duration_ms"`
	EmbedDurationMS  int           `db:"embed_duration_ms"`
	CreatedAt        time.Time     `db:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at"`
}
