package types

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrTimeout       = errors.New("request timed out")
	ErrMaxRetries    = errors.New("max retries exceeded")
	ErrDomainBlocked = errors.New("domain circuit open")
	ErrEmptyResponse = errors.New("empty response body")
	ErrInvalidURL    = errors.New("invalid URL")
	ErrNoText        = errors.New("no article text found")
	ErrTooShort      = errors.New("article text below minimum length")
	ErrRunNotFound   = errors.New("run not found")
	ErrTableMissing  = errors.New("dated table does not exist")
	ErrBadIdentifier = errors.New("unsafe SQL identifier")
	ErrOracleEmpty   = errors.New("oracle returned no usable summary")
)

// FetchError wraps errors that occur during fetching.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
	Retryable  bool
	RetryAfter time.Duration // populated from Retry-After header on HTTP 429
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch error for %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch error for %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) IsRetryable() bool { return e.Retryable }

// Reason maps the fetch failure onto the persisted taxonomy.
func (e *FetchError) Reason() FailureReason {
	switch {
	case errors.Is(e.Err, ErrDomainBlocked):
		return ReasonDomainBlocked
	case errors.Is(e.Err, ErrTimeout):
		return ReasonTimeout
	case errors.Is(e.Err, context.Canceled), errors.Is(e.Err, context.DeadlineExceeded):
		return ReasonCancelled
	case e.StatusCode >= 500:
		return ReasonHTTP5xx
	case e.StatusCode >= 400:
		return ReasonHTTP4xx
	default:
		return ReasonFetchError
	}
}

// ExtractError wraps extraction failures with their classified reason.
type ExtractError struct {
	URL    string
	Reason FailureReason
	Err    error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract error for %s (%s): %v", e.URL, e.Reason, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// StoreError wraps errors from the persistence layer.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error (%s): %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// OracleError wraps LLM service failures.
type OracleError struct {
	Provider   string
	StatusCode int
	Err        error
	Retryable  bool
}

func (e *OracleError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("oracle error (%s, status %d): %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("oracle error (%s): %v", e.Provider, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

func (e *OracleError) IsRetryable() bool { return e.Retryable }

// ReasonForError classifies an arbitrary pipeline error.
func ReasonForError(err error) FailureReason {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Reason()
	}
	var xe *ExtractError
	if errors.As(err, &xe) {
		return xe.Reason
	}
	var oe *OracleError
	if errors.As(err, &oe) {
		return ReasonSummarizeError
	}
	switch {
	case errors.Is(err, ErrNoText):
		return ReasonNoText
	case errors.Is(err, ErrTooShort):
		return ReasonTooShort
	case errors.Is(err, ErrTimeout):
		return ReasonTimeout
	case errors.Is(err, ErrDomainBlocked):
		return ReasonDomainBlocked
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCancelled
	}
	return ReasonUnknown
}
