package types

import (
	"net/http"
	"time"
)

// Page is the result of fetching one entry URL.
type Page struct {
	// URL is the requested URL.
	URL string

	// FinalURL is the URL after redirects; image and link resolution use it.
	FinalURL string

	// StatusCode is the final HTTP status.
	StatusCode int

	// Body is the decompressed response body, capped at the fetcher's limit.
	Body []byte

	// Header holds the final response headers.
	Header http.Header

	// FetchedAt is when the response completed.
	FetchedAt time.Time

	// Elapsed is the wall time spent on the successful attempt.
	Elapsed time.Duration

	// ViaBrowser marks pages rendered by the headless fallback.
	ViaBrowser bool
}
