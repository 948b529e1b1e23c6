package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/masx-gsgi/flashpipe/internal/config"
	"github.com/masx-gsgi/flashpipe/internal/observability"
	"github.com/masx-gsgi/flashpipe/internal/types"
)

// HTTPFetcher implements Fetcher using net/http with bounded admission,
// per-host circuit breaking, and capped exponential retry.
type HTTPFetcher struct {
	client    *http.Client
	cfg       *config.FetcherConfig
	admission *admission
	breakers  *breakerRegistry
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewHTTPFetcher creates a new HTTP fetcher.
func NewHTTPFetcher(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (*HTTPFetcher, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: cfg.Fetcher.PerDomainConcurrency,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableCompression:  true, // We handle decompression ourselves (including brotli)
	}

	maxRedirects := cfg.Fetcher.MaxRedirects
	redirectPolicy := func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("max redirects (%d) reached", maxRedirects)
		}
		return nil
	}

	client := &http.Client{
		Transport:     transport,
		Jar:           jar,
		CheckRedirect: redirectPolicy,
		// No client-wide timeout: each attempt runs under its own context
		// deadline so retries do not share one budget.
	}

	fLogger := logger.With("component", "fetcher")
	f := &HTTPFetcher{
		client:    client,
		cfg:       &cfg.Fetcher,
		admission: newAdmission(cfg.Fetcher.MaxConcurrentFetches, cfg.Fetcher.PerDomainConcurrency),
		metrics:   metrics,
		logger:    fLogger,
	}
	f.breakers = newBreakerRegistry(cfg.Fetcher.BreakerFailures, cfg.Fetcher.BreakerCooldown, fLogger, func(string) {
		metrics.BreakerOpens.Inc()
	})
	return f, nil
}

// Fetch acquires admission slots, runs the retry loop under the host's
// circuit breaker, and applies the polite post-success delay while the
// slots are still held.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*types.Page, error) {
	host := types.HostOf(rawURL)
	if host == "" {
		return nil, &types.FetchError{URL: rawURL, Err: types.ErrInvalidURL, Retryable: false}
	}

	release, err := f.admission.acquire(ctx, host)
	if err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: false}
	}
	defer release()

	f.metrics.ActiveFetches.Inc()
	defer f.metrics.ActiveFetches.Dec()

	cb := f.breakers.get(host)
	result, err := cb.Execute(func() (any, error) {
		return f.fetchWithRetries(ctx, rawURL)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			f.metrics.FetchesTotal.WithLabelValues("blocked").Inc()
			return nil, &types.FetchError{URL: rawURL, Err: types.ErrDomainBlocked, Retryable: false}
		}
		f.metrics.FetchesTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	page := result.(*types.Page)
	f.metrics.FetchesTotal.WithLabelValues("ok").Inc()
	f.metrics.FetchDuration.Observe(page.Elapsed.Seconds())
	f.metrics.BytesDownloaded.Add(float64(len(page.Body)))

	if delay := f.cfg.RequestDelay(); delay > 0 {
		sleepCtx(ctx, RandomDelay(delay))
	}
	return page, nil
}

// fetchWithRetries retries retryable failures with capped exponential
// backoff. A 429 sleeps out its Retry-After before the next attempt.
func (f *HTTPFetcher) fetchWithRetries(ctx context.Context, rawURL string) (*types.Page, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.cfg.RetryBaseWait
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.25
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	var page *types.Page
	attempt := 0
	op := func() error {
		attempt++
		p, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			page = p
			return nil
		}

		var fe *types.FetchError
		if !errors.As(err, &fe) || !fe.Retryable {
			return backoff.Permanent(err)
		}
		if fe.RetryAfter > 0 {
			f.logger.Debug("rate limited, honoring Retry-After",
				"url", rawURL, "retry_after", fe.RetryAfter, "attempt", attempt)
			if !sleepCtx(ctx, fe.RetryAfter) {
				return backoff.Permanent(&types.FetchError{URL: rawURL, Err: ctx.Err(), Retryable: false})
			}
		}
		f.metrics.FetchesTotal.WithLabelValues("retry").Inc()
		return err
	}

	retries := uint64(0)
	if f.cfg.MaxAttempts > 1 {
		retries = uint64(f.cfg.MaxAttempts - 1)
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx))
	if err != nil {
		var fe *types.FetchError
		if errors.As(err, &fe) && fe.Retryable {
			return nil, fmt.Errorf("%w: %w", types.ErrMaxRetries, err)
		}
		return nil, err
	}
	return page, nil
}

// fetchOnce performs a single attempt under its own deadline.
func (f *HTTPFetcher) fetchOnce(ctx context.Context, rawURL string) (*types.Page, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.FetchTimeout())
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: false}
	}

	httpReq.Header.Set("User-Agent", f.cfg.UserAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", f.cfg.AcceptLanguage)
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")
	httpReq.Header.Set("Connection", "keep-alive")

	start := time.Now()
	httpResp, err := f.client.Do(httpReq)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			// The run context ended, not this attempt.
			return nil, &types.FetchError{URL: rawURL, Err: ctx.Err(), Retryable: false}
		}
		if attemptCtx.Err() == context.DeadlineExceeded {
			return nil, &types.FetchError{
				URL:       rawURL,
				Err:       fmt.Errorf("%w after %s", types.ErrTimeout, f.cfg.FetchTimeout()),
				Retryable: true,
			}
		}
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: isRetryableError(err)}
	}
	defer httpResp.Body.Close()

	f.metrics.ObserveResponse(httpResp.StatusCode)

	// 429 Too Many Requests — respect Retry-After if present
	if httpResp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(httpResp.Header.Get("Retry-After"))
		io.Copy(io.Discard, io.LimitReader(httpResp.Body, 512))
		return nil, &types.FetchError{
			URL:        rawURL,
			StatusCode: httpResp.StatusCode,
			Err:        fmt.Errorf("HTTP 429: rate limited (retry after %s)", retryAfter),
			Retryable:  true,
			RetryAfter: retryAfter,
		}
	}

	// 5xx and 408 warrant a retry; other 4xx do not.
	if httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusRequestTimeout {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1024))
		return nil, &types.FetchError{
			URL:        rawURL,
			StatusCode: httpResp.StatusCode,
			Err:        fmt.Errorf("HTTP %d: %s", httpResp.StatusCode, strings.TrimSpace(string(body))),
			Retryable:  true,
		}
	}
	if httpResp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, &types.FetchError{
			URL:        rawURL,
			StatusCode: httpResp.StatusCode,
			Err:        fmt.Errorf("HTTP %d: %s", httpResp.StatusCode, strings.TrimSpace(string(body))),
			Retryable:  false,
		}
	}

	// Read body with size limit
	var reader io.Reader = httpResp.Body
	if f.cfg.MaxBodySize > 0 {
		reader = io.LimitReader(reader, f.cfg.MaxBodySize)
	}

	// Decompress if needed (gzip, deflate, brotli)
	reader, err = decompressReader(httpResp, reader)
	if err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: false}
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: true}
	}

	page := &types.Page{
		URL:        rawURL,
		FinalURL:   httpResp.Request.URL.String(),
		StatusCode: httpResp.StatusCode,
		Body:       body,
		Header:     httpResp.Header,
		FetchedAt:  time.Now().UTC(),
		Elapsed:    elapsed,
	}

	f.logger.Debug("fetch complete",
		"url", rawURL,
		"status", page.StatusCode,
		"size", len(body),
		"duration", elapsed,
	)

	return page, nil
}

// Close releases resources.
func (f *HTTPFetcher) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// decompressReader wraps a reader with the appropriate decompressor.
// Handles gzip, deflate, and brotli (br) encodings.
func decompressReader(resp *http.Response, reader io.Reader) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

// isRetryableError checks if a network error warrants a retry.
// Covers timeouts, connection resets, unexpected EOF, and connection refused.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	// Context cancellation is NOT retryable
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	// Unexpected EOF mid-stream — retryable
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	// Network-level errors
	if netErr, ok := err.(net.Error); ok {
		if netErr.Timeout() {
			return true
		}
	}
	// Connection reset by peer, connection refused
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNRESET) ||
			errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return true
		}
	}
	return false
}

// parseRetryAfter parses the Retry-After header value.
// Supports both integer seconds and HTTP-date formats.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 5 * time.Second // default back-off
	}
	// Try seconds integer
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		if secs > 120 {
			secs = 120 // cap at 2 minutes
		}
		return time.Duration(secs) * time.Second
	}
	// Try HTTP-date
	if t, err := http.ParseTime(header); err == nil {
		d := time.Until(t)
		if d < 0 {
			return time.Second
		}
		if d > 2*time.Minute {
			return 2 * time.Minute
		}
		return d
	}
	return 5 * time.Second
}

// RandomDelay returns a random delay around the base duration (±25%).
func RandomDelay(base time.Duration) time.Duration {
	jitter := float64(base) * 0.25
	return base + time.Duration(rand.Float64()*2*jitter-jitter)
}

// sleepCtx sleeps for d unless ctx ends first. Reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
