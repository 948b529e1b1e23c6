package fetcher

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/masx-gsgi/flashpipe/internal/config"
	"github.com/masx-gsgi/flashpipe/internal/observability"
	"github.com/masx-gsgi/flashpipe/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Fetcher.RetryBaseWait = time.Millisecond
	cfg.Fetcher.RequestDelaySeconds = 0
	cfg.Fetcher.FetchTimeoutSeconds = 5
	cfg.Fetcher.MaxAttempts = 4
	cfg.Fetcher.BreakerFailures = 3
	cfg.Fetcher.BreakerCooldown = time.Minute
	return cfg
}

func newTestFetcher(t *testing.T, cfg *config.Config) *HTTPFetcher {
	t.Helper()
	logger := testLogger()
	f, err := NewHTTPFetcher(cfg, observability.NewMetrics(logger), logger)
	if err != nil {
		t.Fatalf("NewHTTPFetcher: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestFetchSuccess(t *testing.T) {
	const body = "<html><body><p>hello world</p></body></html>"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	f := newTestFetcher(t, testConfig())
	page, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if page.StatusCode != 200 {
		t.Errorf("status = %d, want 200", page.StatusCode)
	}
	if string(page.Body) != body {
		t.Errorf("body = %q, want %q", page.Body, body)
	}
	if page.FinalURL == "" {
		t.Error("FinalURL not set")
	}
	if page.ViaBrowser {
		t.Error("ViaBrowser should be false for HTTP fetch")
	}
}

func TestFetchGzipBody(t *testing.T) {
	const body = "<html><body>compressed content here</body></html>"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		fmt.Fprint(gz, body)
		gz.Close()
	}))
	defer server.Close()

	f := newTestFetcher(t, testConfig())
	page, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(page.Body) != body {
		t.Errorf("body = %q, want %q", page.Body, body)
	}
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "upstream broken", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "recovered")
	}))
	defer server.Close()

	f := newTestFetcher(t, testConfig())
	page, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(page.Body) != "recovered" {
		t.Errorf("body = %q, want %q", page.Body, "recovered")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d requests, want 3", got)
	}
}

func TestFetchExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "always broken", http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Fetcher.MaxAttempts = 3
	f := newTestFetcher(t, cfg)

	_, err := f.Fetch(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !errors.Is(err, types.ErrMaxRetries) {
		t.Errorf("error = %v, want ErrMaxRetries in chain", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server saw %d requests, want 3", got)
	}
	if reason := types.ReasonForError(err); reason != types.ReasonHTTP5xx {
		t.Errorf("reason = %s, want %s", reason, types.ReasonHTTP5xx)
	}
}

func TestFetchClientErrorNoRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	f := newTestFetcher(t, testConfig())
	_, err := f.Fetch(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	var fe *types.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error type = %T, want *types.FetchError", err)
	}
	if fe.StatusCode != 404 {
		t.Errorf("status = %d, want 404", fe.StatusCode)
	}
	if fe.Retryable {
		t.Error("404 should not be retryable")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1", got)
	}
	if reason := types.ReasonForError(err); reason != types.ReasonHTTP4xx {
		t.Errorf("reason = %s, want %s", reason, types.ReasonHTTP4xx)
	}
}

func TestFetchRateLimitedThenRecovers(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, "ok now")
	}))
	defer server.Close()

	f := newTestFetcher(t, testConfig())
	page, err := f.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(page.Body) != "ok now" {
		t.Errorf("body = %q, want %q", page.Body, "ok now")
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("server saw %d requests, want 2", got)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Fetcher.MaxAttempts = 1
	cfg.Fetcher.BreakerFailures = 3
	f := newTestFetcher(t, cfg)

	for i := 0; i < 3; i++ {
		if _, err := f.Fetch(context.Background(), server.URL); err == nil {
			t.Fatalf("call %d: expected error", i+1)
		}
	}
	before := calls.Load()

	_, err := f.Fetch(context.Background(), server.URL)
	if !errors.Is(err, types.ErrDomainBlocked) {
		t.Fatalf("error = %v, want ErrDomainBlocked", err)
	}
	if got := calls.Load(); got != before {
		t.Errorf("breaker open but server saw %d more requests", got-before)
	}
	if reason := types.ReasonForError(err); reason != types.ReasonDomainBlocked {
		t.Errorf("reason = %s, want %s", reason, types.ReasonDomainBlocked)
	}
}

func TestPerHostConcurrencyCap(t *testing.T) {
	var active, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := active.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		active.Add(-1)
		fmt.Fprint(w, "done")
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Fetcher.PerDomainConcurrency = 2
	f := newTestFetcher(t, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.Fetch(context.Background(), server.URL); err != nil {
				t.Errorf("Fetch: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrent requests = %d, want <= 2", got)
	}
}

func TestGlobalAdmissionCap(t *testing.T) {
	adm := newAdmission(2, 10)
	ctx := context.Background()

	rel1, err := adm.acquire(ctx, "a.example.com")
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	rel2, err := adm.acquire(ctx, "b.example.com")
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := adm.acquire(blocked, "c.example.com"); err == nil {
		t.Fatal("third acquire should block until a slot frees")
	}

	rel1()
	rel3, err := adm.acquire(ctx, "c.example.com")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	rel3()
	rel2()
}

func TestFetchInvalidURL(t *testing.T) {
	f := newTestFetcher(t, testConfig())
	_, err := f.Fetch(context.Background(), "://missing-scheme")
	if !errors.Is(err, types.ErrInvalidURL) {
		t.Errorf("error = %v, want ErrInvalidURL", err)
	}
}

func TestFetchContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer server.Close()

	f := newTestFetcher(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := f.Fetch(ctx, server.URL)
	if err == nil {
		t.Fatal("expected error after context cancellation")
	}
	if reason := types.ReasonForError(err); reason != types.ReasonCancelled {
		t.Errorf("reason = %s, want %s", reason, types.ReasonCancelled)
	}
}

func TestParseRetryAfter(t *testing.T) {
	cases := []struct {
		header string
		want   time.Duration
	}{
		{"30", 30 * time.Second},
		{"0", 0},
		{"600", 120 * time.Second}, // capped at 2 minutes
		{"", 5 * time.Second},
		{"not-a-number", 5 * time.Second},
	}
	for _, tc := range cases {
		if got := parseRetryAfter(tc.header); got != tc.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tc.header, got, tc.want)
		}
	}

	// HTTP-date in the near future
	future := time.Now().Add(10 * time.Second).UTC().Format(http.TimeFormat)
	got := parseRetryAfter(future)
	if got <= 0 || got > 11*time.Second {
		t.Errorf("parseRetryAfter(date) = %v, want ~10s", got)
	}
}

func TestRandomDelayJitter(t *testing.T) {
	base := time.Second
	for i := 0; i < 100; i++ {
		d := RandomDelay(base)
		if d < 750*time.Millisecond || d > 1250*time.Millisecond {
			t.Fatalf("RandomDelay(%v) = %v, outside +/-25%%", base, d)
		}
	}
}

func TestIsRetryableError(t *testing.T) {
	if isRetryableError(context.Canceled) {
		t.Error("context.Canceled should not be retryable")
	}
	if isRetryableError(context.DeadlineExceeded) {
		t.Error("context.DeadlineExceeded should not be retryable")
	}
	if !isRetryableError(io.ErrUnexpectedEOF) {
		t.Error("unexpected EOF should be retryable")
	}
	if isRetryableError(nil) {
		t.Error("nil should not be retryable")
	}
}
