package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/masx-gsgi/flashpipe/internal/config"
	"github.com/masx-gsgi/flashpipe/internal/types"
)

const browserPagePool = 4

// BrowserFetcher renders JavaScript-dependent pages with headless
// Chromium via Rod. It is the second-chance fetcher for entries the
// static pass classified as js_required, so the browser is launched
// lazily on first use.
type BrowserFetcher struct {
	cfg    *config.FetcherConfig
	logger *slog.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	pagePool chan *rod.Page
}

// NewBrowserFetcher creates a browser fetcher. No browser process is
// started until the first Fetch call.
func NewBrowserFetcher(cfg *config.Config, logger *slog.Logger) *BrowserFetcher {
	return &BrowserFetcher{
		cfg:    &cfg.Fetcher,
		logger: logger.With("component", "browser_fetcher"),
	}
}

// connect launches Chromium and attaches to it, once.
func (bf *BrowserFetcher) connect() error {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	if bf.browser != nil {
		return nil
	}

	launchURL, err := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-blink-features", "AutomationControlled").
		Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect browser: %w", err)
	}

	bf.browser = browser
	bf.pagePool = make(chan *rod.Page, browserPagePool)
	bf.logger.Info("browser fetcher ready", "max_pages", browserPagePool)
	return nil
}

// Fetch navigates to the URL and returns the rendered HTML.
func (bf *BrowserFetcher) Fetch(ctx context.Context, rawURL string) (*types.Page, error) {
	if types.HostOf(rawURL) == "" {
		return nil, &types.FetchError{URL: rawURL, Err: types.ErrInvalidURL, Retryable: false}
	}
	if err := bf.connect(); err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: false}
	}

	start := time.Now()
	page, err := bf.getPage()
	if err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: true}
	}
	defer bf.putPage(page)

	page = page.Context(ctx)
	timeout := bf.cfg.BrowserTimeout

	if ua := bf.cfg.UserAgent; ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
			bf.logger.Warn("failed to set user agent", "error", err)
		}
	}

	if err := page.Timeout(timeout).Navigate(rawURL); err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: true}
	}
	if err := page.Timeout(timeout).WaitStable(300 * time.Millisecond); err != nil {
		bf.logger.Warn("page stability timeout, continuing", "url", rawURL, "error", err)
	}

	html, err := page.HTML()
	if err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: true}
	}

	finalURL := rawURL
	if info, err := page.Info(); err == nil && info != nil {
		finalURL = info.URL
	}

	elapsed := time.Since(start)
	bf.logger.Debug("browser fetch complete",
		"url", rawURL,
		"final_url", finalURL,
		"size", len(html),
		"duration", elapsed,
	)

	return &types.Page{
		URL:        rawURL,
		FinalURL:   finalURL,
		StatusCode: 200, // Rod does not expose the document status code
		Body:       []byte(html),
		FetchedAt:  time.Now().UTC(),
		Elapsed:    elapsed,
		ViaBrowser: true,
	}, nil
}

// Close shuts down the browser and releases pooled pages.
func (bf *BrowserFetcher) Close() error {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	if bf.browser == nil {
		return nil
	}
	close(bf.pagePool)
	for page := range bf.pagePool {
		_ = page.Close()
	}
	err := bf.browser.Close()
	bf.browser = nil
	return err
}

// getPage retrieves a pooled page or creates a stealth-patched one.
func (bf *BrowserFetcher) getPage() (*rod.Page, error) {
	select {
	case page := <-bf.pagePool:
		return page, nil
	default:
		return stealth.Page(bf.browser)
	}
}

// putPage parks a page back in the pool, or closes it if the pool is full.
func (bf *BrowserFetcher) putPage(page *rod.Page) {
	_ = page.Navigate("about:blank")
	select {
	case bf.pagePool <- page:
	default:
		_ = page.Close()
	}
}
