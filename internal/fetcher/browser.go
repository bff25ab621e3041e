package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/mholgersen/bookgraph/internal/config"
	"github.com/mholgersen/bookgraph/internal/types"
)

// BrowserFetcher implements Fetcher using a headless browser via Rod. It
// serves detail pages whose recommendation slider is rendered by script:
// a fetch succeeds only once the document is loaded and the configured
// content marker is present.
type BrowserFetcher struct {
	browser *rod.Browser
	cfg     *config.Browser
	stealth bool
	logger  *slog.Logger
}

// NewBrowserFetcher launches a headless Chromium and connects to it. The
// proxy URL, when non-nil, supplies the outbound proxy for the whole
// browser process; a partitioned run passes each partition its own.
func NewBrowserFetcher(cfg *config.Config, proxyURL *url.URL, logger *slog.Logger) (*BrowserFetcher, error) {
	l := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-blink-features", "AutomationControlled")

	if proxyURL != nil {
		l = l.Proxy(proxyURL.String())
	}

	launchURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(launchURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	bf := &BrowserFetcher{
		browser: browser,
		cfg:     &cfg.Browser,
		stealth: cfg.Browser.Stealth,
		logger:  logger.With("component", "browser_fetcher"),
	}

	bf.logger.Info("browser fetcher ready",
		"render_timeout", cfg.Browser.RenderTimeout,
		"content_marker", cfg.Browser.ContentMarker,
		"stealth", bf.stealth,
	)

	return bf, nil
}

// Fetch navigates to a URL, waits for the readiness predicate (document
// loaded and the content marker present), and returns the rendered markup.
// A page that never reaches readiness within the render timeout is reported
// as a FetchError wrapping ErrRenderTimeout.
func (bf *BrowserFetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	start := time.Now()

	page, err := bf.newPage()
	if err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: true}
	}
	defer page.Close()

	page = page.Context(ctx)
	timeout := bf.cfg.RenderTimeout

	if err := page.Timeout(timeout).Navigate(rawURL); err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: true}
	}

	if err := page.Timeout(timeout).WaitLoad(); err != nil {
		return nil, &types.FetchError{
			URL: rawURL,
			Err: fmt.Errorf("%w: %v", types.ErrRenderTimeout, err),
		}
	}

	// The recommendation slider is injected by script after load; its
	// presence is the readiness signal for a fully rendered detail page.
	if _, err := page.Timeout(timeout).Element(bf.cfg.ContentMarker); err != nil {
		return nil, &types.FetchError{
			URL: rawURL,
			Err: fmt.Errorf("%w: marker %q: %v", types.ErrRenderTimeout, bf.cfg.ContentMarker, err),
		}
	}

	html, err := page.HTML()
	if err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: true}
	}

	finalURL := rawURL
	if info, err := page.Info(); err == nil && info != nil {
		finalURL = info.URL
	}

	duration := time.Since(start)
	bf.logger.Debug("render complete",
		"url", rawURL,
		"final_url", finalURL,
		"size", len(html),
		"duration", duration,
	)

	return &Result{
		Body:       []byte(html),
		StatusCode: 200, // Rod doesn't easily expose status codes
		FinalURL:   finalURL,
		Duration:   duration,
	}, nil
}

// Close shuts down the browser and releases resources.
func (bf *BrowserFetcher) Close() error {
	if bf.browser != nil {
		return bf.browser.Close()
	}
	return nil
}

// Type returns the fetcher type identifier.
func (bf *BrowserFetcher) Type() string {
	return "browser"
}

// newPage creates a fresh page, with stealth patches when configured.
func (bf *BrowserFetcher) newPage() (*rod.Page, error) {
	if bf.stealth {
		return stealth.Page(bf.browser)
	}
	return bf.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
}
