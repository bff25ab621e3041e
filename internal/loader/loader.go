// Package loader drives the detail-page load state machine. Every load ends
// in exactly one of three states: the page is new, the page belongs to an
// already-persisted book, or the page could not be brought to a usable
// state.
package loader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mholgersen/bookgraph/internal/extract"
	"github.com/mholgersen/bookgraph/internal/fetcher"
	"github.com/mholgersen/bookgraph/internal/types"
)

// ScrapedFn reports whether a book with the given detail-page URL is already
// persisted.
type ScrapedFn func(ctx context.Context, pageURL string) (bool, error)

// Result is the terminal outcome of a load.
type Result struct {
	Status types.LoadStatus

	// Body is the rendered markup. Nil when Status is LoadFailed.
	Body []byte

	// FinalURL is the URL of the page actually settled on, after any
	// edition redirects.
	FinalURL string

	// Err carries the failure cause when Status is LoadFailed.
	Err error
}

// Loader loads detail pages to a terminal state.
type Loader struct {
	renderer     fetcher.Fetcher
	static       fetcher.Fetcher
	scraped      ScrapedFn
	maxRedirects int
	logger       *slog.Logger
}

// New creates a Loader. The renderer serves script-dependent pages, the
// static fetcher serves the no-script rerun flow.
func New(renderer, static fetcher.Fetcher, scraped ScrapedFn, maxRedirects int, logger *slog.Logger) *Loader {
	return &Loader{
		renderer:     renderer,
		static:       static,
		scraped:      scraped,
		maxRedirects: maxRedirects,
		logger:       logger.With("component", "loader"),
	}
}

// Load renders a detail page and follows edition redirects until it settles
// on the paper edition. Revisiting a URL or exceeding the redirect budget
// terminates the chain as LoadFailed. When the settled page's URL is already
// persisted the load terminates as LoadExisting, body included.
func (l *Loader) Load(ctx context.Context, pageURL string) *Result {
	visited := make(map[string]struct{})
	current := pageURL

	for hop := 0; ; hop++ {
		if hop >= l.maxRedirects {
			return l.failed(current, fmt.Errorf("edition redirects exceeded %d: %w", l.maxRedirects, types.ErrRedirectCycle))
		}
		if _, seen := visited[current]; seen {
			return l.failed(current, fmt.Errorf("revisited %s: %w", current, types.ErrRedirectCycle))
		}
		visited[current] = struct{}{}

		res, err := l.renderer.Fetch(ctx, current)
		if err != nil {
			return l.failed(current, err)
		}

		variant, err := extract.EditionVariantURL(res.Body, res.FinalURL)
		if err != nil {
			return l.failed(res.FinalURL, err)
		}
		if variant != "" {
			l.logger.Debug("following edition redirect", "from", res.FinalURL, "to", variant, "hop", hop+1)
			current = variant
			continue
		}

		// The chain has settled; only the settled URL is checked for
		// prior persistence.
		if l.scraped != nil {
			exists, err := l.scraped(ctx, res.FinalURL)
			if err != nil {
				return l.failed(res.FinalURL, err)
			}
			if exists {
				l.logger.Debug("page already persisted", "url", res.FinalURL)
				return &Result{Status: types.LoadExisting, Body: res.Body, FinalURL: res.FinalURL}
			}
		}

		return &Result{Status: types.LoadNew, Body: res.Body, FinalURL: res.FinalURL}
	}
}

// LoadStatic fetches a detail page without rendering. Used by the rerun
// flow, which needs neither the recommendation slider nor edition variants.
func (l *Loader) LoadStatic(ctx context.Context, pageURL string) *Result {
	res, err := l.static.Fetch(ctx, pageURL)
	if err != nil {
		return l.failed(pageURL, err)
	}
	return &Result{Status: types.LoadNew, Body: res.Body, FinalURL: res.FinalURL}
}

// LoadForRecommendations renders a detail page for the refresh pass. The
// book is known to be persisted, so neither the existence check nor edition
// redirects apply.
func (l *Loader) LoadForRecommendations(ctx context.Context, pageURL string) *Result {
	res, err := l.renderer.Fetch(ctx, pageURL)
	if err != nil {
		return l.failed(pageURL, err)
	}
	return &Result{Status: types.LoadNew, Body: res.Body, FinalURL: res.FinalURL}
}

func (l *Loader) failed(pageURL string, err error) *Result {
	l.logger.Warn("load failed", "url", pageURL, "error", err)
	return &Result{Status: types.LoadFailed, FinalURL: pageURL, Err: err}
}
