package fetcher

import (
	"context"
	"time"
)

// Result holds the outcome of a successful fetch.
type Result struct {
	// Body is the raw markup.
	Body []byte

	// StatusCode is the HTTP status code (200 for rendered pages).
	StatusCode int

	// FinalURL is the URL after any redirects.
	FinalURL string

	// Duration is how long the fetch took.
	Duration time.Duration
}

// Fetcher retrieves the markup at a URL. Implementations must distinguish
// success-with-body from transport failure by returning a FetchError.
type Fetcher interface {
	// Fetch retrieves the content at the given URL.
	Fetch(ctx context.Context, rawURL string) (*Result, error)

	// Close releases any resources held by the fetcher.
	Close() error

	// Type returns the fetcher type identifier.
	Type() string
}
