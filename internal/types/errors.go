package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrNoResult      = errors.New("search returned no result")
	ErrNoMatch       = errors.New("no candidate matched the query")
	ErrRenderTimeout = errors.New("page never reached ready state")
	ErrNotFound      = errors.New("book not found")
	ErrProxyShortage = errors.New("not enough proxies available")
	ErrRedirectCycle = errors.New("edition redirect cycle detected")
	ErrMissingTitle  = errors.New("input row has no title")
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

// ParseError wraps errors that occur while parsing markup.
type ParseError struct {
	URL      string
	Selector string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error for %s (selector=%q): %v", e.URL, e.Selector, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StorageError wraps errors surfaced by the persistent store. Duplicate-key
// conflicts arrive here; they roll back the enclosing transaction and the
// run continues with the next item.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error in %s (key=%s): %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error in %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NoMatchError reports that a search yielded candidates but none passed the
// matcher, with enough context for manual replay.
type NoMatchError struct {
	Title  string
	Author string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no match for title %q by %q", e.Title, e.Author)
}

func (e *NoMatchError) Unwrap() error { return ErrNoMatch }
