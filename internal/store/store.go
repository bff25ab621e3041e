// Package store persists the book recommendation graph. Books are nodes
// keyed by identifier, recommendations are directed edges, authors hang off
// books through a link table.
package store

import (
	"context"

	"github.com/mholgersen/bookgraph/internal/types"
)

// Book is a persisted graph node.
type Book struct {
	ISBN          string
	Title         string
	TitleOriginal string
	PageCount     int
	PublishedDate string
	Publisher     string
	Format        string
	NumOfRatings  int
	Rating        float64
	Description   string
	URL           string

	// Top10k is the input-list rank, zero for recommended-only books.
	Top10k int

	// ScrapedRecommendations marks that the refresh pass has already
	// harvested this book's outgoing edges.
	ScrapedRecommendations bool
}

// Store is the graph store. Reads run outside transactions; all writes go
// through WithTx so each ingestion step commits or rolls back as a unit.
type Store interface {
	// FindByISBN returns the book with the given identity key, or
	// ErrNotFound.
	FindByISBN(ctx context.Context, isbn string) (*Book, error)

	// FindByURL returns the book with the given detail-page URL, or
	// ErrNotFound.
	FindByURL(ctx context.Context, pageURL string) (*Book, error)

	// FindByTitle returns the first book with the given normalized title,
	// or ErrNotFound.
	FindByTitle(ctx context.Context, title string) (*Book, error)

	// FindByRank returns the book with the given input-list rank, or
	// ErrNotFound.
	FindByRank(ctx context.Context, rank int) (*Book, error)

	// TopLevelBooks returns every ranked book ordered by rank.
	TopLevelBooks(ctx context.Context) ([]*Book, error)

	// TopLevelISBNs returns the identity keys of every ranked book.
	TopLevelISBNs(ctx context.Context) (map[string]struct{}, error)

	// CountRecommendations returns the number of outgoing edges of a book.
	CountRecommendations(ctx context.Context, isbn string) (int, error)

	// WithTx runs fn inside a transaction, committing on nil and rolling
	// back on error.
	WithTx(ctx context.Context, fn func(Tx) error) error

	// Close releases the underlying connection.
	Close() error
}

// Tx is the write surface available inside a transaction.
type Tx interface {
	// FindByISBN looks the book up within the transaction's snapshot.
	FindByISBN(isbn string) (*Book, error)

	// CreateBook inserts a new node from an extracted record.
	CreateBook(rec *types.BookRecord) error

	// LinkAuthor upserts the author row and links it to the book. Safe to
	// repeat.
	LinkAuthor(isbn, author string) error

	// LinkRecommendation records a directed edge. Safe to repeat.
	LinkRecommendation(fromISBN, toISBN string) error

	// UpdateRank sets a book's input-list rank.
	UpdateRank(isbn string, rank int) error

	// SetRating updates the rating fields of an existing book.
	SetRating(isbn string, rating float64, numOfRatings int) error

	// MarkRecommendationsScraped sets the refresh-pass completion flag.
	MarkRecommendationsScraped(isbn string) error

	// CountRecommendations returns the number of outgoing edges of a book.
	CountRecommendations(isbn string) (int, error)
}
