// Package ingest writes extracted records into the recommendation graph.
// Every operation is idempotent: re-ingesting a record never duplicates
// nodes or edges, so interrupted runs can simply be restarted.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mholgersen/bookgraph/internal/store"
	"github.com/mholgersen/bookgraph/internal/types"
)

// Resolver turns a recommended identifier into a full record. The loader
// status distinguishes a fresh record from one whose page URL is already
// persisted.
type Resolver interface {
	ResolveByIdentifier(ctx context.Context, isbn string) (*types.BookRecord, types.LoadStatus, error)
}

// Archiver mirrors raw records to secondary storage.
type Archiver interface {
	Save(ctx context.Context, rec *types.BookRecord) error
}

// Engine ingests records and their recommendation subtrees.
type Engine struct {
	store    store.Store
	resolver Resolver
	archive  Archiver
	delay    func()
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithArchive mirrors every ingested record to the given archive.
func WithArchive(a Archiver) Option {
	return func(e *Engine) { e.archive = a }
}

// WithDelay installs a pause run between successive child resolutions.
func WithDelay(d func()) Option {
	return func(e *Engine) { e.delay = d }
}

// New creates an ingestion engine.
func New(s store.Store, r Resolver, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:    s,
		resolver: r,
		delay:    func() {},
		logger:   logger.With("component", "ingest"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// IngestTopLevel persists a top-level record and its recommendation
// children. The node itself commits first in its own transaction; each child
// is then resolved and committed independently, so one failing child never
// poisons its siblings.
func (e *Engine) IngestTopLevel(ctx context.Context, rec *types.BookRecord) error {
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		created, err := createIfAbsent(tx, rec)
		if err != nil {
			return err
		}
		if !created && rec.Top10k != 0 {
			// The book was first seen as a recommendation; promote it.
			if err := tx.UpdateRank(rec.ISBN, rec.Top10k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.archiveRecord(ctx, rec)

	// Only ranked entries get their recommendation tree walked.
	if rec.Top10k == 0 {
		return nil
	}
	for _, childISBN := range rec.Recommendations {
		if childISBN == rec.ISBN {
			continue
		}
		if err := e.ingestChild(ctx, rec.ISBN, childISBN); err != nil {
			e.logger.Error("child ingestion failed",
				"parent", rec.ISBN,
				"child", childISBN,
				"error", err,
			)
		}
		e.delay()
	}
	return nil
}

// IngestBookOnly persists a record without touching its recommendations.
// Used by the rerun flow, which fills in books the main run missed.
func (e *Engine) IngestBookOnly(ctx context.Context, rec *types.BookRecord) error {
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		_, err := createIfAbsent(tx, rec)
		return err
	})
	if err != nil {
		return err
	}
	e.archiveRecord(ctx, rec)
	return nil
}

// RefreshRecommendationsAndRating records the refresh-pass harvest for an
// already-persisted book. Books whose edges were already scraped, or that
// already carry outgoing edges, are skipped so the pass stays restartable.
func (e *Engine) RefreshRecommendationsAndRating(ctx context.Context, isbn string, harvest *types.RatingRecord) error {
	book, err := e.store.FindByISBN(ctx, isbn)
	if err != nil {
		return err
	}
	if book.ScrapedRecommendations {
		e.logger.Info("recommendations already scraped", "isbn", isbn)
		return nil
	}
	edges, err := e.store.CountRecommendations(ctx, isbn)
	if err != nil {
		return err
	}
	if edges > 0 {
		e.logger.Info("recommendations already present", "isbn", isbn, "edges", edges)
		return nil
	}

	return e.store.WithTx(ctx, func(tx store.Tx) error {
		for _, toISBN := range harvest.Recommendations {
			if toISBN == isbn {
				continue
			}
			if err := tx.LinkRecommendation(isbn, toISBN); err != nil {
				return err
			}
		}
		if err := tx.SetRating(isbn, harvest.Rating, harvest.NumOfRatings); err != nil {
			return err
		}
		return tx.MarkRecommendationsScraped(isbn)
	})
}

// ingestChild resolves one recommended identifier and links the edge. A
// child that cannot be resolved still gets a placeholder node so the edge is
// never lost.
func (e *Engine) ingestChild(ctx context.Context, parentISBN, childISBN string) error {
	rec, status, err := e.resolver.ResolveByIdentifier(ctx, childISBN)
	if err != nil || status == types.LoadFailed {
		if err != nil {
			e.logger.Warn("child resolution failed, storing placeholder",
				"child", childISBN, "error", err)
		}
		rec = types.PlaceholderWithISBN(childISBN)
		status = types.LoadNew
	}

	if status == types.LoadExisting {
		// The node is already in the graph; only the edge is new.
		return e.store.WithTx(ctx, func(tx store.Tx) error {
			return tx.LinkRecommendation(parentISBN, childISBN)
		})
	}

	// The resolved record may carry its own identity when the lookup
	// redirected to a different edition; the edge still uses the identifier
	// the parent page advertised.
	if rec.ISBN == "" || rec.ISBN == "x" {
		rec.ISBN = childISBN
	}
	return e.ingestRecommended(ctx, parentISBN, rec)
}

// ingestRecommended persists a resolved child and its edges. Grandchild
// edges are only recorded toward books already present in the graph; the
// walk does not descend further.
func (e *Engine) ingestRecommended(ctx context.Context, parentISBN string, rec *types.BookRecord) error {
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := createIfAbsent(tx, rec); err != nil {
			return err
		}

		for _, grandISBN := range rec.Recommendations {
			if grandISBN == rec.ISBN {
				continue
			}
			if _, err := tx.FindByISBN(grandISBN); err != nil {
				if errors.Is(err, types.ErrNotFound) {
					continue
				}
				return err
			}
			if err := tx.LinkRecommendation(rec.ISBN, grandISBN); err != nil {
				return err
			}
		}

		return tx.LinkRecommendation(parentISBN, rec.ISBN)
	})
	if err != nil {
		return err
	}
	e.archiveRecord(ctx, rec)
	return nil
}

// createIfAbsent inserts the node and its author links unless the identity
// key is already present. Reports whether a row was created.
func createIfAbsent(tx store.Tx, rec *types.BookRecord) (bool, error) {
	_, err := tx.FindByISBN(rec.ISBN)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return false, err
	}

	if err := tx.CreateBook(rec); err != nil {
		return false, err
	}
	for _, author := range rec.Authors {
		if author == "" {
			continue
		}
		if err := tx.LinkAuthor(rec.ISBN, author); err != nil {
			return false, err
		}
	}
	return true, nil
}

// archiveRecord mirrors the record when an archive is configured. Archive
// failures are logged, never propagated: the graph commit already happened.
func (e *Engine) archiveRecord(ctx context.Context, rec *types.BookRecord) {
	if e.archive == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.archive.Save(saveCtx, rec); err != nil {
		e.logger.Warn("archive save failed", "isbn", rec.ISBN, "error", err)
	}
}
