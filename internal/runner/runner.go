// Package runner drives the scraping flows: the main top-list run, the
// rerun that fills in missed books, and the recommendations refresh pass.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mholgersen/bookgraph/internal/config"
	"github.com/mholgersen/bookgraph/internal/extract"
	"github.com/mholgersen/bookgraph/internal/feed"
	"github.com/mholgersen/bookgraph/internal/fetcher"
	"github.com/mholgersen/bookgraph/internal/ingest"
	"github.com/mholgersen/bookgraph/internal/loader"
	"github.com/mholgersen/bookgraph/internal/match"
	"github.com/mholgersen/bookgraph/internal/search"
	"github.com/mholgersen/bookgraph/internal/store"
	"github.com/mholgersen/bookgraph/internal/textnorm"
	"github.com/mholgersen/bookgraph/internal/types"
)

// Runner wires one partition's worth of scraping machinery. Each partition
// gets its own Runner with its own fetchers; the store may be shared.
type Runner struct {
	cfg       *config.Config
	store     store.Store
	search    *search.Client
	loader    *loader.Loader
	extractor *extract.Extractor
	ingest    *ingest.Engine
	logger    *slog.Logger
}

// New assembles a Runner. The Runner itself serves as the ingestion
// engine's resolver for recommended identifiers.
func New(cfg *config.Config, s store.Store, sc *search.Client, l *loader.Loader, ex *extract.Extractor, logger *slog.Logger, opts ...ingest.Option) *Runner {
	r := &Runner{
		cfg:       cfg,
		store:     s,
		search:    sc,
		loader:    l,
		extractor: ex,
		logger:    logger.With("component", "runner"),
	}
	opts = append(opts, ingest.WithDelay(r.pause))
	r.ingest = ingest.New(s, r, logger, opts...)
	return r
}

// Run processes the input rows in order. Every row ends as exactly one book
// node: a fully extracted record, or a placeholder when lookup, load, or
// extraction fails. Rows whose rank is already persisted are skipped, so an
// interrupted run restarts where it left off.
func (r *Runner) Run(ctx context.Context, rows []feed.Row) error {
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Printf("Processing item %d of %d\n", i+1, len(rows))

		if _, err := r.store.FindByRank(ctx, row.Rank); err == nil {
			r.logger.Debug("rank already persisted, skipping", "rank", row.Rank, "title", row.Title)
			continue
		}

		if err := r.processRow(ctx, row); err != nil {
			r.logger.Error("row failed", "rank", row.Rank, "title", row.Title, "error", err)
		}
		r.pause()
	}
	return nil
}

func (r *Runner) processRow(ctx context.Context, row feed.Row) error {
	if row.Title == "" {
		r.logger.Error("input row has no title, storing placeholder", "rank", row.Rank)
		return r.ingest.IngestTopLevel(ctx, types.PlaceholderWithTitleAuthor("", row.Author, row.Rank))
	}

	title := textnorm.Loose(row.Title)
	author := textnorm.Strict(row.Author)

	pageURL, err := r.search.FindBookURL(ctx, match.Query{Title: title, Author: author})
	if err != nil {
		r.logger.Warn("no catalog match, storing placeholder",
			"title", row.Title, "rank", row.Rank, "error", err)
		return r.ingest.IngestTopLevel(ctx, types.PlaceholderWithTitleAuthor(title, author, row.Rank))
	}

	res := r.loader.Load(ctx, pageURL)
	switch res.Status {
	case types.LoadExisting:
		// Another input row or a recommendation already covered this page;
		// only the rank is new.
		return r.promoteExisting(ctx, res.FinalURL, row.Rank)
	case types.LoadFailed:
		r.logger.Warn("page load failed, storing placeholder",
			"url", pageURL, "rank", row.Rank, "error", res.Err)
		return r.ingest.IngestTopLevel(ctx, types.PlaceholderWithTitleAuthor(title, author, row.Rank))
	}

	rec, err := r.extractor.Extract(res.Body, res.FinalURL)
	if err != nil {
		r.logger.Warn("extraction failed, storing placeholder",
			"url", res.FinalURL, "rank", row.Rank, "error", err)
		return r.ingest.IngestTopLevel(ctx, types.PlaceholderWithTitleAuthor(title, author, row.Rank))
	}

	if rec.ISBN == "" {
		rec.ISBN = strconv.Itoa(row.Rank)
	}
	rec.Top10k = row.Rank
	return r.ingest.IngestTopLevel(ctx, rec)
}

// promoteExisting sets the rank on the book already stored under the URL.
func (r *Runner) promoteExisting(ctx context.Context, pageURL string, rank int) error {
	book, err := r.store.FindByURL(ctx, pageURL)
	if err != nil {
		return err
	}
	if book.Top10k != 0 {
		return nil
	}
	return r.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.UpdateRank(book.ISBN, rank)
	})
}

// ResolveByIdentifier looks a recommended identifier up in the catalog and
// extracts its record. It backs the ingestion engine's child walk.
func (r *Runner) ResolveByIdentifier(ctx context.Context, isbn string) (*types.BookRecord, types.LoadStatus, error) {
	pageURL, err := r.search.FindBookURLByISBN(ctx, isbn)
	if err != nil {
		return nil, types.LoadFailed, err
	}

	res := r.loader.Load(ctx, pageURL)
	if res.Status == types.LoadFailed {
		return nil, types.LoadFailed, res.Err
	}
	if res.Status == types.LoadExisting {
		return nil, types.LoadExisting, nil
	}

	rec, err := r.extractor.Extract(res.Body, res.FinalURL)
	if err != nil {
		return nil, types.LoadFailed, err
	}
	if rec.ISBN == "" {
		rec.ISBN = isbn
	}
	return rec, types.LoadNew, nil
}

// RunRerun fills in input rows the main run missed, using static fetches
// and skipping recommendations entirely. Rows whose normalized title is
// already stored are skipped.
func (r *Runner) RunRerun(ctx context.Context, rows []feed.Row) error {
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Printf("Processing item %d of %d\n", i+1, len(rows))

		if row.Title == "" {
			r.logger.Error("input row has no title, skipping", "rank", row.Rank)
			continue
		}

		title := textnorm.Loose(row.Title)
		author := textnorm.Strict(row.Author)

		if _, err := r.store.FindByTitle(ctx, title); err == nil {
			r.logger.Debug("title already persisted, skipping", "title", title)
			continue
		}

		if err := r.rerunRow(ctx, row, title, author); err != nil {
			r.logger.Error("rerun row failed", "rank", row.Rank, "title", row.Title, "error", err)
		}
		r.pause()
	}
	return nil
}

func (r *Runner) rerunRow(ctx context.Context, row feed.Row, title, author string) error {
	pageURL, err := r.search.FindBookURL(ctx, match.Query{Title: title, Author: author})
	if err != nil {
		return r.ingest.IngestBookOnly(ctx, types.PlaceholderWithTitleAuthor(title, author, row.Rank))
	}

	res := r.loader.LoadStatic(ctx, pageURL)
	if res.Status == types.LoadFailed {
		return r.ingest.IngestBookOnly(ctx, types.PlaceholderWithTitleAuthor(title, author, row.Rank))
	}

	rec, err := r.extractor.Extract(res.Body, res.FinalURL)
	if err != nil {
		return r.ingest.IngestBookOnly(ctx, types.PlaceholderWithTitleAuthor(title, author, row.Rank))
	}

	if rec.ISBN == "" {
		rec.ISBN = strconv.Itoa(row.Rank)
	}
	rec.Top10k = row.Rank
	return r.ingest.IngestBookOnly(ctx, rec)
}

// RunRecommendations is the refresh pass: for every ranked book that has no
// outgoing edges yet, re-render its page and harvest rating and
// recommendations, restricted to identifiers of other ranked books.
func (r *Runner) RunRecommendations(ctx context.Context) error {
	books, err := r.store.TopLevelBooks(ctx)
	if err != nil {
		return err
	}
	known, err := r.store.TopLevelISBNs(ctx)
	if err != nil {
		return err
	}

	for i, book := range books {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Printf("Processing item %d of %d\n", i+1, len(books))

		if book.ScrapedRecommendations {
			r.logger.Debug("already harvested, skipping", "isbn", book.ISBN)
			continue
		}
		if book.URL == "" || book.URL == types.NotAvailable {
			r.logger.Debug("placeholder book, skipping", "isbn", book.ISBN)
			continue
		}

		if err := r.refreshBook(ctx, book, known); err != nil {
			r.logger.Error("refresh failed", "isbn", book.ISBN, "error", err)
		}
		r.pause()
	}
	return nil
}

func (r *Runner) refreshBook(ctx context.Context, book *store.Book, known map[string]struct{}) error {
	res := r.loader.LoadForRecommendations(ctx, book.URL)
	if res.Status == types.LoadFailed {
		return res.Err
	}

	harvest, err := r.extractor.RatingAndRecommendations(res.Body, res.FinalURL, known)
	if err != nil {
		return err
	}
	return r.ingest.RefreshRecommendationsAndRating(ctx, book.ISBN, harvest)
}

// pause sleeps a random politeness delay between requests.
func (r *Runner) pause() {
	time.Sleep(fetcher.RandomDelay(r.cfg.Engine.MinDelay, r.cfg.Engine.MaxDelay))
}

// SplitRows partitions rows into n contiguous chunks whose sizes differ by
// at most one. Fewer rows than partitions yields fewer, single-row chunks.
func SplitRows(rows []feed.Row, n int) [][]feed.Row {
	if n < 1 {
		n = 1
	}
	if n > len(rows) {
		n = len(rows)
	}
	if n == 0 {
		return nil
	}

	chunks := make([][]feed.Row, 0, n)
	size := len(rows) / n
	rem := len(rows) % n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < rem {
			end++
		}
		chunks = append(chunks, rows[start:end])
		start = end
	}
	return chunks
}
