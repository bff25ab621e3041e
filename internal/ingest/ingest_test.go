package ingest

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/mholgersen/bookgraph/internal/store"
	"github.com/mholgersen/bookgraph/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level: slog.LevelError,
}))

// fakeResolver serves canned records by identifier.
type fakeResolver struct {
	records  map[string]*types.BookRecord
	existing map[string]bool
	errs     map[string]error
	calls    int
}

func (r *fakeResolver) ResolveByIdentifier(_ context.Context, isbn string) (*types.BookRecord, types.LoadStatus, error) {
	r.calls++
	if err, ok := r.errs[isbn]; ok {
		return nil, types.LoadFailed, err
	}
	if r.existing[isbn] {
		return nil, types.LoadExisting, nil
	}
	rec, ok := r.records[isbn]
	if !ok {
		return nil, types.LoadFailed, types.ErrNoResult
	}
	return rec, types.LoadNew, nil
}

func newTestEngine(t *testing.T, r Resolver) (*Engine, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:", testLogger)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, r, testLogger), s
}

func topLevel(isbn string, rank int, recs ...string) *types.BookRecord {
	return &types.BookRecord{
		ISBN:            isbn,
		Title:           "book " + isbn,
		Authors:         []string{"author " + isbn},
		Top10k:          rank,
		Recommendations: recs,
	}
}

func TestIngestTopLevel(t *testing.T) {
	resolver := &fakeResolver{records: map[string]*types.BookRecord{
		"200": topLevel("200", 0),
		"300": topLevel("300", 0),
	}}
	e, s := newTestEngine(t, resolver)
	ctx := context.Background()

	if err := e.IngestTopLevel(ctx, topLevel("100", 1, "200", "300")); err != nil {
		t.Fatalf("IngestTopLevel() error = %v", err)
	}

	for _, isbn := range []string{"100", "200", "300"} {
		if _, err := s.FindByISBN(ctx, isbn); err != nil {
			t.Errorf("book %s not persisted: %v", isbn, err)
		}
	}
	n, err := s.CountRecommendations(ctx, "100")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("edges from 100 = %d, want 2", n)
	}
}

func TestIngestTopLevelIdempotent(t *testing.T) {
	resolver := &fakeResolver{records: map[string]*types.BookRecord{
		"200": topLevel("200", 0),
	}}
	e, s := newTestEngine(t, resolver)
	ctx := context.Background()

	rec := topLevel("100", 1, "200")
	if err := e.IngestTopLevel(ctx, rec); err != nil {
		t.Fatalf("first IngestTopLevel() error = %v", err)
	}
	if err := e.IngestTopLevel(ctx, rec); err != nil {
		t.Fatalf("second IngestTopLevel() error = %v", err)
	}

	n, err := s.CountRecommendations(ctx, "100")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("edges = %d, want 1 after re-ingestion", n)
	}
}

func TestIngestPromotesRecommendedToTopLevel(t *testing.T) {
	resolver := &fakeResolver{records: map[string]*types.BookRecord{}}
	e, s := newTestEngine(t, resolver)
	ctx := context.Background()

	// First seen as a plain node, later arrives as a ranked input row.
	if err := e.IngestBookOnly(ctx, topLevel("100", 0)); err != nil {
		t.Fatal(err)
	}
	if err := e.IngestTopLevel(ctx, topLevel("100", 5)); err != nil {
		t.Fatal(err)
	}

	b, err := s.FindByISBN(ctx, "100")
	if err != nil {
		t.Fatal(err)
	}
	if b.Top10k != 5 {
		t.Errorf("Top10k = %d, want 5 after promotion", b.Top10k)
	}
}

func TestIngestChildFailureYieldsPlaceholder(t *testing.T) {
	resolver := &fakeResolver{
		records: map[string]*types.BookRecord{"300": topLevel("300", 0)},
		errs:    map[string]error{"200": types.ErrNoResult},
	}
	e, s := newTestEngine(t, resolver)
	ctx := context.Background()

	if err := e.IngestTopLevel(ctx, topLevel("100", 1, "200", "300")); err != nil {
		t.Fatalf("IngestTopLevel() error = %v", err)
	}

	// The failed child still has a node, with sentinel fields.
	b, err := s.FindByISBN(ctx, "200")
	if err != nil {
		t.Fatalf("placeholder not persisted: %v", err)
	}
	if b.Title != types.NotAvailable {
		t.Errorf("placeholder Title = %q, want %q", b.Title, types.NotAvailable)
	}
	if b.Rating != types.RatingUnknown {
		t.Errorf("placeholder Rating = %v, want %v", b.Rating, types.RatingUnknown)
	}

	// The sibling was ingested normally despite the failure.
	if _, err := s.FindByISBN(ctx, "300"); err != nil {
		t.Errorf("sibling not persisted: %v", err)
	}
	n, _ := s.CountRecommendations(ctx, "100")
	if n != 2 {
		t.Errorf("edges = %d, want 2 (failed child still linked)", n)
	}
}

func TestIngestChildExistingLinksEdgeOnly(t *testing.T) {
	resolver := &fakeResolver{existing: map[string]bool{"200": true}}
	e, s := newTestEngine(t, resolver)
	ctx := context.Background()

	// The child node predates this run.
	if err := e.IngestBookOnly(ctx, topLevel("200", 0)); err != nil {
		t.Fatal(err)
	}
	if err := e.IngestTopLevel(ctx, topLevel("100", 1, "200")); err != nil {
		t.Fatal(err)
	}

	n, err := s.CountRecommendations(ctx, "100")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("edges = %d, want 1", n)
	}
}

func TestGrandchildEdgesOnlyForKnownNodes(t *testing.T) {
	child := topLevel("200", 0)
	child.Recommendations = []string{"300", "999"}
	resolver := &fakeResolver{records: map[string]*types.BookRecord{"200": child}}
	e, s := newTestEngine(t, resolver)
	ctx := context.Background()

	// "300" exists before the child is ingested, "999" does not.
	if err := e.IngestBookOnly(ctx, topLevel("300", 0)); err != nil {
		t.Fatal(err)
	}
	if err := e.IngestTopLevel(ctx, topLevel("100", 1, "200")); err != nil {
		t.Fatal(err)
	}

	n, err := s.CountRecommendations(ctx, "200")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("grandchild edges = %d, want 1 (unknown node skipped)", n)
	}
	if _, err := s.FindByISBN(ctx, "999"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("unknown grandchild was persisted: err = %v", err)
	}
}

func TestSelfRecommendationSkipped(t *testing.T) {
	resolver := &fakeResolver{}
	e, s := newTestEngine(t, resolver)
	ctx := context.Background()

	if err := e.IngestTopLevel(ctx, topLevel("100", 1, "100")); err != nil {
		t.Fatalf("IngestTopLevel() error = %v", err)
	}
	if resolver.calls != 0 {
		t.Errorf("self-recommendation was resolved %d times", resolver.calls)
	}
	n, _ := s.CountRecommendations(ctx, "100")
	if n != 0 {
		t.Errorf("edges = %d, want 0", n)
	}
}

func TestRefreshRecommendationsAndRating(t *testing.T) {
	e, s := newTestEngine(t, &fakeResolver{})
	ctx := context.Background()

	if err := e.IngestBookOnly(ctx, topLevel("100", 1)); err != nil {
		t.Fatal(err)
	}
	if err := e.IngestBookOnly(ctx, topLevel("200", 2)); err != nil {
		t.Fatal(err)
	}

	harvest := &types.RatingRecord{Rating: 4.2, NumOfRatings: 17, Recommendations: []string{"200"}}
	if err := e.RefreshRecommendationsAndRating(ctx, "100", harvest); err != nil {
		t.Fatalf("RefreshRecommendationsAndRating() error = %v", err)
	}

	b, err := s.FindByISBN(ctx, "100")
	if err != nil {
		t.Fatal(err)
	}
	if b.Rating != 4.2 || b.NumOfRatings != 17 {
		t.Errorf("rating = %v/%d, want 4.2/17", b.Rating, b.NumOfRatings)
	}
	if !b.ScrapedRecommendations {
		t.Error("ScrapedRecommendations not set")
	}
	n, _ := s.CountRecommendations(ctx, "100")
	if n != 1 {
		t.Errorf("edges = %d, want 1", n)
	}
}

func TestRefreshSkipsAlreadyScraped(t *testing.T) {
	e, s := newTestEngine(t, &fakeResolver{})
	ctx := context.Background()

	if err := e.IngestBookOnly(ctx, topLevel("100", 1)); err != nil {
		t.Fatal(err)
	}
	if err := e.RefreshRecommendationsAndRating(ctx, "100", &types.RatingRecord{Rating: 1}); err != nil {
		t.Fatal(err)
	}

	// A second harvest with different values must be a no-op.
	if err := e.RefreshRecommendationsAndRating(ctx, "100", &types.RatingRecord{Rating: 5}); err != nil {
		t.Fatal(err)
	}
	b, _ := s.FindByISBN(ctx, "100")
	if b.Rating != 1 {
		t.Errorf("Rating = %v, want the first harvest's 1", b.Rating)
	}
}

func TestRefreshSkipsWhenEdgesPresent(t *testing.T) {
	e, s := newTestEngine(t, &fakeResolver{})
	ctx := context.Background()

	if err := e.IngestBookOnly(ctx, topLevel("100", 1)); err != nil {
		t.Fatal(err)
	}
	if err := e.IngestBookOnly(ctx, topLevel("200", 0)); err != nil {
		t.Fatal(err)
	}
	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.LinkRecommendation("100", "200")
	})
	if err != nil {
		t.Fatal(err)
	}

	// Edges exist from the main run; the refresh must not touch the rating.
	if err := e.RefreshRecommendationsAndRating(ctx, "100", &types.RatingRecord{Rating: 5}); err != nil {
		t.Fatal(err)
	}
	b, _ := s.FindByISBN(ctx, "100")
	if b.Rating != 0 {
		t.Errorf("Rating = %v, want untouched 0", b.Rating)
	}
}
