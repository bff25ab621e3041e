package store

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/mholgersen/bookgraph/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level: slog.LevelError,
}))

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:", testLogger)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustCreate(t *testing.T, s *SQLiteStore, rec *types.BookRecord, authors ...string) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx Tx) error {
		if err := tx.CreateBook(rec); err != nil {
			return err
		}
		for _, a := range authors {
			if err := tx.LinkAuthor(rec.ISBN, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("create %s: %v", rec.ISBN, err)
	}
}

func TestCreateAndFind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, &types.BookRecord{
		ISBN:          "9788702121212",
		Title:         "stormfulde hoejder",
		TitleOriginal: "Stormfulde Højder",
		PageCount:     416,
		Rating:        4.5,
		NumOfRatings:  123,
		URL:           "https://shop.test/dk/sh",
		Top10k:        7,
	}, "emily bronte")

	byISBN, err := s.FindByISBN(ctx, "9788702121212")
	if err != nil {
		t.Fatalf("FindByISBN() error = %v", err)
	}
	if byISBN.Title != "stormfulde hoejder" || byISBN.Top10k != 7 {
		t.Errorf("unexpected book: %+v", byISBN)
	}
	if byISBN.ScrapedRecommendations {
		t.Error("ScrapedRecommendations should default to false")
	}

	if _, err := s.FindByURL(ctx, "https://shop.test/dk/sh"); err != nil {
		t.Errorf("FindByURL() error = %v", err)
	}
	if _, err := s.FindByTitle(ctx, "stormfulde hoejder"); err != nil {
		t.Errorf("FindByTitle() error = %v", err)
	}
	if _, err := s.FindByRank(ctx, 7); err != nil {
		t.Errorf("FindByRank() error = %v", err)
	}

	if _, err := s.FindByISBN(ctx, "missing"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("FindByISBN(missing) error = %v, want ErrNotFound", err)
	}
}

func TestDuplicateCreateFails(t *testing.T) {
	s := newTestStore(t)
	rec := &types.BookRecord{ISBN: "1", Title: "a"}
	mustCreate(t, s, rec)

	err := s.WithTx(context.Background(), func(tx Tx) error {
		return tx.CreateBook(rec)
	})
	if err == nil {
		t.Fatal("duplicate CreateBook succeeded, want primary key violation")
	}
}

func TestLinkAuthorIdempotent(t *testing.T) {
	s := newTestStore(t)
	mustCreate(t, s, &types.BookRecord{ISBN: "1", Title: "a"})

	err := s.WithTx(context.Background(), func(tx Tx) error {
		for i := 0; i < 3; i++ {
			if err := tx.LinkAuthor("1", "emily bronte"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("repeated LinkAuthor() error = %v", err)
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM book_author`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("book_author rows = %d, want 1", n)
	}
}

func TestLinkRecommendationIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, &types.BookRecord{ISBN: "1", Title: "a"})
	mustCreate(t, s, &types.BookRecord{ISBN: "2", Title: "b"})

	err := s.WithTx(ctx, func(tx Tx) error {
		for i := 0; i < 3; i++ {
			if err := tx.LinkRecommendation("1", "2"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("repeated LinkRecommendation() error = %v", err)
	}

	n, err := s.CountRecommendations(ctx, "1")
	if err != nil {
		t.Fatalf("CountRecommendations() error = %v", err)
	}
	if n != 1 {
		t.Errorf("edges = %d, want 1", n)
	}
}

func TestUpdatesRequireExistingRow(t *testing.T) {
	s := newTestStore(t)

	err := s.WithTx(context.Background(), func(tx Tx) error {
		return tx.UpdateRank("missing", 3)
	})
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("UpdateRank(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSetRatingAndMarkScraped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustCreate(t, s, &types.BookRecord{ISBN: "1", Title: "a"})

	err := s.WithTx(ctx, func(tx Tx) error {
		if err := tx.SetRating("1", 3.8, 42); err != nil {
			return err
		}
		return tx.MarkRecommendationsScraped("1")
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}

	b, err := s.FindByISBN(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	if b.Rating != 3.8 || b.NumOfRatings != 42 {
		t.Errorf("rating = %v/%d, want 3.8/42", b.Rating, b.NumOfRatings)
	}
	if !b.ScrapedRecommendations {
		t.Error("ScrapedRecommendations not set")
	}
}

func TestRollbackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wantErr := errors.New("boom")
	err := s.WithTx(ctx, func(tx Tx) error {
		if err := tx.CreateBook(&types.BookRecord{ISBN: "1", Title: "a"}); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithTx() error = %v, want boom", err)
	}

	if _, err := s.FindByISBN(ctx, "1"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("book persisted despite rollback: err = %v", err)
	}
}

func TestTopLevelOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, s, &types.BookRecord{ISBN: "30", Title: "c", Top10k: 3})
	mustCreate(t, s, &types.BookRecord{ISBN: "10", Title: "a", Top10k: 1})
	mustCreate(t, s, &types.BookRecord{ISBN: "99", Title: "rec only"})
	mustCreate(t, s, &types.BookRecord{ISBN: "20", Title: "b", Top10k: 2})

	books, err := s.TopLevelBooks(ctx)
	if err != nil {
		t.Fatalf("TopLevelBooks() error = %v", err)
	}
	if len(books) != 3 {
		t.Fatalf("got %d top-level books, want 3", len(books))
	}
	for i, want := range []string{"10", "20", "30"} {
		if books[i].ISBN != want {
			t.Errorf("books[%d].ISBN = %q, want %q", i, books[i].ISBN, want)
		}
	}

	isbns, err := s.TopLevelISBNs(ctx)
	if err != nil {
		t.Fatalf("TopLevelISBNs() error = %v", err)
	}
	if len(isbns) != 3 {
		t.Errorf("got %d top-level isbns, want 3", len(isbns))
	}
	if _, ok := isbns["99"]; ok {
		t.Error("recommended-only book reported as top-level")
	}
}
