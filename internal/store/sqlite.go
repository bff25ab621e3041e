package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mholgersen/bookgraph/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS book (
	isbn                    TEXT PRIMARY KEY,
	title                   TEXT NOT NULL,
	title_original          TEXT NOT NULL DEFAULT '',
	page_count              INTEGER NOT NULL DEFAULT 0,
	published_date          TEXT NOT NULL DEFAULT '',
	publisher               TEXT NOT NULL DEFAULT '',
	format                  TEXT NOT NULL DEFAULT '',
	num_of_ratings          INTEGER NOT NULL DEFAULT 0,
	rating                  REAL NOT NULL DEFAULT 0,
	description             TEXT NOT NULL DEFAULT '',
	url                     TEXT NOT NULL DEFAULT '',
	top10k                  INTEGER NOT NULL DEFAULT 0,
	scraped_recommendations INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_book_url    ON book(url);
CREATE INDEX IF NOT EXISTS idx_book_title  ON book(title);
CREATE INDEX IF NOT EXISTS idx_book_top10k ON book(top10k);

CREATE TABLE IF NOT EXISTS author (
	name TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS book_author (
	book_isbn   TEXT NOT NULL REFERENCES book(isbn),
	author_name TEXT NOT NULL REFERENCES author(name),
	PRIMARY KEY (book_isbn, author_name)
);

CREATE TABLE IF NOT EXISTS recommendation (
	book_isbn        TEXT NOT NULL REFERENCES book(isbn),
	recommended_isbn TEXT NOT NULL REFERENCES book(isbn),
	PRIMARY KEY (book_isbn, recommended_isbn)
);
`

const bookColumns = `isbn, title, title_original, page_count, published_date,
	publisher, format, num_of_ratings, rating, description, url, top10k,
	scraped_recommendations`

// SQLiteStore is the Store implementation on a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// the schema. WAL mode keeps concurrent partition readers from blocking the
// writer.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, &types.StorageError{Op: "open", Key: path, Err: err}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &types.StorageError{Op: "ping", Key: path, Err: err}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &types.StorageError{Op: "migrate", Key: path, Err: err}
	}

	logger.Info("graph store ready", "path", path)
	return &SQLiteStore{db: db, logger: logger.With("component", "store")}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) FindByISBN(ctx context.Context, isbn string) (*Book, error) {
	return scanBook(s.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM book WHERE isbn = ?`, isbn), isbn)
}

func (s *SQLiteStore) FindByURL(ctx context.Context, pageURL string) (*Book, error) {
	return scanBook(s.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM book WHERE url = ? LIMIT 1`, pageURL), pageURL)
}

func (s *SQLiteStore) FindByTitle(ctx context.Context, title string) (*Book, error) {
	return scanBook(s.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM book WHERE title = ? LIMIT 1`, title), title)
}

func (s *SQLiteStore) FindByRank(ctx context.Context, rank int) (*Book, error) {
	return scanBook(s.db.QueryRowContext(ctx,
		`SELECT `+bookColumns+` FROM book WHERE top10k = ? LIMIT 1`, rank),
		fmt.Sprintf("rank %d", rank))
}

func (s *SQLiteStore) TopLevelBooks(ctx context.Context) ([]*Book, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookColumns+` FROM book WHERE top10k > 0 ORDER BY top10k`)
	if err != nil {
		return nil, &types.StorageError{Op: "top_level_books", Err: err}
	}
	defer rows.Close()

	var books []*Book
	for rows.Next() {
		b, err := scanBookRow(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: "top_level_books", Err: err}
	}
	return books, nil
}

func (s *SQLiteStore) TopLevelISBNs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT isbn FROM book WHERE top10k > 0`)
	if err != nil {
		return nil, &types.StorageError{Op: "top_level_isbns", Err: err}
	}
	defer rows.Close()

	isbns := make(map[string]struct{})
	for rows.Next() {
		var isbn string
		if err := rows.Scan(&isbn); err != nil {
			return nil, &types.StorageError{Op: "top_level_isbns", Err: err}
		}
		isbns[isbn] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: "top_level_isbns", Err: err}
	}
	return isbns, nil
}

func (s *SQLiteStore) CountRecommendations(ctx context.Context, isbn string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recommendation WHERE book_isbn = ?`, isbn).Scan(&n)
	if err != nil {
		return 0, &types.StorageError{Op: "count_recommendations", Key: isbn, Err: err}
	}
	return n, nil
}

// WithTx runs fn in a transaction. The rollback is a no-op after a commit.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &types.StorageError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return &types.StorageError{Op: "commit", Err: err}
	}
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) FindByISBN(isbn string) (*Book, error) {
	return scanBook(t.tx.QueryRow(
		`SELECT `+bookColumns+` FROM book WHERE isbn = ?`, isbn), isbn)
}

func (t *sqliteTx) CreateBook(rec *types.BookRecord) error {
	_, err := t.tx.Exec(`
		INSERT INTO book (`+bookColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		rec.ISBN, rec.Title, rec.TitleOriginal, rec.PageCount,
		rec.PublishedDate, rec.Publisher, rec.Format, rec.NumOfRatings,
		rec.Rating, rec.Description, rec.URL, rec.Top10k)
	if err != nil {
		return &types.StorageError{Op: "create_book", Key: rec.ISBN, Err: err}
	}
	return nil
}

func (t *sqliteTx) LinkAuthor(isbn, author string) error {
	if _, err := t.tx.Exec(
		`INSERT OR IGNORE INTO author (name) VALUES (?)`, author); err != nil {
		return &types.StorageError{Op: "link_author", Key: author, Err: err}
	}
	if _, err := t.tx.Exec(
		`INSERT OR IGNORE INTO book_author (book_isbn, author_name) VALUES (?, ?)`,
		isbn, author); err != nil {
		return &types.StorageError{Op: "link_author", Key: isbn, Err: err}
	}
	return nil
}

func (t *sqliteTx) LinkRecommendation(fromISBN, toISBN string) error {
	_, err := t.tx.Exec(
		`INSERT OR IGNORE INTO recommendation (book_isbn, recommended_isbn) VALUES (?, ?)`,
		fromISBN, toISBN)
	if err != nil {
		return &types.StorageError{Op: "link_recommendation", Key: fromISBN, Err: err}
	}
	return nil
}

func (t *sqliteTx) UpdateRank(isbn string, rank int) error {
	return t.exec("update_rank", isbn,
		`UPDATE book SET top10k = ? WHERE isbn = ?`, rank, isbn)
}

func (t *sqliteTx) SetRating(isbn string, rating float64, numOfRatings int) error {
	return t.exec("set_rating", isbn,
		`UPDATE book SET rating = ?, num_of_ratings = ? WHERE isbn = ?`,
		rating, numOfRatings, isbn)
}

func (t *sqliteTx) MarkRecommendationsScraped(isbn string) error {
	return t.exec("mark_scraped", isbn,
		`UPDATE book SET scraped_recommendations = 1 WHERE isbn = ?`, isbn)
}

func (t *sqliteTx) CountRecommendations(isbn string) (int, error) {
	var n int
	err := t.tx.QueryRow(
		`SELECT COUNT(*) FROM recommendation WHERE book_isbn = ?`, isbn).Scan(&n)
	if err != nil {
		return 0, &types.StorageError{Op: "count_recommendations", Key: isbn, Err: err}
	}
	return n, nil
}

func (t *sqliteTx) exec(op, key, query string, args ...any) error {
	res, err := t.tx.Exec(query, args...)
	if err != nil {
		return &types.StorageError{Op: op, Key: key, Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &types.StorageError{Op: op, Key: key, Err: types.ErrNotFound}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row *sql.Row, key string) (*Book, error) {
	b, err := scanBookRow(row)
	if err != nil {
		var se *types.StorageError
		if errors.As(err, &se) {
			se.Key = key
		}
		return nil, err
	}
	return b, nil
}

func scanBookRow(row rowScanner) (*Book, error) {
	var b Book
	var scraped int
	err := row.Scan(&b.ISBN, &b.Title, &b.TitleOriginal, &b.PageCount,
		&b.PublishedDate, &b.Publisher, &b.Format, &b.NumOfRatings,
		&b.Rating, &b.Description, &b.URL, &b.Top10k, &scraped)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &types.StorageError{Op: "find", Err: types.ErrNotFound}
		}
		return nil, &types.StorageError{Op: "find", Err: err}
	}
	b.ScrapedRecommendations = scraped != 0
	return &b, nil
}
