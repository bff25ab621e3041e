package store

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/mholgersen/bookgraph/internal/config"
	"github.com/mholgersen/bookgraph/internal/types"
)

// ArchiveStore mirrors raw extracted records to MongoDB. The relational
// graph store remains the source of truth; the archive keeps the full
// record, recommendations included, for later reprocessing.
type ArchiveStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger
}

// NewArchiveStore connects to MongoDB and verifies the connection.
func NewArchiveStore(ctx context.Context, cfg *config.Archive, logger *slog.Logger) (*ArchiveStore, error) {
	opts := options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, &types.StorageError{Op: "archive_connect", Err: err}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		return nil, &types.StorageError{Op: "archive_ping", Err: err}
	}

	logger.Info("archive store connected", "database", cfg.Database, "collection", cfg.Collection)
	return &ArchiveStore{
		client: client,
		coll:   client.Database(cfg.Database).Collection(cfg.Collection),
		logger: logger.With("component", "archive"),
	}, nil
}

// Save writes one raw record. Archive failures are reported but callers
// treat them as non-fatal; the graph write has already committed.
func (a *ArchiveStore) Save(ctx context.Context, rec *types.BookRecord) error {
	doc := bson.M{
		"isbn":            rec.ISBN,
		"title":           rec.Title,
		"title_original":  rec.TitleOriginal,
		"authors":         rec.Authors,
		"page_count":      rec.PageCount,
		"published_date":  rec.PublishedDate,
		"publisher":       rec.Publisher,
		"format":          rec.Format,
		"num_of_ratings":  rec.NumOfRatings,
		"rating":          rec.Rating,
		"description":     rec.Description,
		"recommendations": rec.Recommendations,
		"url":             rec.URL,
		"top10k":          rec.Top10k,
		"archived_at":     time.Now().UTC(),
	}

	if _, err := a.coll.InsertOne(ctx, doc); err != nil {
		return &types.StorageError{Op: "archive_save", Key: rec.ISBN, Err: err}
	}
	return nil
}

// Close disconnects from MongoDB.
func (a *ArchiveStore) Close(ctx context.Context) error {
	return a.client.Disconnect(ctx)
}
