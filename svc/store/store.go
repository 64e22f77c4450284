package store

import (
	"context"
	"io"
	"time"

	"stashbin/pkg/domain"
)

// ContentStore holds the raw paste bytes, keyed by paste ID. Implementations
// must provide per-key atomicity: a Get racing a Delete observes either the
// whole blob or nothing.
type ContentStore interface {
	// Put streams at most n bytes from r into storage. An existing blob
	// under the same id is overwritten silently; callers prevent that by
	// checking for collisions before generating a Put.
	Put(ctx context.Context, id string, r io.Reader, n int64) error
	Get(ctx context.Context, id string) ([]byte, error)
	// Delete reports whether a blob was removed. Deleting a missing blob
	// is a no-op, never an error.
	Delete(ctx context.Context, id string) (bool, error)
	Exists(ctx context.Context, id string) (bool, error)
	// List enumerates every stored blob with its modification time. The
	// sweeper uses it to age out content whose metadata is gone.
	List(ctx context.Context) ([]ContentInfo, error)
}

// ContentInfo describes one stored blob.
type ContentInfo struct {
	ID      string
	ModTime time.Time
}

// MetadataStore holds per-paste bookkeeping, keyed by paste ID.
type MetadataStore interface {
	// Create inserts a new record. A duplicate primary key fails with
	// domain.ErrConflict.
	Create(ctx context.Context, rec *domain.PasteRecord) error
	FindByID(ctx context.Context, id string) (*domain.PasteRecord, error)
	// DeleteByID matches on exact primary-key equality only and reports
	// whether a row was removed. Idempotent.
	DeleteByID(ctx context.Context, id string) (bool, error)
	// List streams every record without materializing the table. Each
	// call starts a fresh scan.
	List(ctx context.Context) (RecordIterator, error)
}

// RecordIterator walks a metadata scan in the database/sql.Rows style:
// Next, then Record, then Err after the loop.
type RecordIterator interface {
	Next() bool
	Record() *domain.PasteRecord
	Err() error
	Close() error
}
