// Package store persists records and crawl checkpoints.
//
// Two implementations are provided: SQLiteStore for real runs and
// MemoryStore for tests and dry runs. Both assign a storage identity on first
// insert and never regenerate it.
package store

import (
	"context"
	"errors"

	"github.com/Sternrassler/docket-sync/pkg/record"
)

// ErrNotFound is returned by FindByID when no record has the given id.
var ErrNotFound = errors.New("record not found")

// RecordStore is the durable record collection keyed by record id.
type RecordStore interface {
	// FindByID returns the stored record or ErrNotFound.
	FindByID(ctx context.Context, id string) (*record.Record, error)

	// Upsert atomically replaces or inserts the record with rec.ID and
	// returns the stored state after the write.
	Upsert(ctx context.Context, rec record.Record) (record.Record, error)

	// List returns all records ordered by id.
	List(ctx context.Context) ([]record.Record, error)
}

// CheckpointStore keeps the last installed watermark per crawl target so a
// restarted run can resume from it.
type CheckpointStore interface {
	// LoadWatermark returns the saved watermark, or "" if none.
	LoadWatermark(ctx context.Context, target string) (string, error)

	SaveWatermark(ctx context.Context, target, watermark string) error
}
