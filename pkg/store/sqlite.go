package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/docket-sync/pkg/record"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const timeLayout = time.RFC3339Nano

// SQLiteStore is a RecordStore and CheckpointStore backed by SQLite.
// Structured record fields are stored as JSON columns.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps :memory: databases shared and serializes writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: log.With().Str("component", "store").Str("path", path).Logger(),
	}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const selectRecord = `SELECT storage_id, id, type, attributes, links, relationships, history, last_scanned FROM records`

// FindByID implements RecordStore.
func (s *SQLiteStore) FindByID(ctx context.Context, id string) (*record.Record, error) {
	return findByID(ctx, s.db, id)
}

func findByID(ctx context.Context, q queryer, id string) (*record.Record, error) {
	rec, err := scanRecord(q.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find record %s: %w", id, err)
	}
	return rec, nil
}

// Upsert implements RecordStore. The storage id of an existing row is kept.
func (s *SQLiteStore) Upsert(ctx context.Context, rec record.Record) (record.Record, error) {
	cols, err := encodeColumns(rec)
	if err != nil {
		return record.Record{}, fmt.Errorf("encode record %s: %w", rec.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return record.Record{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (storage_id, id, type, attributes, links, relationships, history, last_scanned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			attributes = excluded.attributes,
			links = excluded.links,
			relationships = excluded.relationships,
			history = excluded.history,
			last_scanned = excluded.last_scanned`,
		uuid.NewString(), rec.ID, rec.Type,
		cols.attributes, cols.links, cols.relationships, cols.history,
		rec.LastScanned.UTC().Format(timeLayout),
	)
	if err != nil {
		return record.Record{}, fmt.Errorf("upsert record %s: %w", rec.ID, err)
	}

	stored, err := findByID(ctx, tx, rec.ID)
	if err != nil {
		return record.Record{}, err
	}

	if err := tx.Commit(); err != nil {
		return record.Record{}, fmt.Errorf("commit record %s: %w", rec.ID, err)
	}

	s.logger.Debug().
		Str("id", stored.ID).
		Str("storage_id", stored.StorageID).
		Int("history", len(stored.History)).
		Msg("Record stored")

	return *stored, nil
}

// List implements RecordStore.
func (s *SQLiteStore) List(ctx context.Context) ([]record.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecord+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []record.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

// LoadWatermark implements CheckpointStore.
func (s *SQLiteStore) LoadWatermark(ctx context.Context, target string) (string, error) {
	var watermark string
	err := s.db.QueryRowContext(ctx, `SELECT watermark FROM checkpoints WHERE target = ?`, target).Scan(&watermark)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load watermark %s: %w", target, err)
	}
	return watermark, nil
}

// SaveWatermark implements CheckpointStore.
func (s *SQLiteStore) SaveWatermark(ctx context.Context, target, watermark string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (target, watermark, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(target) DO UPDATE SET watermark = excluded.watermark, updated_at = excluded.updated_at`,
		target, watermark, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save watermark %s: %w", target, err)
	}
	return nil
}

type columns struct {
	attributes    string
	links         string
	relationships string
	history       string
}

func encodeColumns(rec record.Record) (columns, error) {
	var cols columns
	var err error

	if cols.attributes, err = encodeJSON(orEmpty(rec.Attributes)); err != nil {
		return cols, fmt.Errorf("attributes: %w", err)
	}
	if cols.links, err = encodeJSON(orEmpty(rec.Links)); err != nil {
		return cols, fmt.Errorf("links: %w", err)
	}
	if cols.relationships, err = encodeJSON(orEmpty(rec.Relationships)); err != nil {
		return cols, fmt.Errorf("relationships: %w", err)
	}

	history := rec.History
	if history == nil {
		history = []record.HistoryEntry{}
	}
	if cols.history, err = encodeJSON(history); err != nil {
		return cols, fmt.Errorf("history: %w", err)
	}
	return cols, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*record.Record, error) {
	var (
		rec                                           record.Record
		attributes, links, relationships, history, ts string
	)
	if err := row.Scan(&rec.StorageID, &rec.ID, &rec.Type, &attributes, &links, &relationships, &history, &ts); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(attributes), &rec.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(links), &rec.Links); err != nil {
		return nil, fmt.Errorf("decode links of %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(relationships), &rec.Relationships); err != nil {
		return nil, fmt.Errorf("decode relationships of %s: %w", rec.ID, err)
	}
	if len(rec.Relationships) == 0 {
		rec.Relationships = nil
	}
	if err := json.Unmarshal([]byte(history), &rec.History); err != nil {
		return nil, fmt.Errorf("decode history of %s: %w", rec.ID, err)
	}

	scanned, err := time.Parse(timeLayout, ts)
	if err != nil {
		return nil, fmt.Errorf("decode last_scanned of %s: %w", rec.ID, err)
	}
	rec.LastScanned = scanned
	return &rec, nil
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
