package store

import (
	"context"
	"sort"
	"sync"

	"github.com/Sternrassler/docket-sync/pkg/record"
	"github.com/google/uuid"
)

// MemoryStore is an in-process RecordStore and CheckpointStore.
type MemoryStore struct {
	mu          sync.RWMutex
	records     map[string]record.Record
	checkpoints map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[string]record.Record),
		checkpoints: make(map[string]string),
	}
}

// FindByID implements RecordStore.
func (s *MemoryStore) FindByID(ctx context.Context, id string) (*record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Upsert implements RecordStore.
func (s *MemoryStore) Upsert(ctx context.Context, rec record.Record) (record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.ID]; ok {
		rec.StorageID = existing.StorageID
	} else {
		rec.StorageID = uuid.NewString()
	}
	if rec.History == nil {
		rec.History = []record.HistoryEntry{}
	}

	s.records[rec.ID] = rec
	return rec, nil
}

// List implements RecordStore.
func (s *MemoryStore) List(ctx context.Context) ([]record.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]record.Record, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// LoadWatermark implements CheckpointStore.
func (s *MemoryStore) LoadWatermark(ctx context.Context, target string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoints[target], nil
}

// SaveWatermark implements CheckpointStore.
func (s *MemoryStore) SaveWatermark(ctx context.Context, target, watermark string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[target] = watermark
	return nil
}
