package storage

import (
	"sync"
	"time"

	"ddosguard/pkg/models"
)

// MemoryStore is an in-process BlockStore used when persistence is disabled
// and in tests.
type MemoryStore struct {
	mu     sync.Mutex
	blocks map[string]models.BlockRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blocks: make(map[string]models.BlockRecord)}
}

// Upsert writes the block record keyed by source id.
func (s *MemoryStore) Upsert(rec *models.BlockRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[rec.SourceID] = *rec
	return nil
}

// Get returns the block record for the source, or nil if absent.
func (s *MemoryStore) Get(sourceID string) (*models.BlockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.blocks[sourceID]
	if !ok {
		return nil, nil
	}
	out := rec
	return &out, nil
}

// ListActive returns all block records still active at the given time.
func (s *MemoryStore) ListActive(now time.Time) ([]*models.BlockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.BlockRecord, 0, len(s.blocks))
	for _, rec := range s.blocks {
		if rec.Active(now) {
			r := rec
			out = append(out, &r)
		}
	}
	return out, nil
}

// Delete removes the block record for the source.
func (s *MemoryStore) Delete(sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, sourceID)
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks)
}
