package archive

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultInMemoryLimit = 256

// InMemoryStore keeps the most recent archived transcripts, up to a fixed
// limit. Older records are dropped first.
type InMemoryStore struct {
	mu      sync.RWMutex
	limit   int
	records []Record
}

// NewInMemoryStore returns a store holding at most limit records; limit <= 0
// selects the default.
func NewInMemoryStore(limit int) *InMemoryStore {
	if limit <= 0 {
		limit = defaultInMemoryLimit
	}
	return &InMemoryStore{limit: limit}
}

func (s *InMemoryStore) Save(_ context.Context, record Record) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.EndedAt.IsZero() {
		record.EndedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	if over := len(s.records) - s.limit; over > 0 {
		s.records = append(s.records[:0:0], s.records[over:]...)
	}
	return nil
}

// Records returns archived transcripts in save order.
func (s *InMemoryStore) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

func (s *InMemoryStore) Close() error { return nil }
