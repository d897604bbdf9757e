package docstore

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	generation uint64
	payload    []byte
	expiresAt  time.Time
}

// MemoryStore keeps documents in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	seqs    map[string]uint64
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore builds an in-memory store. A non-positive ttl keeps documents forever.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord), seqs: make(map[string]uint64), ttl: ttl, now: time.Now}
}

func (s *MemoryStore) Reserve(_ context.Context, key string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.seqs[key] + 1
	if cur, ok := s.records[key]; ok && cur.generation >= next {
		next = cur.generation + 1
	}
	s.seqs[key] = next
	return next, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, generation uint64, payload []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if cur, ok := s.records[key]; ok && !s.expired(cur, now) && cur.generation > generation {
		return false, nil
	}
	rec := memoryRecord{generation: generation, payload: append([]byte(nil), payload...)}
	if s.ttl > 0 {
		rec.expiresAt = now.Add(s.ttl)
	}
	s.records[key] = rec
	return true, nil
}

func (s *MemoryStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	rec, ok := s.records[key]
	s.mu.RUnlock()
	if !ok || s.expired(rec, s.now()) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), rec.payload...), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *MemoryStore) expired(rec memoryRecord, now time.Time) bool {
	return !rec.expiresAt.IsZero() && now.After(rec.expiresAt)
}

var _ Store = (*MemoryStore)(nil)
