package healing

import (
	"context"
	"sync"
	"time"
)

// Store persists strategy records across restarts.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Load returns (nil, nil) for an unknown signature.
//   - Save replaces the stored record for the signature.
//   - Prune deletes records last seen before cutoff with fewer than
//     minAttempts attempts in total, and returns how many were removed.
type Store interface {
	Load(ctx context.Context, sig Signature) (*Record, error)
	Save(ctx context.Context, rec *Record) error
	List(ctx context.Context) ([]*Record, error)
	Prune(ctx context.Context, cutoff time.Time, minAttempts int) (int, error)
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Signature]*Record
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[Signature]*Record)}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, sig Signature) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[sig]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, rec *Record) error {
	if rec == nil {
		return nil
	}
	s.mu.Lock()
	s.records[rec.Signature] = rec.Clone()
	s.mu.Unlock()
	return nil
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

// Prune implements Store.
func (s *MemoryStore) Prune(_ context.Context, cutoff time.Time, minAttempts int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for sig, rec := range s.records {
		if prunable(rec, cutoff, minAttempts) {
			delete(s.records, sig)
			n++
		}
	}
	return n, nil
}

func prunable(rec *Record, cutoff time.Time, minAttempts int) bool {
	return rec.LastSeen.Before(cutoff) && rec.Attempts() < minAttempts
}
