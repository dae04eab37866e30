// Package memory keeps the seen-set in process memory; it resets on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/questwatch/internal/quest"
)

// SeenStore is a map-backed quest.SeenStore.
type SeenStore struct {
	mu   sync.RWMutex
	seen map[quest.Key]time.Time
}

// NewSeenStore creates an empty in-memory seen-set.
func NewSeenStore() *SeenStore {
	return &SeenStore{seen: make(map[quest.Key]time.Time)}
}

// Contains reports whether key has been marked seen.
func (s *SeenStore) Contains(_ context.Context, key quest.Key) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[key]
	return ok, nil
}

// MarkSeen records key with its first-seen time; existing keys are untouched.
func (s *SeenStore) MarkSeen(_ context.Context, key quest.Key, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = at
	return true, nil
}

// Len returns the number of stored keys.
func (s *SeenStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen), nil
}

// firstSeen returns when key was first recorded.
func (s *SeenStore) firstSeen(key quest.Key) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.seen[key]
	return at, ok
}

// Close is a no-op.
func (s *SeenStore) Close() error { return nil }
