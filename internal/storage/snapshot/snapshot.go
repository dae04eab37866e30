// Package snapshot implements a seen-set that is held in memory and persisted
// as one serialized document after every insert. The document lives wherever
// a Backend puts it: a local file or a cloud object.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/questwatch/internal/quest"
)

// Backend reads and writes the serialized snapshot.
type Backend interface {
	// Load returns the stored document, or nil when none exists yet.
	Load(ctx context.Context) ([]byte, error)
	// Save replaces the stored document atomically.
	Save(ctx context.Context, data []byte) error
	Close() error
}

type record struct {
	Region    string    `json:"region"`
	ID        string    `json:"id"`
	FirstSeen time.Time `json:"first_seen,omitzero"`
}

// Encode renders entries as an indented JSON array.
func Encode(entries []quest.Entry) ([]byte, error) {
	out := make([]record, len(entries))
	for i, e := range entries {
		out[i] = record{Region: e.Region, ID: e.ID, FirstSeen: e.FirstSeen.UTC()}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot document. An empty or whitespace-only document is
// an empty set. Entries written by older releases carry only a combined
// "region:id" id and are split on load.
func Decode(data []byte) ([]quest.Entry, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var raw []record
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	entries := make([]quest.Entry, 0, len(raw))
	for i, r := range raw {
		if r.Region == "" {
			key, err := quest.ParseKey(r.ID)
			if err != nil {
				return nil, fmt.Errorf("decode snapshot entry %d: %w", i, err)
			}
			r.Region, r.ID = key.Region, key.ID
		}
		if r.ID == "" {
			return nil, fmt.Errorf("decode snapshot entry %d: missing id", i)
		}
		entries = append(entries, quest.Entry{Region: r.Region, ID: r.ID, FirstSeen: r.FirstSeen})
	}
	return entries, nil
}

// Store is a quest.SeenStore persisted through a Backend.
type Store struct {
	mu      sync.Mutex
	backend Backend
	entries []quest.Entry
	index   map[quest.Key]struct{}
}

// Open loads the current snapshot from backend. A document that cannot be
// parsed is a StorageError: resetting silently would re-notify every quest.
func Open(ctx context.Context, backend Backend) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("snapshot backend is required")
	}
	data, err := backend.Load(ctx)
	if err != nil {
		return nil, &quest.StorageError{Op: "load", Err: err}
	}
	entries, err := Decode(data)
	if err != nil {
		return nil, &quest.StorageError{Op: "load", Err: err}
	}
	s := &Store{
		backend: backend,
		entries: make([]quest.Entry, 0, len(entries)),
		index:   make(map[quest.Key]struct{}, len(entries)),
	}
	for _, e := range entries {
		if _, dup := s.index[e.Key()]; dup {
			continue
		}
		s.index[e.Key()] = struct{}{}
		s.entries = append(s.entries, e)
	}
	return s, nil
}

// Contains reports whether key has been marked seen.
func (s *Store) Contains(_ context.Context, key quest.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[key]
	return ok, nil
}

// MarkSeen inserts key and persists the full snapshot. If the write fails the
// insert is rolled back so memory never runs ahead of the durable copy.
func (s *Store) MarkSeen(ctx context.Context, key quest.Key, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[key]; ok {
		return false, nil
	}
	s.index[key] = struct{}{}
	s.entries = append(s.entries, quest.Entry{Region: key.Region, ID: key.ID, FirstSeen: at})

	data, err := Encode(s.entries)
	if err == nil {
		err = s.backend.Save(ctx, data)
	}
	if err != nil {
		delete(s.index, key)
		s.entries = s.entries[:len(s.entries)-1]
		return false, &quest.StorageError{Op: "save", Err: err}
	}
	return true, nil
}

// Len returns the number of stored keys.
func (s *Store) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

// Entries returns a copy of the stored entries in insertion order.
func (s *Store) Entries() []quest.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]quest.Entry(nil), s.entries...)
}

// Close releases the backend.
func (s *Store) Close() error {
	if err := s.backend.Close(); err != nil {
		return fmt.Errorf("close snapshot backend: %w", err)
	}
	return nil
}
