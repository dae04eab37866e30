// Package memory contains an in-memory notifier that records deliveries.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/questwatch/internal/quest"
)

// Sink stores delivered quests for inspection. An optional Fail hook lets a
// caller reject specific quests.
type Sink struct {
	name string
	fail func(quest.Quest) error

	mu        sync.RWMutex
	delivered []quest.Quest
}

// New returns a recording Sink.
func New(name string) *Sink {
	return &Sink{name: name}
}

// NewFailing returns a Sink that rejects every quest for which fail returns an error.
func NewFailing(name string, fail func(quest.Quest) error) *Sink {
	return &Sink{name: name, fail: fail}
}

// Name returns the sink's display name.
func (s *Sink) Name() string { return s.name }

// Send records q, or returns a DeliveryError if the fail hook rejects it.
func (s *Sink) Send(ctx context.Context, q quest.Quest) error {
	if err := ctx.Err(); err != nil {
		return &quest.DeliveryError{Sink: s.name, QuestID: q.ID, Err: err}
	}
	if s.fail != nil {
		if err := s.fail(q); err != nil {
			return &quest.DeliveryError{Sink: s.name, QuestID: q.ID, Err: err}
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, q)
	return nil
}

// Delivered returns a copy of the recorded quests in delivery order.
func (s *Sink) Delivered() []quest.Quest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]quest.Quest, len(s.delivered))
	copy(out, s.delivered)
	return out
}

// IDs returns the ids of the recorded quests in delivery order.
func (s *Sink) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.delivered))
	for _, q := range s.delivered {
		ids = append(ids, q.ID)
	}
	return ids
}
