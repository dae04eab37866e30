// Package dedup decides which fetched quests are new for a region.
package dedup

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/JakeFAU/questwatch/internal/quest"
)

// Result partitions one batch.
type Result struct {
	// Accepted holds newly seen quests in input order.
	Accepted []quest.Quest
	// Rejected counts records whose key was already in the seen-set.
	Rejected int
	// Filtered counts records dropped by the reward filter. They never reach
	// the seen-set and are not duplicates.
	Filtered int
}

// Deduplicator runs the check-then-set sequence against a SeenStore. The
// driver loop and the ingest handler share one instance; its mutex is the
// only critical section over the store.
type Deduplicator struct {
	mu     sync.Mutex
	store  quest.SeenStore
	filter quest.Filter
	clock  quest.Clock
}

// New builds a Deduplicator. An empty filter allows every category.
func New(store quest.SeenStore, filter quest.Filter, clock quest.Clock) (*Deduplicator, error) {
	if store == nil {
		return nil, fmt.Errorf("seen store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if filter == "" {
		filter = quest.FilterAll
	}
	return &Deduplicator{store: store, filter: filter, clock: clock}, nil
}

// Filter returns the configured reward filter.
func (d *Deduplicator) Filter() quest.Filter { return d.filter }

// Process partitions records for region into accepted and rejected. On a
// storage failure it returns the quests accepted before the failure together
// with the error; those keys are already persisted and should still be
// delivered.
func (d *Deduplicator) Process(ctx context.Context, region string, records []quest.Quest) (Result, error) {
	region = strings.TrimSpace(region)
	if region == "" {
		return Result{}, fmt.Errorf("region is required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	res := Result{Accepted: make([]quest.Quest, 0, len(records))}
	for _, rec := range records {
		if !d.filter.Allows(rec.Category) {
			res.Filtered++
			continue
		}
		key := rec.Key(region)
		seen, err := d.store.Contains(ctx, key)
		if err != nil {
			return res, fmt.Errorf("check %s: %w", key, err)
		}
		if seen {
			res.Rejected++
			continue
		}
		inserted, err := d.store.MarkSeen(ctx, key, d.clock.Now())
		if err != nil {
			return res, fmt.Errorf("mark %s: %w", key, err)
		}
		// Another process sharing the store won the insert.
		if !inserted {
			res.Rejected++
			continue
		}
		rec.Region = region
		res.Accepted = append(res.Accepted, rec)
	}
	return res, nil
}

// Len reports the current seen-set size.
func (d *Deduplicator) Len(ctx context.Context) (int, error) {
	n, err := d.store.Len(ctx)
	if err != nil {
		return 0, fmt.Errorf("count seen-set: %w", err)
	}
	return n, nil
}
