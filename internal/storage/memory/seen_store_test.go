package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/questwatch/internal/quest"
)

func TestMarkSeenIsInsertOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSeenStore()
	key := quest.Key{Region: "en-US", ID: "1"}
	first := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	inserted, err := store.MarkSeen(ctx, key, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.MarkSeen(ctx, key, first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, inserted)

	at, ok := store.firstSeen(key)
	require.True(t, ok)
	assert.True(t, at.Equal(first), "first-seen timestamp must never be mutated")
}

func TestRegionsAreDistinctKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSeenStore()
	_, err := store.MarkSeen(ctx, quest.Key{Region: "en-US", ID: "1"}, time.Now())
	require.NoError(t, err)

	ok, err := store.Contains(ctx, quest.Key{Region: "de-DE", ID: "1"})
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConcurrentMarkSeenInsertsOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSeenStore()
	key := quest.Key{Region: "en-US", ID: "race"}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.MarkSeen(ctx, key, time.Now())
			if err == nil && ok {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, inserted)
}
