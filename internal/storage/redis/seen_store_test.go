package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/questwatch/internal/quest"
)

// fakeClient emulates the three hash commands against a map.
type fakeClient struct {
	mu     sync.Mutex
	hashes map[string]map[string]any
	err    error
	closed bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{hashes: make(map[string]map[string]any)}
}

func (f *fakeClient) HSetNX(_ context.Context, key, field string, value any) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]any)
		f.hashes[key] = h
	}
	if _, exists := h[field]; exists {
		return redis.NewBoolResult(false, nil)
	}
	h[field] = value
	return redis.NewBoolResult(true, nil)
}

func (f *fakeClient) HExists(_ context.Context, key, field string) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewBoolResult(false, f.err)
	}
	_, ok := f.hashes[key][field]
	return redis.NewBoolResult(ok, nil)
}

func (f *fakeClient) HLen(_ context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	return redis.NewIntResult(int64(len(f.hashes[key])), nil)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestMarkSeenUsesCompositeField(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fake := newFakeClient()
	store, err := NewWithClient(fake, "")
	require.NoError(t, err)

	at := time.Unix(1700000000, 0)
	inserted, err := store.MarkSeen(ctx, quest.Key{Region: "en-US", ID: "1"}, at)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, int64(1700000000), fake.hashes["questwatch:seen"]["en-US:1"])

	inserted, err = store.MarkSeen(ctx, quest.Key{Region: "en-US", ID: "1"}, at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, int64(1700000000), fake.hashes["questwatch:seen"]["en-US:1"])

	ok, err := store.Contains(ctx, quest.Key{Region: "pl-PL", ID: "1"})
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, store.Close())
	assert.True(t, fake.closed)
}

func TestErrorsAreStorageErrors(t *testing.T) {
	t.Parallel()

	fake := newFakeClient()
	fake.err = errors.New("connection refused")
	store, err := NewWithClient(fake, "seen")
	require.NoError(t, err)

	_, err = store.Contains(context.Background(), quest.Key{Region: "en-US", ID: "1"})
	assert.True(t, quest.IsFatal(err))
	_, err = store.MarkSeen(context.Background(), quest.Key{Region: "en-US", ID: "1"}, time.Now())
	assert.True(t, quest.IsFatal(err))
	_, err = store.Len(context.Background())
	assert.True(t, quest.IsFatal(err))
}

func TestOpenRequiresAddr(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
	_, err = NewWithClient(nil, "")
	require.Error(t, err)
}
