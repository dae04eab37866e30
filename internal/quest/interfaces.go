package quest

import (
	"context"
	"time"
)

// SeenStore persists the set of (region, id) keys already accepted.
// Implementations must be safe for concurrent use; MarkSeen on an existing
// key is a no-op that reports inserted=false.
type SeenStore interface {
	Contains(ctx context.Context, key Key) (bool, error)
	MarkSeen(ctx context.Context, key Key, at time.Time) (bool, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// Fetcher retrieves the current quest list for a region.
type Fetcher interface {
	Fetch(ctx context.Context, region string) ([]Quest, error)
}

// Notifier delivers one accepted quest to a single sink.
type Notifier interface {
	Name() string
	Send(ctx context.Context, q Quest) error
}

// Forwarder pushes a fetched batch to a remote collector.
type Forwarder interface {
	Forward(ctx context.Context, batch IngestBatch) (IngestResult, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces request and batch identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
