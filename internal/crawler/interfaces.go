package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves one page of listings from the remote catalog.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchPage, error)
}

// Publisher hands one record to the durable channel and returns the broker message ID
// once the broker has accepted it.
type Publisher interface {
	Publish(ctx context.Context, record Record) (string, error)
}

// CheckpointStore persists pagination progress for a single crawl target.
// Get never fails; stores fall back to DefaultCheckpoint on missing or corrupt state.
type CheckpointStore interface {
	Get(ctx context.Context) Checkpoint
	Put(ctx context.Context, checkpoint Checkpoint) error
	Reset(ctx context.Context) error
}

// Admission gates outbound fetches. Do runs fn inside an acquired slot and always releases it.
type Admission interface {
	Do(ctx context.Context, fn func(context.Context) error) error
}

// RetryDecider maps a fetch failure to a retry disposition.
type RetryDecider interface {
	Decide(err error, state AttemptState) Decision
}

// ListingStore writes persisted entities keyed by record identity.
type ListingStore interface {
	Upsert(ctx context.Context, record Record) error
	Park(ctx context.Context, message ParkedMessage) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sleeper pauses the caller, returning early when the context ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
