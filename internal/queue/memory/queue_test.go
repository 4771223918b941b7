package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/queue"
)

func receiveUntilDrained(t *testing.T, q *Queue, h queue.Handler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Receive(ctx, h) }()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	require.NoError(t, q.Drain(drainCtx))
	cancel()
	require.NoError(t, <-done)
}

func TestQueue_PublishAndReceive(t *testing.T) {
	t.Parallel()

	q := NewQueue(3)
	for id := int64(1); id <= 5; id++ {
		msgID, err := q.Publish(context.Background(), crawler.Record{ID: id})
		require.NoError(t, err)
		require.NotEmpty(t, msgID)
	}
	require.Equal(t, 5, q.Len())

	var mu sync.Mutex
	seen := map[int64]int{}
	receiveUntilDrained(t, q, func(_ context.Context, d *queue.Delivery) {
		record, err := queue.Decode(d.Data)
		assert.NoError(t, err)
		assert.Equal(t, 1, d.Attempt)
		mu.Lock()
		seen[record.ID]++
		mu.Unlock()
		d.Ack()
	})

	assert.Len(t, seen, 5)
	assert.Zero(t, q.Len())
}

func TestQueue_NackRedelivers(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	_, err := q.Publish(context.Background(), crawler.Record{ID: 55})
	require.NoError(t, err)

	var attempts []int
	receiveUntilDrained(t, q, func(_ context.Context, d *queue.Delivery) {
		attempts = append(attempts, d.Attempt)
		if d.Attempt < 3 {
			d.Nack()
			return
		}
		d.Ack()
	})

	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestQueue_UnsettledMessagesAreRedelivered(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	_, err := q.Publish(context.Background(), crawler.Record{ID: 7})
	require.NoError(t, err)

	calls := 0
	receiveUntilDrained(t, q, func(_ context.Context, d *queue.Delivery) {
		calls++
		if calls == 1 {
			return
		}
		d.Ack()
	})
	assert.Equal(t, 2, calls)
}

func TestQueue_DrainWithoutMessages(t *testing.T) {
	t.Parallel()

	require.NoError(t, NewQueue(1).Drain(context.Background()))
}

func TestQueue_DrainHonorsContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	_, err := q.Publish(context.Background(), crawler.Record{ID: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Drain(ctx), context.DeadlineExceeded)
}

func TestQueue_ClosedRejectsPublish(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Close())
	_, err := q.Publish(context.Background(), crawler.Record{ID: 1})
	require.ErrorIs(t, err, ErrClosed)
}
