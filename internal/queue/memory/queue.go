// Package memory provides an in-process queue for local runs and tests. Messages survive
// consumer restarts within the process but not a process restart.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/id/uuid"
	"github.com/JakeFAU/catalog-harvester/internal/queue"
)

// ErrClosed is returned when publishing to a closed queue.
var ErrClosed = errors.New("queue closed")

type message struct {
	id      string
	data    []byte
	attrs   map[string]string
	attempt int
}

// Queue is an unbounded FIFO that redelivers nacked messages.
type Queue struct {
	workers int
	ids     *uuid.Generator

	mu       sync.Mutex
	pending  []message
	inflight int
	closed   bool
	idle     chan struct{}
	notify   chan struct{}
}

// NewQueue constructs a queue whose Receive runs the given number of concurrent handlers.
func NewQueue(workers int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	return &Queue{
		workers: workers,
		ids:     uuid.New(),
		notify:  make(chan struct{}, 1),
	}
}

// Publish enqueues one record and returns its message ID.
func (q *Queue) Publish(_ context.Context, record crawler.Record) (string, error) {
	data, attrs, err := queue.Encode(record)
	if err != nil {
		return "", err
	}
	return q.PublishRaw(data, attrs)
}

// PublishRaw enqueues an already encoded payload.
func (q *Queue) PublishRaw(data []byte, attrs map[string]string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", ErrClosed
	}
	msg := message{id: q.ids.MustNewID(), data: data, attrs: attrs, attempt: 1}
	q.enqueueLocked(msg)
	return msg.id, nil
}

// Receive runs the handler on queued messages until ctx ends. Messages the handler
// leaves unsettled are redelivered.
func (q *Queue) Receive(ctx context.Context, h queue.Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx, h)
		}()
	}
	wg.Wait()
	return nil
}

// Drain blocks until every published message has been acked.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain queue: %w", ctx.Err())
	}
}

// Len returns the number of messages waiting or in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + q.inflight
}

// Close rejects further publishes. Queued messages remain receivable.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

func (q *Queue) work(ctx context.Context, h queue.Handler) {
	for {
		msg, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.notify:
				continue
			}
		}
		if ctx.Err() != nil {
			q.putBack(msg)
			return
		}
		d := queue.NewDelivery(msg.id, msg.data, msg.attrs, msg.attempt,
			func() { q.finish() },
			func() { q.requeue(msg) },
		)
		h(ctx, d)
		if !d.Settled() {
			d.Nack()
		}
	}
}

func (q *Queue) next() (message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return message{}, false
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	q.inflight++
	if len(q.pending) > 0 {
		q.signal()
	}
	return msg, true
}

func (q *Queue) finish() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight--
	q.checkIdleLocked()
}

func (q *Queue) requeue(msg message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight--
	msg.attempt++
	q.enqueueLocked(msg)
}

func (q *Queue) putBack(msg message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inflight--
	q.pending = append([]message{msg}, q.pending...)
	q.signal()
}

func (q *Queue) enqueueLocked(msg message) {
	if q.idle == nil {
		q.idle = make(chan struct{})
	}
	q.pending = append(q.pending, msg)
	q.signal()
}

func (q *Queue) checkIdleLocked() {
	if len(q.pending) == 0 && q.inflight == 0 && q.idle != nil {
		close(q.idle)
		q.idle = nil
	}
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
