package pubsub

import (
	"context"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/queue"
)

// Subscriber drains the configured subscription.
type Subscriber struct {
	subscriber *pubsub.Subscriber
	logger     *zap.Logger

	// Delivery attempts are only reported by Pub/Sub when a dead-letter policy is set.
	// Otherwise redeliveries seen by this process are counted here.
	mu       sync.Mutex
	attempts map[string]int
}

// NewSubscriber creates a Subscriber that runs at most workers handlers at once.
func NewSubscriber(client *pubsub.Client, cfg Config, workers int, logger *zap.Logger) *Subscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = 1
	}
	sub := client.Subscriber(cfg.SubscriptionName())
	sub.ReceiveSettings.MaxOutstandingMessages = workers
	sub.ReceiveSettings.NumGoroutines = 1
	return &Subscriber{
		subscriber: sub,
		logger:     logger.Named("subscriber").With(zap.String("subscription", cfg.SubscriptionName())),
		attempts:   make(map[string]int),
	}
}

// Receive blocks, handing each message to h, until ctx is canceled.
func (s *Subscriber) Receive(ctx context.Context, h queue.Handler) error {
	err := s.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		attrs := msg.Attributes
		if attrs == nil {
			attrs = map[string]string{}
		}
		ctx = otel.GetTextMapPropagator().Extract(ctx, &attributeCarrier{attrs: attrs})

		d := queue.NewDelivery(msg.ID, msg.Data, attrs, s.attempt(msg),
			func() {
				s.forget(msg.ID)
				msg.Ack()
			},
			msg.Nack,
		)
		h(ctx, d)
		if !d.Settled() {
			s.logger.Warn("handler left message unsettled, nacking", zap.String("message_id", msg.ID))
			d.Nack()
		}
	})
	if err != nil {
		return fmt.Errorf("receive: %w", err)
	}
	return nil
}

// Close is a no-op; the subscriber stops when the Receive context ends.
func (s *Subscriber) Close() error {
	return nil
}

func (s *Subscriber) attempt(msg *pubsub.Message) int {
	if msg.DeliveryAttempt != nil {
		return *msg.DeliveryAttempt
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[msg.ID]++
	return s.attempts[msg.ID]
}

func (s *Subscriber) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, id)
}
