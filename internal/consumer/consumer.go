// Package consumer drains the record channel into the listing store. Each message is
// acknowledged only after its upsert is durable; failed writes are redelivered and
// messages that can never succeed are parked.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
	"github.com/JakeFAU/catalog-harvester/internal/queue"
)

// DefaultMaxDeliveries bounds how often a message is retried before it is parked.
const DefaultMaxDeliveries = 5

// Config tunes the consumer.
type Config struct {
	MaxDeliveries int
}

// Consumer applies queue deliveries to a ListingStore.
type Consumer struct {
	store         crawler.ListingStore
	clock         crawler.Clock
	maxDeliveries int
	logger        *zap.Logger
}

// New creates a Consumer.
func New(cfg Config, store crawler.ListingStore, clock crawler.Clock, logger *zap.Logger) (*Consumer, error) {
	if store == nil {
		return nil, errors.New("listing store is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = DefaultMaxDeliveries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		store:         store,
		clock:         clock,
		maxDeliveries: cfg.MaxDeliveries,
		logger:        logger.Named("consumer"),
	}, nil
}

// Run drains source until ctx ends.
func (c *Consumer) Run(ctx context.Context, source queue.Subscriber) error {
	c.logger.Info("consumer started", zap.Int("max_deliveries", c.maxDeliveries))
	if err := source.Receive(ctx, c.Handle); err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	c.logger.Info("consumer stopped")
	return nil
}

// Handle processes one delivery.
func (c *Consumer) Handle(ctx context.Context, d *queue.Delivery) {
	logger := c.logger.With(zap.String("message_id", d.ID), zap.Int("attempt", d.Attempt))

	record, err := queue.Decode(d.Data)
	if err != nil {
		c.park(ctx, d, err.Error(), logger)
		return
	}
	logger = logger.With(zap.Int64("record_id", record.ID))

	if d.Attempt > c.maxDeliveries {
		c.park(ctx, d, fmt.Sprintf("exceeded %d deliveries", c.maxDeliveries), logger)
		return
	}

	if err := c.store.Upsert(ctx, record); err != nil {
		logger.Warn("upsert failed, requesting redelivery", zap.Error(err))
		metrics.ObserveConsumerMessage(metrics.OutcomeNacked)
		d.Nack()
		return
	}
	metrics.ObserveConsumerMessage(metrics.OutcomeAcked)
	logger.Debug("record saved")
	d.Ack()
}

func (c *Consumer) park(ctx context.Context, d *queue.Delivery, reason string, logger *zap.Logger) {
	msg := crawler.ParkedMessage{
		MessageID: d.ID,
		Payload:   d.Data,
		Attempt:   d.Attempt,
		Reason:    reason,
		ParkedAt:  c.clock.Now().UTC().Truncate(time.Microsecond),
	}
	if err := c.store.Park(ctx, msg); err != nil {
		logger.Error("park failed, requesting redelivery", zap.String("reason", reason), zap.Error(err))
		metrics.ObserveConsumerMessage(metrics.OutcomeNacked)
		d.Nack()
		return
	}
	logger.Warn("message parked", zap.String("reason", reason))
	metrics.ObserveConsumerMessage(metrics.OutcomeParked)
	d.Ack()
}
