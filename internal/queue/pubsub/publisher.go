package pubsub

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/queue"
)

// Publisher sends one record per message and waits for the server to accept it.
type Publisher struct {
	publisher *pubsub.Publisher
	logger    *zap.Logger
}

// NewPublisher creates a Publisher for the configured topic.
func NewPublisher(client *pubsub.Client, cfg Config, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		publisher: client.Publisher(cfg.TopicName()),
		logger:    logger.Named("publisher").With(zap.String("topic", cfg.TopicName())),
	}
}

// Publish encodes the record and blocks until Pub/Sub has stored the message.
func (p *Publisher) Publish(ctx context.Context, record crawler.Record) (string, error) {
	if p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, attrs, err := queue.Encode(record)
	if err != nil {
		return "", err
	}
	otel.GetTextMapPropagator().Inject(ctx, &attributeCarrier{attrs: attrs})

	result := p.publisher.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish record %d: %w", record.ID, err)
	}
	p.logger.Debug("record published", zap.Int64("record_id", record.ID), zap.String("message_id", id))
	return id, nil
}

// Close flushes pending messages and stops the publisher's background goroutines.
func (p *Publisher) Close() error {
	p.publisher.Stop()
	return nil
}
