package pubsub

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultAckDeadlineSeconds = 60

// EnsureTopic creates the configured topic unless it already exists.
func EnsureTopic(ctx context.Context, client *pubsub.Client, cfg Config) error {
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: cfg.TopicName()})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("create topic %s: %w", cfg.TopicName(), err)
	}
	return nil
}

// EnsureSubscription creates the configured subscription on the topic unless it already exists.
func EnsureSubscription(ctx context.Context, client *pubsub.Client, cfg Config) error {
	if cfg.Subscription == "" {
		return fmt.Errorf("pubsub subscription is required")
	}
	deadline := cfg.AckDeadlineSeconds
	if deadline <= 0 {
		deadline = defaultAckDeadlineSeconds
	}
	_, err := client.SubscriptionAdminClient.CreateSubscription(ctx, &pubsubpb.Subscription{
		Name:               cfg.SubscriptionName(),
		Topic:              cfg.TopicName(),
		AckDeadlineSeconds: deadline,
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("create subscription %s: %w", cfg.SubscriptionName(), err)
	}
	return nil
}

// CheckSubscription returns an error unless the configured subscription can be read.
func CheckSubscription(ctx context.Context, client *pubsub.Client, cfg Config) error {
	_, err := client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{
		Subscription: cfg.SubscriptionName(),
	})
	if err != nil {
		return fmt.Errorf("get subscription %s: %w", cfg.SubscriptionName(), err)
	}
	return nil
}
