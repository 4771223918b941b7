// Package pubsub implements the durable record channel on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config identifies the topic and subscription backing the channel.
type Config struct {
	ProjectID    string `mapstructure:"project_id"`
	Topic        string `mapstructure:"topic"`
	Subscription string `mapstructure:"subscription"`
	// EmulatorHost points the client at a local emulator instead of Google Cloud.
	EmulatorHost string `mapstructure:"emulator_host"`
	// AckDeadlineSeconds applies when the subscription is created here.
	AckDeadlineSeconds int32 `mapstructure:"ack_deadline_seconds"`
}

// Validate reports missing identifiers.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ProjectID) == "" {
		return errors.New("pubsub project_id is required")
	}
	if strings.TrimSpace(c.Topic) == "" {
		return errors.New("pubsub topic is required")
	}
	return nil
}

// TopicName returns the fully qualified topic name.
func (c Config) TopicName() string {
	return qualify(c.ProjectID, "topics", c.Topic)
}

// SubscriptionName returns the fully qualified subscription name.
func (c Config) SubscriptionName() string {
	return qualify(c.ProjectID, "subscriptions", c.Subscription)
}

// NewClient creates a Pub/Sub client, honoring EmulatorHost when set.
func NewClient(ctx context.Context, cfg Config, opts ...option.ClientOption) (*pubsub.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.EmulatorHost != "" {
		opts = append(opts,
			option.WithEndpoint(cfg.EmulatorHost),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	return client, nil
}

func qualify(project, kind, id string) string {
	if strings.HasPrefix(id, "projects/") {
		return id
	}
	return fmt.Sprintf("projects/%s/%s/%s", project, kind, id)
}
