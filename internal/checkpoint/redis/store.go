// Package redis implements a checkpoint store backed by a single Redis key, for crawls whose
// progress must outlive the host they run on.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

// Config holds Redis connection settings.
type Config struct {
	Addr      string `mapstructure:"redis_addr"`
	Password  string `mapstructure:"redis_password"`
	DB        int    `mapstructure:"redis_db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ErrEmptyAddress is returned when the Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

const connectionTimeout = 5 * time.Second

// NewClient creates a Redis client and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, ErrEmptyAddress
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Store keeps the checkpoint for one target under <prefix>:checkpoint:<target>.
type Store struct {
	client *goredis.Client
	key    string
	logger *zap.Logger
}

// New returns a Store for target using an existing client.
func New(client *goredis.Client, prefix, target string, logger *zap.Logger) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if strings.TrimSpace(target) == "" {
		return nil, errors.New("checkpoint target is required")
	}
	if prefix == "" {
		prefix = "harvester"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	key := prefix + ":checkpoint:" + target
	return &Store{
		client: client,
		key:    key,
		logger: logger.Named("checkpoint").With(zap.String("key", key)),
	}, nil
}

// Key returns the Redis key holding the checkpoint.
func (s *Store) Key() string {
	return s.key
}

// Get reads the checkpoint. Missing keys, connection errors and bad payloads all yield the default.
func (s *Store) Get(ctx context.Context) crawler.Checkpoint {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			s.logger.Info("no previous checkpoint, starting fresh")
		} else {
			s.logger.Warn("read checkpoint failed, starting fresh", zap.Error(err))
		}
		return crawler.DefaultCheckpoint()
	}
	var cp crawler.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil || cp.Page < 1 {
		s.logger.Warn("checkpoint unreadable, starting fresh", zap.Error(err))
		return crawler.DefaultCheckpoint()
	}
	return cp
}

// Put overwrites the checkpoint key.
func (s *Store) Put(ctx context.Context, cp crawler.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("set checkpoint: %w", err)
	}
	return nil
}

// Reset deletes the checkpoint key.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}
