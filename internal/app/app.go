// Package app holds the long-lived services a harvester command needs. Services are built
// on first use from the loaded configuration and closed together by Close.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/api"
	checkpointlocal "github.com/JakeFAU/catalog-harvester/internal/checkpoint/local"
	checkpointmemory "github.com/JakeFAU/catalog-harvester/internal/checkpoint/memory"
	checkpointredis "github.com/JakeFAU/catalog-harvester/internal/checkpoint/redis"
	"github.com/JakeFAU/catalog-harvester/internal/config"
	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/export"
	"github.com/JakeFAU/catalog-harvester/internal/queue"
	queuememory "github.com/JakeFAU/catalog-harvester/internal/queue/memory"
	pubsubqueue "github.com/JakeFAU/catalog-harvester/internal/queue/pubsub"
	"github.com/JakeFAU/catalog-harvester/internal/storage"
	"github.com/JakeFAU/catalog-harvester/internal/storage/gcs"
	storagelocal "github.com/JakeFAU/catalog-harvester/internal/storage/local"
	storagememory "github.com/JakeFAU/catalog-harvester/internal/storage/memory"
	"github.com/JakeFAU/catalog-harvester/internal/storage/postgres"
	"github.com/JakeFAU/catalog-harvester/internal/storage/sqlite"
)

// App is a lazily populated container of shared services.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	mu          sync.Mutex
	closers     []func() error
	checkpoints crawler.CheckpointStore
	pubsub      *pubsub.Client
	memQueue    *queuememory.Queue
	publisher   crawler.Publisher
	subscriber  queue.Subscriber
	listings    crawler.ListingStore
	exporter    *export.Exporter
	exportBlobs *storagememory.BlobStore
	checks      map[string]api.ReadinessCheck
}

// New returns an App for cfg. Nothing is dialed until a service is requested.
func New(cfg config.Config, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		checks: map[string]api.ReadinessCheck{},
	}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Checkpoints returns the checkpoint store for the configured category.
func (a *App) Checkpoints(ctx context.Context) (crawler.CheckpointStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.checkpoints != nil {
		return a.checkpoints, nil
	}

	cp := a.cfg.Checkpoint
	target := a.cfg.Crawler.Category
	switch cp.Backend {
	case config.BackendFile:
		store, err := checkpointlocal.New(checkpointlocal.Config{Dir: cp.Path, Target: target}, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init file checkpoints: %w", err)
		}
		a.logger.Info("using file checkpoints", zap.String("path", store.Path()))
		a.checkpoints = store
	case config.BackendRedis:
		client, err := checkpointredis.NewClient(ctx, checkpointredis.Config{
			Addr:      cp.RedisAddr,
			Password:  cp.RedisPassword,
			DB:        cp.RedisDB,
			KeyPrefix: cp.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("init redis checkpoints: %w", err)
		}
		a.onClose(client.Close)
		store, err := checkpointredis.New(client, cp.KeyPrefix, target, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init redis checkpoints: %w", err)
		}
		a.logger.Info("using redis checkpoints", zap.String("key", store.Key()))
		a.checks["checkpoints"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		a.checkpoints = store
	case config.BackendMemory:
		a.logger.Warn("using in-memory checkpoints; progress is lost on exit")
		a.checkpoints = checkpointmemory.New()
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cp.Backend)
	}
	return a.checkpoints, nil
}

// pubSubClient dials Pub/Sub once. When configured to, it creates the topic and the
// subscription before anything is published, since Pub/Sub drops messages sent to a
// topic without subscriptions. Callers hold a.mu.
func (a *App) pubSubClient(ctx context.Context) (*pubsub.Client, error) {
	if a.pubsub != nil {
		return a.pubsub, nil
	}
	psCfg := a.pubSubConfig()
	client, err := pubsubqueue.NewClient(ctx, psCfg)
	if err != nil {
		return nil, err
	}
	a.onClose(client.Close)
	if a.cfg.PubSub.EnsureResources {
		if err := pubsubqueue.EnsureTopic(ctx, client, psCfg); err != nil {
			return nil, err
		}
		if err := pubsubqueue.EnsureSubscription(ctx, client, psCfg); err != nil {
			return nil, err
		}
	}
	a.pubsub = client
	return client, nil
}

func (a *App) pubSubConfig() pubsubqueue.Config {
	return pubsubqueue.Config{
		ProjectID:          a.cfg.PubSub.ProjectID,
		Topic:              a.cfg.PubSub.Topic,
		Subscription:       a.cfg.PubSub.Subscription,
		EmulatorHost:       a.cfg.PubSub.EmulatorHost,
		AckDeadlineSeconds: a.cfg.PubSub.AckDeadlineSeconds,
	}
}

// MemoryQueue returns the in-process queue, or nil unless queue.backend is memory.
func (a *App) MemoryQueue() *queuememory.Queue {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.memoryQueueLocked()
}

func (a *App) memoryQueueLocked() *queuememory.Queue {
	if a.cfg.Queue.Backend != config.BackendMemory {
		return nil
	}
	if a.memQueue == nil {
		a.memQueue = queuememory.NewQueue(a.cfg.Consumer.Workers)
		a.onClose(a.memQueue.Close)
	}
	return a.memQueue
}

// Publisher returns the publish channel producer side.
func (a *App) Publisher(ctx context.Context) (crawler.Publisher, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.publisher != nil {
		return a.publisher, nil
	}
	switch a.cfg.Queue.Backend {
	case config.BackendMemory:
		a.publisher = a.memoryQueueLocked()
	case config.BackendPubSub:
		client, err := a.pubSubClient(ctx)
		if err != nil {
			return nil, err
		}
		pub := pubsubqueue.NewPublisher(client, a.pubSubConfig(), a.logger)
		a.onClose(pub.Close)
		a.publisher = pub
	default:
		return nil, fmt.Errorf("unknown queue backend %q", a.cfg.Queue.Backend)
	}
	return a.publisher, nil
}

// Subscriber returns the publish channel consumer side.
func (a *App) Subscriber(ctx context.Context) (queue.Subscriber, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.subscriber != nil {
		return a.subscriber, nil
	}
	switch a.cfg.Queue.Backend {
	case config.BackendMemory:
		a.subscriber = a.memoryQueueLocked()
	case config.BackendPubSub:
		client, err := a.pubSubClient(ctx)
		if err != nil {
			return nil, err
		}
		psCfg := a.pubSubConfig()
		a.subscriber = pubsubqueue.NewSubscriber(client, psCfg, a.cfg.Consumer.Workers, a.logger)
		a.checks["pubsub"] = func(ctx context.Context) error {
			return pubsubqueue.CheckSubscription(ctx, client, psCfg)
		}
	default:
		return nil, fmt.Errorf("unknown queue backend %q", a.cfg.Queue.Backend)
	}
	return a.subscriber, nil
}

// Listings returns the persistence store the consumer writes to.
func (a *App) Listings(ctx context.Context) (crawler.ListingStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listings != nil {
		return a.listings, nil
	}
	switch a.cfg.Consumer.Store {
	case config.BackendPostgres:
		store, err := postgres.NewListingStore(ctx, postgres.Config{
			DSN:             a.cfg.DB.DSN,
			MaxConns:        a.cfg.DB.MaxConns,
			MinConns:        a.cfg.DB.MinConns,
			MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return nil, err
		}
		a.onClose(func() error { store.Close(); return nil })
		a.checks["postgres"] = store.Ping
		a.listings = store
	case config.BackendSQLite:
		store, err := sqlite.Open(ctx, sqlite.Config{Path: a.cfg.SQLite.Path})
		if err != nil {
			return nil, err
		}
		a.onClose(store.Close)
		a.checks["sqlite"] = store.Ping
		a.listings = store
	case config.BackendMemory:
		a.logger.Warn("using in-memory listing store; writes are lost on exit")
		a.listings = storagememory.NewListingStore()
	default:
		return nil, fmt.Errorf("unknown listing store %q", a.cfg.Consumer.Store)
	}
	return a.listings, nil
}

// Exporter returns the CSV exporter. Exports go to the export directory and, when a
// bucket is configured, to GCS. With neither configured they are kept in memory.
func (a *App) Exporter(ctx context.Context) (*export.Exporter, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.exporter != nil {
		return a.exporter, nil
	}

	var sinks export.Fanout
	if a.cfg.Export.Dir != "" {
		local, err := storagelocal.New(storagelocal.Config{BaseDir: a.cfg.Export.Dir})
		if err != nil {
			return nil, fmt.Errorf("init export dir: %w", err)
		}
		sinks = append(sinks, local)
	}
	if a.cfg.Export.GCSBucket != "" {
		gcsCfg := gcs.Config{
			Bucket:   a.cfg.Export.GCSBucket,
			Prefix:   a.cfg.Export.Prefix,
			Endpoint: a.cfg.Export.GCSEndpoint,
		}
		client, err := gcs.NewClient(ctx, gcsCfg)
		if err != nil {
			return nil, err
		}
		a.onClose(client.Close)
		bucket, err := gcs.New(client, gcsCfg)
		if err != nil {
			return nil, fmt.Errorf("init export bucket: %w", err)
		}
		sinks = append(sinks, bucket)
	}

	var sink storage.BlobStore
	switch len(sinks) {
	case 0:
		a.logger.Warn("no export dir or bucket configured; exports are kept in memory")
		a.exportBlobs = storagememory.NewBlobStore()
		sink = a.exportBlobs
	case 1:
		sink = sinks[0]
	default:
		sink = sinks
	}

	exporter, err := export.New(sink, a.logger)
	if err != nil {
		return nil, err
	}
	a.exporter = exporter
	return exporter, nil
}

// ExportBlobs returns the in-memory export store, or nil unless exports fell back to memory.
func (a *App) ExportBlobs() *storagememory.BlobStore {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.exportBlobs
}

// ReadinessChecks returns a probe per dependency built so far.
func (a *App) ReadinessChecks() map[string]api.ReadinessCheck {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]api.ReadinessCheck, len(a.checks))
	for k, v := range a.checks {
		out[k] = v
	}
	return out
}

// Close releases every service in reverse construction order.
func (a *App) Close() error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing services", zap.Error(err))
		return err
	}
	return nil
}
