package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/catalog-harvester/internal/clock/system"
	"github.com/JakeFAU/catalog-harvester/internal/consumer"
	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/export"
	"github.com/JakeFAU/catalog-harvester/internal/fetcher/catalog"
	"github.com/JakeFAU/catalog-harvester/internal/id/uuid"
	"github.com/JakeFAU/catalog-harvester/internal/policy/ratelimit"
)

const drainTimeout = 2 * time.Minute

func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the configured category once",
		Long: `Walks the category from the last checkpoint, publishing every listing to
the queue, until the server runs out of results or max-records is reached.
With queue.backend=memory the persistence consumer runs in-process and the
queue is drained before the command exits. The accumulated listings are
exported as CSV afterwards, including after a failed run.`,
		RunE: runCrawlCommand,
	}
	cmd.Flags().Int("max-records", 0, "stop after this many listings (overrides crawler.max_records)")
	cmd.Flags().Bool("reset", false, "discard the stored checkpoint and start from the first page")
	cmd.Flags().Bool("no-export", false, "skip the CSV export")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	services, err := resolveServices(ctx)
	if err != nil {
		return err
	}
	cfg := services.Config()
	runID := uuid.New().MustNewID()
	logger := services.Logger().With(zap.String("run_id", runID))

	checkpoints, err := services.Checkpoints(ctx)
	if err != nil {
		return err
	}
	if reset, _ := cmd.Flags().GetBool("reset"); reset {
		if err := checkpoints.Reset(ctx); err != nil {
			return fmt.Errorf("reset checkpoint: %w", err)
		}
		logger.Info("checkpoint reset before run")
	}
	publisher, err := services.Publisher(ctx)
	if err != nil {
		return err
	}

	clock := system.New()
	controller, err := crawler.NewController(cfg.ControllerConfig(), crawler.ControllerDeps{
		Fetcher: catalog.New(catalog.Config{
			Endpoint:  cfg.Crawler.Endpoint,
			UserAgent: cfg.Crawler.UserAgent,
			Timeout:   cfg.Crawler.RequestTimeout,
		}, logger),
		Publisher:   publisher,
		Checkpoints: checkpoints,
		Admission:   ratelimit.New(cfg.GovernorConfig(), logger),
		Retry:       crawler.NewRetryPolicy(cfg.RetryPolicyConfig()),
		Sleeper:     clock,
	}, logger)
	if err != nil {
		return fmt.Errorf("build controller: %w", err)
	}

	res, err := runWithLocalConsumer(ctx, services, clock, logger, controller.Run)
	if err != nil {
		return err
	}

	if skip, _ := cmd.Flags().GetBool("no-export"); !skip && cfg.Export.Enabled {
		exportRecords(context.WithoutCancel(ctx), services, cfg.Crawler.Category, res.Records, logger)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s: state=%s records=%d pages=%d total=%d checkpoint=%s\n",
		runID, res.State, len(res.Records), res.Pages, res.Total, formatCheckpoint(res.Checkpoint))
	if res.State == crawler.StateFailed {
		return fmt.Errorf("crawl failed after %d records: %w", len(res.Records), res.Err)
	}
	return nil
}

// runWithLocalConsumer runs the crawl. When the queue lives in this process a consumer
// drains it alongside and the queue is emptied before returning.
func runWithLocalConsumer(
	ctx context.Context,
	services Services,
	clock *system.Clock,
	logger *zap.Logger,
	run func(context.Context) crawler.Result,
) (crawler.Result, error) {
	memq := services.MemoryQueue()
	if memq == nil {
		return run(ctx), nil
	}

	store, err := services.Listings(ctx)
	if err != nil {
		return crawler.Result{}, err
	}
	cfg := services.Config()
	c, err := consumer.New(consumer.Config{MaxDeliveries: cfg.Consumer.MaxDeliveries}, store, clock, logger)
	if err != nil {
		return crawler.Result{}, err
	}

	consumeCtx, stopConsumer := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(consumeCtx)
	g.Go(func() error {
		return c.Run(gctx, memq)
	})

	res := run(ctx)

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	if err := memq.Drain(drainCtx); err != nil {
		logger.Warn("queue not fully drained", zap.Int("remaining", memq.Len()), zap.Error(err))
	}
	cancel()
	stopConsumer()
	if err := g.Wait(); err != nil {
		logger.Warn("in-process consumer stopped with error", zap.Error(err))
	}
	return res, nil
}

func exportRecords(ctx context.Context, services Services, category string, records []crawler.Record, logger *zap.Logger) {
	exporter, err := services.Exporter(ctx)
	if err != nil {
		logger.Error("export unavailable", zap.Error(err))
		return
	}
	uri, err := exporter.Export(ctx, category, records)
	switch {
	case errors.Is(err, export.ErrNoRecords):
		logger.Warn("no products found; nothing exported")
	case err != nil:
		logger.Error("CSV export failed", zap.Error(err))
	default:
		logger.Info("CSV export written", zap.String("uri", uri))
	}
}

func formatCheckpoint(cp crawler.Checkpoint) string {
	if cp.Cursor == nil {
		return fmt.Sprintf("{cursor: none, page: %d}", cp.Page)
	}
	return fmt.Sprintf("{cursor: %d, page: %d}", *cp.Cursor, cp.Page)
}
