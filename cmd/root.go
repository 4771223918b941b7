// Package cmd defines and implements the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/api"
	"github.com/JakeFAU/catalog-harvester/internal/app"
	"github.com/JakeFAU/catalog-harvester/internal/config"
	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/export"
	"github.com/JakeFAU/catalog-harvester/internal/logging"
	"github.com/JakeFAU/catalog-harvester/internal/queue"
	queuememory "github.com/JakeFAU/catalog-harvester/internal/queue/memory"
)

// Services defines what commands pull from the application container.
// Tests inject a fake through newServices.
type Services interface {
	Config() config.Config
	Logger() *zap.Logger
	Checkpoints(ctx context.Context) (crawler.CheckpointStore, error)
	Publisher(ctx context.Context) (crawler.Publisher, error)
	Subscriber(ctx context.Context) (queue.Subscriber, error)
	Listings(ctx context.Context) (crawler.ListingStore, error)
	Exporter(ctx context.Context) (*export.Exporter, error)
	MemoryQueue() *queuememory.Queue
	ReadinessChecks() map[string]api.ReadinessCheck
	Close() error
}

type servicesKeyType struct{}

var servicesKey servicesKeyType

// newServices is the container factory, replaced in tests.
var newServices = func(cfg config.Config, logger *zap.Logger) Services {
	return app.New(cfg, logger)
}

// loadEnv reads .env when present so local runs can keep secrets out of config files.
func loadEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// newRootCmd builds the command tree. The returned cleanup closes whatever services the
// executed command built, whether or not it succeeded.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile  string
		services Services
	)
	cleanup := func() {
		if services == nil {
			return
		}
		_ = services.Close()
		_ = services.Logger().Sync()
	}

	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Crawl a catalog category and persist its listings.",
		Long: `harvester walks a catalog category page by page under a request quota,
publishes every listing to a durable queue and checkpoints its progress so an
interrupted run resumes where it stopped. The consume command drains the queue
into a database with idempotent upserts.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnv(); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			applyFlagOverrides(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("validate config: %w", err)
			}
			if err := cfg.ValidateFor(cmd.Name()); err != nil {
				return fmt.Errorf("validate config for %s: %w", cmd.Name(), err)
			}

			logger, err := logging.New(cfg.Logging.Development, logging.WithLevel(cfg.Logging.Level))
			if err != nil {
				return err
			}
			// Trace context rides along with every queue message as W3C headers.
			otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
				propagation.TraceContext{},
				propagation.Baggage{},
			))
			services = newServices(cfg, logger)
			cmd.SetContext(context.WithValue(cmd.Context(), servicesKey, services))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.PersistentFlags().String("category", "", "catalog category slug (overrides crawler.category)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newConsumeCmd())
	cmd.AddCommand(newCheckpointCmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd, cleanup
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if f := cmd.Flags().Lookup("category"); f != nil && f.Changed {
		cfg.Crawler.Category = f.Value.String()
	}
	if f := cmd.Flags().Lookup("max-records"); f != nil && f.Changed {
		if n, err := cmd.Flags().GetInt("max-records"); err == nil {
			cfg.Crawler.MaxRecords = n
		}
	}
}

func resolveServices(ctx context.Context) (Services, error) {
	services, ok := ctx.Value(servicesKey).(Services)
	if !ok || services == nil {
		return nil, errors.New("application services not initialized")
	}
	return services, nil
}

// Execute runs the root command with a context canceled on SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	root, cleanup := newRootCmd()
	err := root.ExecuteContext(ctx)
	cleanup()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "harvester:", err)
		os.Exit(1)
	}
}
