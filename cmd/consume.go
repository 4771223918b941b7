package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/catalog-harvester/internal/api"
	"github.com/JakeFAU/catalog-harvester/internal/clock/system"
	"github.com/JakeFAU/catalog-harvester/internal/consumer"
)

func newConsumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Drain the queue into the listing store",
		Long: `Receives queued listings and upserts them by id until interrupted.
Messages that cannot be decoded or that keep failing are parked after
consumer.max_deliveries attempts. Health, readiness and Prometheus metrics
are served on consumer.listen_addr.`,
		RunE: runConsumeCommand,
	}
	cmd.Flags().String("listen", "", "health and metrics listen address (overrides consumer.listen_addr)")
	return cmd
}

func runConsumeCommand(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	services, err := resolveServices(ctx)
	if err != nil {
		return err
	}
	cfg := services.Config()
	logger := services.Logger()

	store, err := services.Listings(ctx)
	if err != nil {
		return err
	}
	source, err := services.Subscriber(ctx)
	if err != nil {
		return err
	}
	c, err := consumer.New(consumer.Config{MaxDeliveries: cfg.Consumer.MaxDeliveries}, store, system.New(), logger)
	if err != nil {
		return err
	}

	addr := cfg.Consumer.ListenAddr
	if flagAddr, _ := cmd.Flags().GetString("listen"); flagAddr != "" {
		addr = flagAddr
	}
	opts := api.Options{APIKey: cfg.Consumer.APIKey}
	if checkpoints, err := services.Checkpoints(ctx); err == nil {
		opts.Checkpoints = checkpoints
	} else {
		logger.Warn("checkpoint routes disabled", zap.Error(err))
	}
	opts.Checks = services.ReadinessChecks()
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(opts, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server started", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return c.Run(gctx, source)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
