package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// State names the phases of a crawl run.
type State string

// Controller states.
const (
	StateInit          State = "init"
	StateFetching      State = "fetching"
	StatePublishing    State = "publishing"
	StateCheckpointing State = "checkpointing"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// Result is what a crawl run hands back. Records holds everything accumulated before the
// run ended, whether it finished in StateDone or StateFailed.
type Result struct {
	Records    []Record
	State      State
	Err        error
	Pages      int
	Total      int
	Checkpoint Checkpoint
}

// ControllerDeps groups the collaborators a Controller drives.
type ControllerDeps struct {
	Fetcher     Fetcher
	Publisher   Publisher
	Checkpoints CheckpointStore
	Admission   Admission
	Retry       RetryDecider
	Sleeper     Sleeper
}

// Controller runs the fetch, publish, checkpoint and advance loop for one category.
type Controller struct {
	cfg    ControllerConfig
	deps   ControllerDeps
	logger *zap.Logger
}

// NewController validates its inputs and returns a Controller.
func NewController(cfg ControllerConfig, deps ControllerDeps, logger *zap.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate controller config: %w", err)
	}
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Publisher == nil:
		return nil, errors.New("publisher is required")
	case deps.Checkpoints == nil:
		return nil, errors.New("checkpoint store is required")
	case deps.Admission == nil:
		return nil, errors.New("admission governor is required")
	case deps.Sleeper == nil:
		return nil, errors.New("sleeper is required")
	}
	if deps.Retry == nil {
		deps.Retry = NewRetryPolicy(RetryConfig{})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Controller{
		cfg:    cfg,
		deps:   deps,
		logger: logger.Named("controller").With(zap.String("category", cfg.Category)),
	}, nil
}

// Run crawls until a termination condition is met. It never returns an error directly;
// failures are reported through Result.State and Result.Err.
func (c *Controller) Run(ctx context.Context) Result {
	res := Result{State: StateInit}
	cp := c.deps.Checkpoints.Get(ctx)
	cursor := cp.CursorOr(1)
	page := cp.Page
	if page < 1 {
		page = 1
	}
	res.Checkpoint = cp
	c.logger.Info("crawl starting", zap.Int("cursor", cursor), zap.Int("page", page))

	for {
		if err := ctx.Err(); err != nil {
			return c.fail(res, fmt.Errorf("crawl interrupted: %w", err))
		}

		res.State = StateFetching
		c.logger.Info("fetching page", zap.Int("cursor", cursor), zap.Int("page", page))
		fetched, err := c.fetchWithRetry(ctx, FetchRequest{
			Category: c.cfg.Category,
			Page:     page,
			Start:    cursor,
			Rows:     c.cfg.PageSize,
		})
		if err != nil {
			return c.fail(res, err)
		}
		if len(fetched.Records) == 0 {
			c.logger.Info("empty page, stopping", zap.Int("cursor", cursor), zap.Int("page", page))
			return c.done(res)
		}

		res.State = StatePublishing
		if err := c.publishAll(ctx, fetched.Records); err != nil {
			return c.fail(res, err)
		}
		res.Records = append(res.Records, fetched.Records...)
		res.Total = fetched.Total

		res.State = StateCheckpointing
		used := NewCheckpoint(cursor, page)
		if err := c.deps.Checkpoints.Put(ctx, used); err != nil {
			metrics.ObserveCheckpointWriteFailure(c.cfg.Category)
			c.logger.Warn("checkpoint write failed", zap.Int("cursor", cursor), zap.Int("page", page), zap.Error(err))
		} else {
			res.Checkpoint = used
		}

		cursor += c.cfg.PageSize
		res.Pages++
		c.logger.Info("page processed",
			zap.Int("records", len(fetched.Records)),
			zap.Int("accumulated", len(res.Records)),
			zap.Int("total", res.Total),
		)

		if err := c.pause(ctx); err != nil {
			return c.fail(res, fmt.Errorf("inter-page pause: %w", err))
		}

		// Page follows accumulated count, not the server total.
		if cursor > len(res.Records) {
			page++
		}
		if len(res.Records) >= min(res.Total, c.cfg.MaxRecords) || cursor > res.Total {
			return c.done(res)
		}
	}
}

func (c *Controller) fetchWithRetry(ctx context.Context, request FetchRequest) (FetchPage, error) {
	var attempts AttemptState
	for {
		var fetched FetchPage
		err := c.deps.Admission.Do(ctx, func(ctx context.Context) error {
			var fetchErr error
			fetched, fetchErr = c.deps.Fetcher.Fetch(ctx, request)
			return fetchErr
		})
		if err == nil {
			metrics.ObserveFetch(c.cfg.Category, "success")
			c.logger.Debug("fetched page", zap.Int("records", len(fetched.Records)), zap.Int("total", fetched.Total))
			return fetched, nil
		}
		metrics.ObserveFetch(c.cfg.Category, "error")
		if ctx.Err() != nil {
			return FetchPage{}, fmt.Errorf("fetch page %d: %w", request.Page, err)
		}

		decision := c.deps.Retry.Decide(err, attempts)
		if !decision.Retry {
			return FetchPage{}, fmt.Errorf("fetch page %d (%s): %w", request.Page, decision.Category, err)
		}
		metrics.ObserveRetry(string(decision.Category))
		c.logger.Warn("fetch failed, retrying",
			zap.String("class", string(decision.Category)),
			zap.Duration("delay", decision.Delay),
			zap.Int("start", request.Start),
			zap.Int("page", request.Page),
			zap.Error(err),
		)
		if err := c.deps.Sleeper.Sleep(ctx, decision.Delay); err != nil {
			return FetchPage{}, fmt.Errorf("retry backoff: %w", err)
		}
		attempts = decision.Next
	}
}

func (c *Controller) publishAll(ctx context.Context, records []Record) error {
	for i, record := range records {
		if _, err := c.deps.Publisher.Publish(ctx, record); err != nil {
			metrics.ObservePublished(c.cfg.Category, i)
			return fmt.Errorf("publish record %d: %w", record.ID, err)
		}
	}
	metrics.ObservePublished(c.cfg.Category, len(records))
	return nil
}

func (c *Controller) pause(ctx context.Context) error {
	if c.cfg.PageDelay <= 0 {
		return nil
	}
	if err := c.deps.Sleeper.Sleep(ctx, c.cfg.PageDelay); err != nil {
		return fmt.Errorf("sleep %s: %w", c.cfg.PageDelay, err)
	}
	return nil
}

func (c *Controller) done(res Result) Result {
	res.State = StateDone
	metrics.ObserveCrawlRun(string(StateDone))
	c.logger.Info("crawl finished", zap.Int("records", len(res.Records)), zap.Int("pages", res.Pages))
	return res
}

func (c *Controller) fail(res Result, err error) Result {
	c.logger.Error("crawl failed",
		zap.String("state", string(res.State)),
		zap.Int("records", len(res.Records)),
		zap.Error(err),
	)
	res.State = StateFailed
	res.Err = err
	metrics.ObserveCrawlRun(string(StateFailed))
	return res
}

// SleepFunc adapts a function to the Sleeper interface.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep calls f.
func (f SleepFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}
