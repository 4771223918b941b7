// Package local implements a checkpoint store backed by a JSON file on the local filesystem.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

// Config captures the parameters for the file checkpoint store.
type Config struct {
	// Dir is the directory holding one checkpoint file per target.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// Target names the crawl target, usually the category slug.
	Target string `mapstructure:"target" yaml:"target"`
}

// Store persists a checkpoint as <Dir>/<Target>.json.
type Store struct {
	path   string
	logger *zap.Logger
}

// New creates the checkpoint directory if needed and returns a Store.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("checkpoint directory is required")
	}
	if strings.TrimSpace(cfg.Target) == "" {
		return nil, errors.New("checkpoint target is required")
	}
	if strings.ContainsAny(cfg.Target, `/\`) || cfg.Target == "." || cfg.Target == ".." {
		return nil, fmt.Errorf("invalid checkpoint target %q", cfg.Target)
	}
	info, err := os.Stat(cfg.Dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.Dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create checkpoint directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat checkpoint directory: %w", err)
	case !info.IsDir():
		return nil, errors.New("checkpoint path is not a directory")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	path := filepath.Join(cfg.Dir, cfg.Target+".json")
	return &Store{
		path:   path,
		logger: logger.Named("checkpoint").With(zap.String("path", path)),
	}, nil
}

// Path returns the checkpoint file location.
func (s *Store) Path() string {
	return s.path
}

// Get reads the checkpoint file. Missing or corrupt files yield the default checkpoint.
func (s *Store) Get(_ context.Context) crawler.Checkpoint {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("read checkpoint failed, starting fresh", zap.Error(err))
		} else {
			s.logger.Info("no previous checkpoint, starting fresh")
		}
		return crawler.DefaultCheckpoint()
	}
	var cp crawler.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil || cp.Page < 1 {
		s.logger.Warn("checkpoint unreadable, starting fresh", zap.Error(err))
		return crawler.DefaultCheckpoint()
	}
	return cp
}

// Put overwrites the checkpoint file atomically.
func (s *Store) Put(_ context.Context, cp crawler.Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op once the rename succeeded.
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Reset removes the checkpoint file. A missing file is not an error.
func (s *Store) Reset(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}
