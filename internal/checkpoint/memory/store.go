// Package memory provides an in-memory checkpoint store for tests and throwaway runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

// Store keeps the checkpoint in process memory.
type Store struct {
	mu sync.Mutex
	cp *crawler.Checkpoint
}

// New creates an empty Store.
func New() *Store {
	return &Store{}
}

// Get returns the stored checkpoint or the default.
func (s *Store) Get(context.Context) crawler.Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cp == nil {
		return crawler.DefaultCheckpoint()
	}
	return copyCheckpoint(*s.cp)
}

// Put overwrites the stored checkpoint.
func (s *Store) Put(_ context.Context, cp crawler.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := copyCheckpoint(cp)
	s.cp = &c
	return nil
}

// Reset clears the stored checkpoint.
func (s *Store) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cp = nil
	return nil
}

func copyCheckpoint(cp crawler.Checkpoint) crawler.Checkpoint {
	if cp.Cursor == nil {
		return cp
	}
	return crawler.NewCheckpoint(*cp.Cursor, cp.Page)
}
