package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

// Listing is a persisted record plus its last write time.
type Listing struct {
	Record    crawler.Record
	UpdatedAt time.Time
}

// ListingStore keeps one entry per record identity.
type ListingStore struct {
	mu       sync.RWMutex
	listings map[int64]Listing
	parked   []crawler.ParkedMessage
	writes   int
	now      func() time.Time
}

// NewListingStore constructs an empty ListingStore.
func NewListingStore() *ListingStore {
	return &ListingStore{
		listings: make(map[int64]Listing),
		now:      time.Now,
	}
}

// Upsert inserts the record or replaces the existing entry with the same ID.
func (s *ListingStore) Upsert(_ context.Context, record crawler.Record) error {
	if record.ID == 0 {
		return errors.New("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[record.ID] = Listing{Record: record, UpdatedAt: s.now().UTC()}
	s.writes++
	return nil
}

// Park records a message that will not be retried.
func (s *ListingStore) Park(_ context.Context, msg crawler.ParkedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.Payload = append([]byte(nil), msg.Payload...)
	s.parked = append(s.parked, msg)
	return nil
}

// Get returns the listing for id.
func (s *ListingStore) Get(id int64) (Listing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[id]
	return l, ok
}

// Len returns the number of distinct listings.
func (s *ListingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listings)
}

// Writes returns how many upserts succeeded.
func (s *ListingStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Parked returns the parked messages.
func (s *ListingStore) Parked() []crawler.ParkedMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.ParkedMessage, len(s.parked))
	copy(out, s.parked)
	return out
}
