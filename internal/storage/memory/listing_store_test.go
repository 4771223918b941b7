package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

func TestListingStoreUpsertReplaces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewListingStore()

	require.NoError(t, s.Upsert(ctx, crawler.Record{ID: 55, Price: "Rp100"}))
	require.NoError(t, s.Upsert(ctx, crawler.Record{ID: 55, Price: "Rp90"}))
	require.NoError(t, s.Upsert(ctx, crawler.Record{ID: 56, Price: "Rp10"}))

	require.Equal(t, 2, s.Len())
	require.Equal(t, 3, s.Writes())
	got, ok := s.Get(55)
	require.True(t, ok)
	require.Equal(t, "Rp90", got.Record.Price)
	require.False(t, got.UpdatedAt.IsZero())

	require.Error(t, s.Upsert(ctx, crawler.Record{}))
}

func TestListingStorePark(t *testing.T) {
	t.Parallel()
	s := NewListingStore()

	payload := []byte("bad")
	require.NoError(t, s.Park(context.Background(), crawler.ParkedMessage{MessageID: "m1", Payload: payload, Reason: "decode"}))
	payload[0] = 'x'

	parked := s.Parked()
	require.Len(t, parked, 1)
	require.Equal(t, "bad", string(parked[0].Payload))
}
