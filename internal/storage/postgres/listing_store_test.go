package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

func sampleRecord() crawler.Record {
	return crawler.Record{
		ID:                 55,
		Name:               "Mesin Cuci 7kg",
		URL:                "https://www.tokopedia.com/toko/mesin-cuci-7kg",
		ImageURL:           "https://images.example/55.jpg",
		CategoryID:         3964,
		Price:              "Rp2.499.000",
		PriceInt:           2499000,
		OriginalPrice:      "Rp2.999.000",
		DiscountPercentage: 17,
		CountReview:        120,
		Rating:             4.8,
		Shop: crawler.Shop{
			ID:       9,
			URL:      "https://www.tokopedia.com/toko",
			Name:     "Toko",
			Official: true,
			Location: "Jakarta Barat",
		},
	}
}

func TestUpsertWritesRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewListingStoreWithPool(mock)
	require.NoError(t, err)

	rec := sampleRecord()
	mock.ExpectExec(`(?s)INSERT INTO listings .*ON CONFLICT \(id\) DO UPDATE SET`).
		WithArgs(
			rec.ID,
			rec.Name,
			rec.URL,
			rec.ImageURL,
			rec.ImageURLLarge,
			rec.CategoryID,
			rec.Price,
			rec.PriceInt,
			rec.OriginalPrice,
			rec.DiscountPercentage,
			rec.CountReview,
			rec.Rating,
			rec.Preorder,
			rec.Wishlist,
			[]byte(`{"id":9,"url":"https://www.tokopedia.com/toko","name":"Toko","goldmerchant":false,"official":true,"reputation":"","location":"Jakarta Barat"}`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Upsert(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertWrapsErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewListingStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO listings").WillReturnError(errors.New("connection refused"))

	err = store.Upsert(context.Background(), sampleRecord())
	require.ErrorContains(t, err, "upsert listing 55")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewListingStoreWithPool(mock)
	require.NoError(t, err)
	require.Error(t, store.Upsert(context.Background(), crawler.Record{}))
}

func TestParkWritesRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewListingStoreWithPool(mock)
	require.NoError(t, err)

	parkedAt := time.Unix(1700000000, 0).UTC()
	msg := crawler.ParkedMessage{MessageID: "m-1", Payload: []byte("{oops"), Attempt: 6, Reason: "exceeded 5 deliveries", ParkedAt: parkedAt}
	mock.ExpectExec("INSERT INTO parked_messages").
		WithArgs(msg.MessageID, msg.Payload, msg.Attempt, msg.Reason, msg.ParkedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Park(context.Background(), msg))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewListingStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewListingStoreWithPool(nil)
	require.Error(t, err)

	_, err = NewListingStore(context.Background(), Config{})
	require.Error(t, err)
}

func TestMigrationFilesAreOrdered(t *testing.T) {
	t.Parallel()

	files, err := MigrationFiles()
	require.NoError(t, err)
	require.Equal(t, []string{"00001_create_listings.sql", "00002_create_parked_messages.sql"}, files)
}

func TestMigrationsCreateTheTablesTheStoreWrites(t *testing.T) {
	t.Parallel()

	listings, err := migrationsFS.ReadFile("migrations/00001_create_listings.sql")
	require.NoError(t, err)
	require.Contains(t, string(listings), "CREATE TABLE IF NOT EXISTS "+ListingsTable+" (")

	parked, err := migrationsFS.ReadFile("migrations/00002_create_parked_messages.sql")
	require.NoError(t, err)
	require.Contains(t, string(parked), "CREATE TABLE IF NOT EXISTS "+ParkedTable+" (")
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewListingStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("down"))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres")
	require.NoError(t, mock.ExpectationsWereMet())
}
