// Package postgres provides the Postgres-backed listing store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

// Table names created by the embedded migrations.
const (
	ListingsTable = "listings"
	ParkedTable   = "parked_messages"
)

// Config controls the Postgres connection pool used for listing rows.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// ListingStore upserts listings keyed by record ID.
type ListingStore struct {
	pool execCloser
}

// NewListingStore creates a pool from cfg and returns a ListingStore.
func NewListingStore(ctx context.Context, cfg Config) (*ListingStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ListingStore{pool: pool}, nil
}

// NewListingStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewListingStoreWithPool(pool execCloser) (*ListingStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &ListingStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ListingStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies the database is reachable.
func (s *ListingStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Upsert inserts the record or fully replaces the row with the same id.
func (s *ListingStore) Upsert(ctx context.Context, record crawler.Record) error {
	if record.ID == 0 {
		return errors.New("record id is required")
	}
	shopJSON, err := json.Marshal(record.Shop)
	if err != nil {
		return fmt.Errorf("marshal shop: %w", err)
	}
	query := `
INSERT INTO ` + ListingsTable + ` (
	id, name, url, image_url, image_url_large, category_id,
	price, price_int, original_price, discount_percentage,
	count_review, rating, preorder, wishlist, shop, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,now()
)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	url = EXCLUDED.url,
	image_url = EXCLUDED.image_url,
	image_url_large = EXCLUDED.image_url_large,
	category_id = EXCLUDED.category_id,
	price = EXCLUDED.price,
	price_int = EXCLUDED.price_int,
	original_price = EXCLUDED.original_price,
	discount_percentage = EXCLUDED.discount_percentage,
	count_review = EXCLUDED.count_review,
	rating = EXCLUDED.rating,
	preorder = EXCLUDED.preorder,
	wishlist = EXCLUDED.wishlist,
	shop = EXCLUDED.shop,
	updated_at = now()`

	args := []any{
		record.ID,
		record.Name,
		record.URL,
		record.ImageURL,
		record.ImageURLLarge,
		record.CategoryID,
		record.Price,
		record.PriceInt,
		record.OriginalPrice,
		record.DiscountPercentage,
		record.CountReview,
		record.Rating,
		record.Preorder,
		record.Wishlist,
		shopJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert listing %d: %w", record.ID, err)
	}
	return nil
}

// Park stores a message that will not be retried. Re-parking the same message overwrites it.
func (s *ListingStore) Park(ctx context.Context, msg crawler.ParkedMessage) error {
	if msg.MessageID == "" {
		return errors.New("message id is required")
	}
	query := `
INSERT INTO ` + ParkedTable + ` (message_id, payload, attempt, reason, parked_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (message_id) DO UPDATE SET
	payload = EXCLUDED.payload,
	attempt = EXCLUDED.attempt,
	reason = EXCLUDED.reason,
	parked_at = EXCLUDED.parked_at`

	if _, err := s.pool.Exec(ctx, query, msg.MessageID, msg.Payload, msg.Attempt, msg.Reason, msg.ParkedAt); err != nil {
		return fmt.Errorf("park message %s: %w", msg.MessageID, err)
	}
	return nil
}
