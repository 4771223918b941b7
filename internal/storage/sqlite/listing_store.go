// Package sqlite provides a single-file listing store for runs without a Postgres server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

// Config locates the database file.
type Config struct {
	Path string `mapstructure:"path"`
}

// ListingStore upserts listings into a local SQLite database.
type ListingStore struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at cfg.Path and ensures the schema exists.
func Open(ctx context.Context, cfg Config) (*ListingStore, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite.path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := sql.Open("sqlite", cfg.Path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer; the consumer's workers serialize on this connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	s := &ListingStore{db: db, path: cfg.Path}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *ListingStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// Ping verifies the database file is usable.
func (s *ListingStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

func (s *ListingStore) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		image_url_large TEXT NOT NULL DEFAULT '',
		category_id INTEGER NOT NULL DEFAULT 0,
		price TEXT NOT NULL DEFAULT '',
		price_int INTEGER NOT NULL DEFAULT 0,
		original_price TEXT NOT NULL DEFAULT '',
		discount_percentage REAL NOT NULL DEFAULT 0,
		count_review INTEGER NOT NULL DEFAULT 0,
		rating REAL NOT NULL DEFAULT 0,
		preorder INTEGER NOT NULL DEFAULT 0,
		wishlist INTEGER NOT NULL DEFAULT 0,
		shop TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_listings_category ON listings(category_id);

	CREATE TABLE IF NOT EXISTS parked_messages (
		message_id TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		attempt INTEGER NOT NULL,
		reason TEXT NOT NULL,
		parked_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("exec schema: %w", err)
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
	INSERT INTO listings (
		id, name, url, image_url, image_url_large, category_id,
		price, price_int, original_price, discount_percentage,
		count_review, rating, preorder, wishlist, shop, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		url = excluded.url,
		image_url = excluded.image_url,
		image_url_large = excluded.image_url_large,
		category_id = excluded.category_id,
		price = excluded.price,
		price_int = excluded.price_int,
		original_price = excluded.original_price,
		discount_percentage = excluded.discount_percentage,
		count_review = excluded.count_review,
		rating = excluded.rating,
		preorder = excluded.preorder,
		wishlist = excluded.wishlist,
		shop = excluded.shop,
		updated_at = CURRENT_TIMESTAMP
	`
	_, err = s.db.ExecContext(ctx, query,
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
		string(shopJSON),
	)
	if err != nil {
		return fmt.Errorf("upsert listing %d: %w", record.ID, err)
	}
	return nil
}

// Park stores a message that will not be retried.
func (s *ListingStore) Park(ctx context.Context, msg crawler.ParkedMessage) error {
	if msg.MessageID == "" {
		return errors.New("message id is required")
	}
	query := `
	INSERT INTO parked_messages (message_id, payload, attempt, reason, parked_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(message_id) DO UPDATE SET
		payload = excluded.payload,
		attempt = excluded.attempt,
		reason = excluded.reason,
		parked_at = excluded.parked_at
	`
	if _, err := s.db.ExecContext(ctx, query, msg.MessageID, msg.Payload, msg.Attempt, msg.Reason, msg.ParkedAt); err != nil {
		return fmt.Errorf("park message %s: %w", msg.MessageID, err)
	}
	return nil
}

// Get loads one listing by id.
func (s *ListingStore) Get(ctx context.Context, id int64) (crawler.Record, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT id, name, url, image_url, image_url_large, category_id, price, price_int,
		original_price, discount_percentage, count_review, rating, preorder, wishlist, shop
	FROM listings WHERE id = ?`, id)

	var rec crawler.Record
	var shopJSON string
	err := row.Scan(&rec.ID, &rec.Name, &rec.URL, &rec.ImageURL, &rec.ImageURLLarge, &rec.CategoryID,
		&rec.Price, &rec.PriceInt, &rec.OriginalPrice, &rec.DiscountPercentage, &rec.CountReview,
		&rec.Rating, &rec.Preorder, &rec.Wishlist, &shopJSON)
	if err != nil {
		return crawler.Record{}, fmt.Errorf("get listing %d: %w", id, err)
	}
	if err := json.Unmarshal([]byte(shopJSON), &rec.Shop); err != nil {
		return crawler.Record{}, fmt.Errorf("decode shop for listing %d: %w", id, err)
	}
	return rec, nil
}

// Count returns the number of listings and parked messages.
func (s *ListingStore) Count(ctx context.Context) (listings, parked int, err error) {
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM listings").Scan(&listings); err != nil {
		return 0, 0, fmt.Errorf("count listings: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM parked_messages").Scan(&parked); err != nil {
		return 0, 0, fmt.Errorf("count parked messages: %w", err)
	}
	return listings, parked, nil
}
