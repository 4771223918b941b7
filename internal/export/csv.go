// Package export writes the records of a finished crawl run as a CSV artifact.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
	"github.com/JakeFAU/catalog-harvester/internal/storage"
)

// ContentType is attached to every uploaded export.
const ContentType = "text/csv"

// ErrNoRecords is returned when there is nothing to export.
var ErrNoRecords = errors.New("no records to export")

// Header lists the export columns in order.
var Header = []string{
	"id",
	"name",
	"salesPrice",
	"originalPrice",
	"discountPercentage",
	"rating",
	"countReview",
	"productUrl",
	"imageUrl",
	"shopName",
	"shopUrl",
	"shopLocation",
	"isGoldMerchant",
	"isOfficial",
	"preorder",
}

// WriteCSV writes the header and one row per record to w.
func WriteCSV(w io.Writer, records []crawler.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(row(r)); err != nil {
			return fmt.Errorf("write record %d: %w", r.ID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func row(r crawler.Record) []string {
	return []string{
		strconv.FormatInt(r.ID, 10),
		r.Name,
		r.Price,
		r.OriginalPrice,
		strconv.FormatFloat(r.DiscountPercentage, 'f', -1, 64),
		strconv.FormatFloat(r.Rating, 'f', -1, 64),
		strconv.Itoa(r.CountReview),
		r.URL,
		r.ImageURL,
		r.Shop.Name,
		r.Shop.URL,
		r.Shop.Location,
		strconv.FormatBool(r.Shop.GoldMerchant),
		strconv.FormatBool(r.Shop.Official),
		strconv.FormatBool(r.Preorder),
	}
}

// FileName builds "<category>_products_<n>_<unixms>.csv" with spaces in the category
// replaced by underscores.
func FileName(category string, n int, at time.Time) string {
	return fmt.Sprintf("%s_products_%d_%d.csv", strings.ReplaceAll(category, " ", "_"), n, at.UnixMilli())
}

// Exporter renders records to CSV and hands them to a blob store.
type Exporter struct {
	store  storage.BlobStore
	now    func() time.Time
	logger *zap.Logger
}

// Option customizes an Exporter.
type Option func(*Exporter)

// WithNow overrides the clock used for file names.
func WithNow(now func() time.Time) Option {
	return func(e *Exporter) {
		e.now = now
	}
}

// New returns an Exporter writing to store.
func New(store storage.BlobStore, logger *zap.Logger, opts ...Option) (*Exporter, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Exporter{store: store, now: time.Now, logger: logger.Named("export")}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Export writes records for category and returns the URI of the stored artifact.
func (e *Exporter) Export(ctx context.Context, category string, records []crawler.Record) (string, error) {
	if len(records) == 0 {
		return "", ErrNoRecords
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, records); err != nil {
		return "", err
	}
	name := FileName(category, len(records), e.now())
	uri, err := e.store.PutObject(ctx, name, ContentType, &buf)
	if err != nil {
		return "", fmt.Errorf("store export %s: %w", name, err)
	}
	e.logger.Info("exported records", zap.Int("records", len(records)), zap.String("uri", uri))
	return uri, nil
}

// Fanout writes every export to each store in order. The URI of the first store is
// reported; a failure on any store aborts.
type Fanout []storage.BlobStore

// PutObject implements storage.BlobStore.
func (f Fanout) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if len(f) == 0 {
		return "", errors.New("no blob stores configured")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read export: %w", err)
	}
	var first string
	for i, store := range f {
		uri, err := store.PutObject(ctx, path, contentType, bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("put %s on store %d: %w", path, i, err)
		}
		if i == 0 {
			first = uri
		}
	}
	return first, nil
}
