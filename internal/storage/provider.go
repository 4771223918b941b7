// Package storage defines the blob sink used for run artifacts such as CSV exports.
// Listing persistence lives in the postgres, sqlite and memory subpackages.
package storage

import (
	"context"
	"io"
)

// BlobStore writes one object and returns a URI that locates it.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}
