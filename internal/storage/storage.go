// Package storage is the bucket-side view of data source files: read an
// object, inspect it before download, and browse what can be loaded.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes one stored file. Keys are relative to the store's
// configured prefix.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

type ObjectStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// List returns the objects under prefix, ordered by key, at most limit
	// entries when limit is positive.
	List(ctx context.Context, prefix string, limit int) ([]ObjectInfo, error)
}
