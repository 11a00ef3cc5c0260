// Package objectstore places note PDFs and preview images in durable storage.
package objectstore

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidKey is returned for keys that are empty, absolute, or escape the store root.
var ErrInvalidKey = errors.New("objectstore: invalid key")

// Object describes a stored object.
type Object struct {
	Key        string
	Size       int64
	ModifiedAt time.Time
}

// Store writes, removes, and enumerates objects by slash-separated key.
// Delete of an absent key is not an error.
type Store interface {
	Put(ctx context.Context, key string, content []byte, contentType string) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Object, error)
}
