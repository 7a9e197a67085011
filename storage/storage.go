package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("object not found")

// Store is the capability surface the print pipeline needs from a
// storage backend. Create is an idempotent overwrite.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Create(ctx context.Context, key string, data []byte, contentType string) error
}
