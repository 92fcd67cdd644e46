package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("storage: key not found")

// Storage is a flat key/value store holding serialized client state. Writers
// are not coordinated across processes: the last write wins.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
