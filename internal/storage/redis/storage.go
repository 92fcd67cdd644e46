package redis

import (
	"context"
	"errors"

	"github.com/goevery/notifier/internal/ierr"
	"github.com/goevery/notifier/internal/storage"
	"github.com/redis/go-redis/v9"
)

type Storage struct {
	client *redis.Client
	prefix string
}

// NewStorage namespaces every key with prefix so several profiles can share
// one redis database.
func NewStorage(client *redis.Client, prefix string) *Storage {
	return &Storage{
		client: client,
		prefix: prefix,
	}
}

func (s *Storage) key(key string) string {
	return s.prefix + key
}

func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeUnavailable, err)
	}

	return value, nil
}

func (s *Storage) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return ierr.New(ierr.ErrorCodeUnavailable, err)
	}

	return nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return ierr.New(ierr.ErrorCodeUnavailable, err)
	}

	return nil
}
