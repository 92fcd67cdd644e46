package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goevery/notifier/internal/storage"
	"github.com/goevery/notifier/internal/storage/file"
	"github.com/goevery/notifier/internal/storage/mongodb"
	redisstorage "github.com/goevery/notifier/internal/storage/redis"
	"github.com/goevery/notifier/internal/storage/sqlite"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// openStorage builds the storage backend named by STORAGE_DRIVER. The
// returned close function releases its connections.
func openStorage(ctx context.Context, logger *zap.Logger, settings Settings) (storage.Storage, func(), error) {
	logger = logger.With(zap.String("driver", settings.StorageDriver))

	switch settings.StorageDriver {
	case "memory":
		return storage.NewMemoryStorage(), func() {}, nil
	case "file":
		s, err := file.NewStorage(settings.StoragePath)
		if err != nil {
			return nil, nil, err
		}

		return s, func() {}, nil
	case "sqlite":
		if err := os.MkdirAll(settings.StoragePath, 0o700); err != nil {
			return nil, nil, fmt.Errorf("creating storage directory: %w", err)
		}

		s, err := sqlite.NewStorage(filepath.Join(settings.StoragePath, "notifier.db"))
		if err != nil {
			return nil, nil, err
		}

		return s, func() {
			if err := s.Close(); err != nil {
				logger.Warn("failed to close sqlite storage", zap.Error(err))
			}
		}, nil
	case "mongodb":
		client, err := mongo.Connect(options.Client().ApplyURI(settings.MongoDBURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to mongodb: %w", err)
		}

		if err := client.Ping(ctx, nil); err != nil {
			client.Disconnect(ctx)
			return nil, nil, fmt.Errorf("pinging mongodb: %w", err)
		}

		return mongodb.NewStorage(client, settings.MongoDBDatabase), func() {
			if err := client.Disconnect(context.Background()); err != nil {
				logger.Warn("failed to disconnect from mongodb", zap.Error(err))
			}
		}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: settings.RedisAddr,
		})

		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("pinging redis: %w", err)
		}

		return redisstorage.NewStorage(client, settings.RedisPrefix), func() {
			if err := client.Close(); err != nil {
				logger.Warn("failed to close redis client", zap.Error(err))
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver: %s", settings.StorageDriver)
	}
}
