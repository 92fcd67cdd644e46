package platform

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/goevery/notifier/internal/storage"
	"go.uber.org/zap"
)

// PermissionGate remembers the platform permission under a storage key. It
// prompts at most once per gate and never again after a stored answer.
type PermissionGate struct {
	logger    *zap.Logger
	requester PermissionRequester
	storage   storage.Storage
	key       string

	mu        sync.Mutex
	loaded    bool
	requested bool
	state     Permission
}

func NewPermissionGate(
	logger *zap.Logger,
	requester PermissionRequester,
	storage storage.Storage,
	key string,
) *PermissionGate {
	return &PermissionGate{
		logger:    logger,
		requester: requester,
		storage:   storage,
		key:       key,
		state:     PermissionDefault,
	}
}

func (g *PermissionGate) State(ctx context.Context) Permission {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.loadLocked(ctx)

	return g.state
}

// Granted requests the permission lazily on first use.
func (g *PermissionGate) Granted(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.loadLocked(ctx)

	if g.state != PermissionDefault || g.requested {
		return g.state == PermissionGranted
	}

	g.requested = true

	permission, err := g.requester.RequestPermission(ctx)
	if err != nil {
		g.logger.Warn("notification permission request failed", zap.Error(err))
		return false
	}

	g.state = permission
	g.logger.Info("notification permission resolved", zap.String("permission", string(permission)))

	if permission == PermissionDefault {
		return false
	}

	value, _ := json.Marshal(permission)
	if err := g.storage.Set(ctx, g.key, value); err != nil {
		g.logger.Warn("failed to persist notification permission", zap.Error(err))
	}

	return permission == PermissionGranted
}

func (g *PermissionGate) loadLocked(ctx context.Context) {
	if g.loaded {
		return
	}

	g.loaded = true

	value, err := g.storage.Get(ctx, g.key)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		g.logger.Warn("failed to load notification permission", zap.Error(err))
		return
	}

	var permission Permission
	if err := json.Unmarshal(value, &permission); err != nil {
		g.logger.Warn("discarding corrupt notification permission", zap.Error(err))

		if err := g.storage.Delete(ctx, g.key); err != nil {
			g.logger.Warn("failed to delete corrupt notification permission", zap.Error(err))
		}

		return
	}

	switch permission {
	case PermissionGranted, PermissionDenied:
		g.state = permission
	}
}
