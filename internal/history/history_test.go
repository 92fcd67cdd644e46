package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goevery/notifier/internal/notification"
	"github.com/goevery/notifier/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const key = "notifications"

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)

	value, _ := args.Get(0).([]byte)

	return value, args.Error(1)
}

func (m *MockStorage) Set(ctx context.Context, key string, value []byte) error {
	return m.Called(ctx, key, value).Error(0)
}

func (m *MockStorage) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func newNotification(i int) notification.Notification {
	return notification.Notification{
		Id:        fmt.Sprintf("n%d", i),
		Type:      notification.TypeNewOrder,
		Title:     "New order",
		Message:   fmt.Sprintf("Order #%d", i),
		Timestamp: notification.Timestamp{Time: time.Date(2024, 5, 1, 12, i, 0, 0, time.UTC)},
	}
}

func ids(items []notification.Notification) []string {
	result := make([]string, 0, len(items))
	for _, n := range items {
		result = append(result, n.Id)
	}

	return result
}

func confirmed(context.Context) bool { return true }

func declined(context.Context) bool { return false }

func newTestManager(t *testing.T, s storage.Storage) *Manager {
	t.Helper()

	logger, _ := zap.NewDevelopment()

	return NewManager(logger, s, key, DefaultLimit)
}

func TestManager_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("bounded newest first", func(t *testing.T) {
		manager := newTestManager(t, storage.NewMemoryStorage())

		for i := 1; i <= 60; i++ {
			assert.True(t, manager.Append(ctx, newNotification(i)))
		}

		items := manager.List()
		require.Len(t, items, 50)
		assert.Equal(t, "n60", items[0].Id)
		assert.Equal(t, "n11", items[49].Id)
		assert.Equal(t, 50, manager.UnreadCount())
	})

	t.Run("duplicate ids are ignored", func(t *testing.T) {
		manager := newTestManager(t, storage.NewMemoryStorage())

		assert.True(t, manager.Append(ctx, newNotification(1)))
		assert.True(t, manager.MarkRead(ctx, "n1"))

		duplicate := newNotification(1)
		duplicate.Title = "Replayed"
		assert.False(t, manager.Append(ctx, duplicate))

		items := manager.List()
		require.Len(t, items, 1)
		assert.Equal(t, "New order", items[0].Title)
		assert.True(t, items[0].Read)
		assert.Equal(t, 0, manager.UnreadCount())
	})

	t.Run("arrives unread", func(t *testing.T) {
		manager := newTestManager(t, storage.NewMemoryStorage())

		n := newNotification(1)
		n.Read = true
		manager.Append(ctx, n)

		assert.Equal(t, 1, manager.UnreadCount())
	})
}

func TestManager_UnreadCount(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t, storage.NewMemoryStorage())

	assert.Equal(t, 0, manager.UnreadCount())

	for i := 1; i <= 3; i++ {
		manager.Append(ctx, newNotification(i))
	}
	assert.Equal(t, 3, manager.UnreadCount())

	assert.True(t, manager.MarkRead(ctx, "n2"))
	assert.Equal(t, 2, manager.UnreadCount())

	assert.True(t, manager.MarkRead(ctx, "n2"))
	assert.Equal(t, 2, manager.UnreadCount())

	assert.False(t, manager.MarkRead(ctx, "missing"))
	assert.Equal(t, 2, manager.UnreadCount())

	assert.Equal(t, 2, manager.MarkAllRead(ctx))
	assert.Equal(t, 0, manager.UnreadCount())
	assert.Equal(t, 0, manager.MarkAllRead(ctx))

	manager.Append(ctx, newNotification(4))
	assert.Equal(t, 1, manager.UnreadCount())

	assert.True(t, manager.ClearAll(ctx, confirmed))
	assert.Equal(t, 0, manager.UnreadCount())
	assert.Empty(t, manager.List())
}

func TestManager_ClearAll(t *testing.T) {
	ctx := context.Background()

	t.Run("requires confirmation", func(t *testing.T) {
		store := storage.NewMemoryStorage()
		manager := newTestManager(t, store)
		manager.Append(ctx, newNotification(1))

		assert.False(t, manager.ClearAll(ctx, declined))
		assert.False(t, manager.ClearAll(ctx, nil))
		assert.Len(t, manager.List(), 1)

		assert.True(t, manager.ClearAll(ctx, confirmed))
		assert.Empty(t, manager.List())

		_, err := store.Get(ctx, key)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestManager_Persistence(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		store := storage.NewMemoryStorage()
		manager := newTestManager(t, store)

		for i := 1; i <= 3; i++ {
			manager.Append(ctx, newNotification(i))
		}
		manager.MarkRead(ctx, "n2")

		reloaded := newTestManager(t, store)
		reloaded.Load(ctx)

		assert.Equal(t, manager.List(), reloaded.List())
		assert.Equal(t, []string{"n3", "n2", "n1"}, ids(reloaded.List()))
		assert.Equal(t, 2, reloaded.UnreadCount())
	})

	t.Run("missing key starts empty", func(t *testing.T) {
		manager := newTestManager(t, storage.NewMemoryStorage())
		manager.Load(ctx)

		assert.Empty(t, manager.List())
	})

	t.Run("corrupt data is discarded", func(t *testing.T) {
		store := storage.NewMemoryStorage()
		require.NoError(t, store.Set(ctx, key, []byte(`{"not":"a list"`)))

		manager := newTestManager(t, store)
		manager.Load(ctx)

		assert.Empty(t, manager.List())
		_, err := store.Get(ctx, key)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("stored list is sanitized", func(t *testing.T) {
		stored := []notification.Notification{newNotification(1), newNotification(1), {Id: "", Type: "NEW_ORDER"}}
		for i := 2; i <= 60; i++ {
			stored = append(stored, newNotification(i))
		}

		value, err := json.Marshal(stored)
		require.NoError(t, err)

		store := storage.NewMemoryStorage()
		require.NoError(t, store.Set(ctx, key, value))

		manager := newTestManager(t, store)
		manager.Load(ctx)

		items := manager.List()
		require.Len(t, items, 50)
		assert.Equal(t, "n1", items[0].Id)
		assert.Equal(t, "n50", items[49].Id)
	})

	t.Run("write failures keep memory authoritative", func(t *testing.T) {
		store := &MockStorage{}
		store.On("Set", mock.Anything, key, mock.Anything).Return(errors.New("quota exceeded"))

		manager := newTestManager(t, store)

		assert.True(t, manager.Append(ctx, newNotification(1)))
		assert.True(t, manager.MarkRead(ctx, "n1"))
		assert.Equal(t, 0, manager.UnreadCount())
		assert.Len(t, manager.List(), 1)

		store.AssertNumberOfCalls(t, "Set", 2)
	})

	t.Run("unreadable storage starts empty", func(t *testing.T) {
		store := &MockStorage{}
		store.On("Get", mock.Anything, key).Return(nil, errors.New("connection refused"))

		manager := newTestManager(t, store)
		manager.Load(ctx)

		assert.Empty(t, manager.List())
		store.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})
}

func TestManager_OnChange(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t, storage.NewMemoryStorage())

	manager.Append(ctx, newNotification(0))

	var snapshots []Snapshot
	initial, cancel := manager.OnChange(func(snapshot Snapshot) {
		snapshots = append(snapshots, snapshot)
	})

	assert.Equal(t, 1, initial.UnreadCount)
	assert.Equal(t, []string{"n0"}, ids(initial.Items))

	manager.Append(ctx, newNotification(1))
	manager.Append(ctx, newNotification(1))
	manager.MarkRead(ctx, "n1")

	require.Len(t, snapshots, 2)
	assert.Equal(t, 2, snapshots[0].UnreadCount)
	assert.Equal(t, 1, snapshots[1].UnreadCount)
	assert.Equal(t, []string{"n1", "n0"}, ids(snapshots[1].Items))

	cancel()
	cancel()
	manager.MarkAllRead(ctx)

	assert.Len(t, snapshots, 2)
}
