package history

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"

	"github.com/goevery/notifier/internal/notification"
	"github.com/goevery/notifier/internal/storage"
	"go.uber.org/zap"
)

const DefaultLimit = 50

// Confirmer asks the user to confirm a destructive action.
type Confirmer func(ctx context.Context) bool

type Snapshot struct {
	Items       []notification.Notification `json:"items"`
	UnreadCount int                         `json:"unreadCount"`
}

type ChangeListener func(snapshot Snapshot)

// Manager owns the bounded, newest-first notification history and mirrors
// every change to storage. The in-memory list is authoritative: a failed
// write is logged and the next successful one catches up.
//
// Several processes sharing one storage key are not coordinated; the last
// write wins.
type Manager struct {
	logger  *zap.Logger
	storage storage.Storage
	key     string
	limit   int

	mu             sync.Mutex
	items          []notification.Notification
	nextListenerId uint64
	listeners      map[uint64]ChangeListener
}

func NewManager(
	logger *zap.Logger,
	storage storage.Storage,
	key string,
	limit int,
) *Manager {
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &Manager{
		logger:  logger.With(zap.String("historyKey", key)),
		storage: storage,
		key:     key,
		limit:     limit,
		listeners: make(map[uint64]ChangeListener),
	}
}

// OnChange registers listener for every later change. The returned
// snapshot is taken together with the registration, so no change falls
// between it and the first call. The returned function removes the
// listener.
func (m *Manager) OnChange(listener ChangeListener) (Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextListenerId++
	id := m.nextListenerId
	m.listeners[id] = listener

	return m.snapshotLocked(), func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		delete(m.listeners, id)
	}
}

// Load replaces the in-memory list with the persisted one. Corrupt data is
// discarded together with its key.
func (m *Manager) Load(ctx context.Context) {
	m.mu.Lock()

	m.items = m.readLocked(ctx)
	notify := m.changedLocked()

	m.mu.Unlock()

	notify()
}

// Append inserts n at the head and evicts from the tail. A notification
// whose id is already present is ignored.
func (m *Manager) Append(ctx context.Context, n notification.Notification) bool {
	m.mu.Lock()

	if m.indexLocked(n.Id) >= 0 {
		m.mu.Unlock()
		m.logger.Debug("duplicate notification ignored", zap.String("notificationId", n.Id))

		return false
	}

	n.Read = false

	items := make([]notification.Notification, 0, min(len(m.items)+1, m.limit))
	items = append(items, n)
	items = append(items, m.items[:min(len(m.items), m.limit-1)]...)

	m.items = items
	m.writeLocked(ctx)
	notify := m.changedLocked()

	m.mu.Unlock()

	notify()

	return true
}

// MarkRead reports whether a notification with id exists.
func (m *Manager) MarkRead(ctx context.Context, id string) bool {
	m.mu.Lock()

	index := m.indexLocked(id)
	if index < 0 {
		m.mu.Unlock()
		return false
	}

	if m.items[index].Read {
		m.mu.Unlock()
		return true
	}

	m.items[index].Read = true
	m.writeLocked(ctx)
	notify := m.changedLocked()

	m.mu.Unlock()

	notify()

	return true
}

// MarkAllRead returns how many notifications changed.
func (m *Manager) MarkAllRead(ctx context.Context) int {
	m.mu.Lock()

	changed := 0
	for i := range m.items {
		if !m.items[i].Read {
			m.items[i].Read = true
			changed++
		}
	}

	if changed == 0 {
		m.mu.Unlock()
		return 0
	}

	m.writeLocked(ctx)
	notify := m.changedLocked()

	m.mu.Unlock()

	notify()

	return changed
}

// ClearAll empties the history only when confirm agrees.
func (m *Manager) ClearAll(ctx context.Context, confirm Confirmer) bool {
	if confirm == nil || !confirm(ctx) {
		return false
	}

	m.mu.Lock()

	m.items = nil

	if err := m.storage.Delete(ctx, m.key); err != nil {
		m.logger.Warn("failed to delete persisted history", zap.Error(err))
	}

	notify := m.changedLocked()

	m.mu.Unlock()

	notify()

	m.logger.Info("notification history cleared")

	return true
}

func (m *Manager) Get(id string) (notification.Notification, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	index := m.indexLocked(id)
	if index < 0 {
		return notification.Notification{}, false
	}

	return m.items[index], true
}

func (m *Manager) List() []notification.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.items)
}

func (m *Manager) UnreadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return unreadCount(m.items)
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.snapshotLocked()
}

func (m *Manager) readLocked(ctx context.Context) []notification.Notification {
	value, err := m.storage.Get(ctx, m.key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		m.logger.Warn("failed to read persisted history, starting empty", zap.Error(err))
		return nil
	}

	var stored []notification.Notification
	if err := json.Unmarshal(value, &stored); err != nil {
		m.logger.Warn("discarding corrupt persisted history", zap.Error(err))

		if err := m.storage.Delete(ctx, m.key); err != nil {
			m.logger.Warn("failed to delete corrupt history", zap.Error(err))
		}

		return nil
	}

	items := make([]notification.Notification, 0, min(len(stored), m.limit))
	seen := make(map[string]struct{}, len(stored))

	for _, n := range stored {
		if len(items) == m.limit {
			break
		}

		if err := n.Validate(); err != nil {
			m.logger.Warn("skipping invalid persisted notification", zap.Error(err))
			continue
		}

		if _, ok := seen[n.Id]; ok {
			continue
		}

		seen[n.Id] = struct{}{}
		items = append(items, n)
	}

	return items
}

func (m *Manager) writeLocked(ctx context.Context) {
	items := m.items
	if items == nil {
		items = []notification.Notification{}
	}

	value, err := json.Marshal(items)
	if err != nil {
		m.logger.Error("failed to encode history", zap.Error(err))
		return
	}

	if err := m.storage.Set(ctx, m.key, value); err != nil {
		m.logger.Warn("failed to persist history", zap.Error(err))
	}
}

func (m *Manager) indexLocked(id string) int {
	return slices.IndexFunc(m.items, func(n notification.Notification) bool {
		return n.Id == id
	})
}

func (m *Manager) snapshotLocked() Snapshot {
	items := slices.Clone(m.items)
	if items == nil {
		items = []notification.Notification{}
	}

	return Snapshot{
		Items:       items,
		UnreadCount: unreadCount(m.items),
	}
}

func (m *Manager) changedLocked() func() {
	if len(m.listeners) == 0 {
		return func() {}
	}

	snapshot := m.snapshotLocked()

	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	listeners := make([]ChangeListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, m.listeners[id])
	}

	return func() {
		for _, listener := range listeners {
			listener(snapshot)
		}
	}
}

func unreadCount(items []notification.Notification) int {
	count := 0
	for _, n := range items {
		if !n.Read {
			count++
		}
	}

	return count
}
