// Package events carries refresh signals from the notification core to
// independently mounted panels that need to re-fetch their data.
package events

import (
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Type string

const (
	NewOrder         Type = "new-order"
	OrderCompleted   Type = "order-completed"
	InventoryUpdated Type = "inventory-updated"
)

type Event struct {
	Type           Type      `json:"type"`
	NotificationId string    `json:"notificationId,omitempty"`
	CreateTime     time.Time `json:"createTime"`
}

type Listener func(event Event)

type Bus struct {
	logger *zap.Logger

	mu        sync.RWMutex
	nextId    uint64
	listeners map[Type]map[uint64]Listener
}

func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger:    logger,
		listeners: make(map[Type]map[uint64]Listener),
	}
}

// Subscribe registers listener for one event type. The returned function
// removes it and may be called more than once.
func (b *Bus) Subscribe(eventType Type, listener Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextId++
	id := b.nextId

	if _, ok := b.listeners[eventType]; !ok {
		b.listeners[eventType] = make(map[uint64]Listener)
	}

	b.listeners[eventType][id] = listener

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		delete(b.listeners[eventType], id)
		if len(b.listeners[eventType]) == 0 {
			delete(b.listeners, eventType)
		}
	}
}

// Publish calls every listener of the event type synchronously, in
// subscription order. A panicking listener does not stop the others.
func (b *Bus) Publish(event Event) {
	if event.CreateTime.IsZero() {
		event.CreateTime = time.Now()
	}

	b.mu.RLock()
	ids := make([]uint64, 0, len(b.listeners[event.Type]))
	for id := range b.listeners[event.Type] {
		ids = append(ids, id)
	}
	listeners := make([]Listener, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		listeners = append(listeners, b.listeners[event.Type][id])
	}
	b.mu.RUnlock()

	for _, listener := range listeners {
		b.dispatch(event, listener)
	}
}

func (b *Bus) dispatch(event Event, listener Listener) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("refresh listener panicked",
				zap.String("event", string(event.Type)),
				zap.Any("panic", r))
		}
	}()

	listener(event)
}
