package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goevery/notifier/internal/auth"
	"github.com/goevery/notifier/internal/connection"
	"github.com/goevery/notifier/internal/notification"
	"go.uber.org/zap"
)

type Connection interface {
	Connect(onConnected connection.ConnectedFunc)
	Disconnect()
	Subscribe(ctx context.Context, topic string, handler connection.Handler) (*connection.Subscription, error)
}

type Handler func(n notification.Notification)

// Router subscribes a session to the topics of its role and turns inbound
// payloads into notifications.
type Router struct {
	logger *zap.Logger
	conn   Connection
	table  TopicTable
	now    func() time.Time

	// Held for reading while a handler runs, so Stop waits for in-flight
	// deliveries.
	deliverMu sync.RWMutex
	active    bool
	session   uint64
}

func NewRouter(logger *zap.Logger, conn Connection, table TopicTable) *Router {
	return &Router{
		logger: logger,
		conn:   conn,
		table:  table,
		now:    time.Now,
	}
}

// Start connects and subscribes to the topics of role. Calling it again
// while started is a no-op.
func (r *Router) Start(role auth.Role, onNotification Handler) {
	r.deliverMu.Lock()

	if r.active {
		r.deliverMu.Unlock()
		r.logger.Debug("router already started", zap.String("role", string(role)))

		return
	}

	r.active = true
	r.session++
	session := r.session

	r.deliverMu.Unlock()

	topics := r.table.TopicsFor(role)

	r.logger.Info("starting notification router",
		zap.String("role", string(role)),
		zap.Strings("topics", topics))

	r.conn.Connect(func(ctx context.Context) error {
		for _, topic := range topics {
			if _, err := r.conn.Subscribe(ctx, topic, r.handler(session, topic, onNotification)); err != nil {
				return fmt.Errorf("subscribing to %s: %w", topic, err)
			}
		}

		return nil
	})
}

// Stop disconnects. Once it returns no handler call is in progress or will
// happen. Safe to call repeatedly.
func (r *Router) Stop() {
	r.deliverMu.Lock()
	wasActive := r.active
	r.active = false
	r.session++
	r.deliverMu.Unlock()

	r.conn.Disconnect()

	if wasActive {
		r.logger.Info("notification router stopped")
	}
}

func (r *Router) handler(session uint64, topic string, onNotification Handler) connection.Handler {
	logger := r.logger.With(zap.String("topic", topic))

	return func(payload []byte) {
		r.deliverMu.RLock()
		defer r.deliverMu.RUnlock()

		if !r.active || r.session != session {
			return
		}

		n, err := notification.Parse(payload, r.now())
		if err != nil {
			logger.Warn("dropping malformed notification",
				zap.Error(err),
				zap.ByteString("payload", payload))

			return
		}

		if !n.Type.Known() {
			logger.Debug("notification of unknown type",
				zap.String("notificationId", n.Id),
				zap.String("type", string(n.Type)))
		}

		r.dispatch(logger, n, onNotification)
	}
}

func (r *Router) dispatch(logger *zap.Logger, n notification.Notification, onNotification Handler) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("notification handler panicked",
				zap.String("notificationId", n.Id),
				zap.Any("panic", recovered))
		}
	}()

	onNotification(n)
}
