// Package center ties one authenticated session together: it routes the
// role's topics into the history and fires the side effects of every new
// notification.
package center

import (
	"context"
	"sync"

	"github.com/goevery/notifier/internal/auth"
	"github.com/goevery/notifier/internal/connection"
	"github.com/goevery/notifier/internal/events"
	"github.com/goevery/notifier/internal/history"
	"github.com/goevery/notifier/internal/notification"
	"github.com/goevery/notifier/internal/platform"
	"github.com/goevery/notifier/internal/router"
	"go.uber.org/zap"
)

type Connection interface {
	State() connection.State
	Attempts() int
	Retry()
}

type Router interface {
	Start(role auth.Role, onNotification router.Handler)
	Stop()
}

var refreshSignals = map[notification.Type]events.Type{
	notification.TypeNewOrder:        events.NewOrder,
	notification.TypeOrderCompleted:  events.OrderCompleted,
	notification.TypeInventoryUpdate: events.InventoryUpdated,
}

type Status struct {
	State       connection.State    `json:"state"`
	Connected   bool                `json:"connected"`
	Attempts    int                 `json:"attempts"`
	Subject     string              `json:"subject,omitempty"`
	Role        auth.Role           `json:"role,omitempty"`
	UnreadCount int                 `json:"unreadCount"`
	Permission  platform.Permission `json:"permission"`
}

type Center struct {
	logger   *zap.Logger
	conn     Connection
	router   Router
	history  *history.Manager
	gate     *platform.PermissionGate
	notifier platform.Notifier
	sound    platform.SoundPlayer
	bus      *events.Bus

	mu             sync.Mutex
	authentication *auth.Authentication
	ctx            context.Context
	cancel         context.CancelFunc
}

func NewCenter(
	logger *zap.Logger,
	conn Connection,
	router Router,
	history *history.Manager,
	gate *platform.PermissionGate,
	notifier platform.Notifier,
	sound platform.SoundPlayer,
	bus *events.Bus,
) *Center {
	return &Center{
		logger:   logger,
		conn:     conn,
		router:   router,
		history:  history,
		gate:     gate,
		notifier: notifier,
		sound:    sound,
		bus:      bus,
	}
}

// Start loads the persisted history and begins receiving the topics of the
// authenticated role. A running session is stopped first.
func (c *Center) Start(ctx context.Context, authentication auth.Authentication) {
	c.Stop()

	c.history.Load(ctx)

	c.mu.Lock()
	c.authentication = &authentication
	c.ctx, c.cancel = context.WithCancel(context.Background())
	sessionCtx := c.ctx
	c.mu.Unlock()

	c.logger.Info("notification session started",
		zap.String("subject", authentication.Subject),
		zap.String("role", string(authentication.Role)))

	c.router.Start(authentication.Role, func(n notification.Notification) {
		c.handle(sessionCtx, n)
	})
}

// Stop ends the session. The history stays available for reading.
func (c *Center) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	started := c.authentication != nil
	c.authentication = nil
	c.cancel = nil
	c.mu.Unlock()

	c.router.Stop()

	if cancel != nil {
		cancel()
	}

	if started {
		c.logger.Info("notification session stopped")
	}
}

func (c *Center) handle(ctx context.Context, n notification.Notification) {
	if !c.history.Append(ctx, n) {
		return
	}

	c.logger.Info("notification received",
		zap.String("notificationId", n.Id),
		zap.String("type", string(n.Type)))

	c.present(ctx, n)
	c.signal(n)
}

func (c *Center) present(ctx context.Context, n notification.Notification) {
	if c.gate.Granted(ctx) {
		title := n.Type.Icon() + " " + n.Title
		if err := c.notifier.Show(ctx, title, n.Message); err != nil {
			c.logger.Warn("failed to show platform notification",
				zap.String("notificationId", n.Id),
				zap.Error(err))
		}
	}

	if err := c.sound.Play(platform.CueNotification); err != nil {
		c.logger.Debug("sound cue failed", zap.Error(err))
	}
}

func (c *Center) signal(n notification.Notification) {
	eventType, ok := refreshSignals[n.Type]
	if !ok {
		return
	}

	c.bus.Publish(events.Event{
		Type:           eventType,
		NotificationId: n.Id,
	})
}

// Open marks the notification read and returns where the user should land.
// Opening a new order re-fires its refresh signal. It reports false when no
// notification has that id.
func (c *Center) Open(ctx context.Context, id string) (string, bool) {
	n, ok := c.history.Get(id)
	if !ok {
		return "", false
	}

	c.history.MarkRead(ctx, id)

	if n.Type == notification.TypeNewOrder {
		c.bus.Publish(events.Event{
			Type:           events.NewOrder,
			NotificationId: n.Id,
		})
	}

	if n.TargetURL != "" {
		return n.TargetURL, true
	}

	return c.role().DashboardPath(), true
}

func (c *Center) MarkRead(ctx context.Context, id string) bool {
	return c.history.MarkRead(ctx, id)
}

func (c *Center) MarkAllRead(ctx context.Context) int {
	return c.history.MarkAllRead(ctx)
}

func (c *Center) ClearAll(ctx context.Context, confirm history.Confirmer) bool {
	return c.history.ClearAll(ctx, confirm)
}

func (c *Center) List() []notification.Notification {
	return c.history.List()
}

func (c *Center) Reconnect() {
	c.conn.Retry()
}

func (c *Center) Status(ctx context.Context) Status {
	status := Status{
		State:       c.conn.State(),
		Attempts:    c.conn.Attempts(),
		UnreadCount: c.history.UnreadCount(),
		Permission:  c.gate.State(ctx),
	}
	status.Connected = status.State == connection.StateConnected

	c.mu.Lock()
	if c.authentication != nil {
		status.Subject = c.authentication.Subject
		status.Role = c.authentication.Role
	}
	c.mu.Unlock()

	return status
}

func (c *Center) role() auth.Role {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.authentication == nil {
		return ""
	}

	return c.authentication.Role
}
