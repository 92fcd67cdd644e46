package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/goevery/notifier/internal/events"
	"github.com/goevery/notifier/internal/history"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	PushKindRefresh = "refresh"
	PushKindHistory = "history"
)

// PushMessage is one frame on the /events stream. Exactly one of Event and
// History is set, matching Kind.
type PushMessage struct {
	Kind    string            `json:"kind"`
	Event   *events.Event     `json:"event,omitempty"`
	History *history.Snapshot `json:"history,omitempty"`
}

type RefreshSource interface {
	Subscribe(eventType events.Type, listener events.Listener) func()
}

type HistoryFeed interface {
	OnChange(listener history.ChangeListener) (history.Snapshot, func())
}

type EventServerConfig struct {
	BufferSize   int
	WriteTimeout time.Duration
}

// EventServer pushes refresh signals and history snapshots to panels over
// a websocket, so they do not have to poll the REST endpoints.
type EventServer struct {
	logger   *zap.Logger
	upgrader *websocket.Upgrader
	refresh  RefreshSource
	history  HistoryFeed
	config   EventServerConfig
}

func NewEventServer(
	logger *zap.Logger,
	upgrader *websocket.Upgrader,
	refresh RefreshSource,
	history HistoryFeed,
	config EventServerConfig,
) *EventServer {
	if config.BufferSize <= 0 {
		config.BufferSize = 64
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}

	return &EventServer{
		logger,
		upgrader,
		refresh,
		history,
		config,
	}
}

func (s *EventServer) Register(router *mux.Router) {
	router.HandleFunc("/events", s.stream).Methods("GET")
}

func (s *EventServer) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade events connection", zap.Error(err))
		return
	}
	defer conn.Close()

	conn.SetReadLimit(1024)

	logger := s.logger.With(zap.String("remoteAddr", r.RemoteAddr))
	logger.Info("events connection established")

	outbox := newOutbox(s.config.BufferSize)

	initial, cancelHistory := s.history.OnChange(func(snapshot history.Snapshot) {
		outbox.push(PushMessage{Kind: PushKindHistory, History: &snapshot})
	})
	defer cancelHistory()

	for _, eventType := range []events.Type{events.NewOrder, events.OrderCompleted, events.InventoryUpdated} {
		cancel := s.refresh.Subscribe(eventType, func(event events.Event) {
			outbox.push(PushMessage{Kind: PushKindRefresh, Event: &event})
		})
		defer cancel()
	}

	outbox.pushFront(PushMessage{Kind: PushKindHistory, History: &initial})

	// Panels only listen; reading keeps control frames flowing and notices
	// the close.
	go func() {
		defer outbox.close()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-outbox.done:
			logger.Info("events connection closed")
			return
		case <-outbox.ready:
		}

		for _, message := range outbox.drain() {
			conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))

			if err := conn.WriteJSON(message); err != nil {
				logger.Info("events connection closed", zap.Error(err))
				return
			}
		}

		if outbox.overflowed() {
			logger.Warn("events client too slow, closing connection")
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too slow"),
				time.Now().Add(s.config.WriteTimeout),
			)
			return
		}
	}
}

// outbox queues frames for one connection without blocking publishers.
// A full queue marks the connection as overflowed.
type outbox struct {
	limit int

	mu       sync.Mutex
	messages []PushMessage
	overflow bool
	closed   bool

	ready chan struct{}
	done  chan struct{}
}

func newOutbox(limit int) *outbox {
	return &outbox{
		limit: limit,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (o *outbox) push(message PushMessage) {
	o.mu.Lock()
	if len(o.messages) >= o.limit {
		o.overflow = true
	} else {
		o.messages = append(o.messages, message)
	}
	o.mu.Unlock()

	o.signal()
}

func (o *outbox) pushFront(message PushMessage) {
	o.mu.Lock()
	o.messages = append([]PushMessage{message}, o.messages...)
	o.mu.Unlock()

	o.signal()
}

func (o *outbox) signal() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}

func (o *outbox) drain() []PushMessage {
	o.mu.Lock()
	defer o.mu.Unlock()

	messages := o.messages
	o.messages = nil

	return messages
}

func (o *outbox) overflowed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.overflow
}

func (o *outbox) close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.done)
	}
}
