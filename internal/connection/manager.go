package connection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/goevery/notifier/internal/ierr"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

// ConnectedFunc runs after every successful (re)connection, before the
// connection is reported as CONNECTED. Returning an error counts as a
// failed attempt.
type ConnectedFunc func(ctx context.Context) error

type Handler func(payload []byte)

type Subscription struct {
	Id    string
	Topic string

	handler Handler
}

type Config struct {
	Backoff          Backoff
	MaxAttempts      int
	OperationTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Backoff: Backoff{
			Base: time.Second,
			Max:  30 * time.Second,
		},
		MaxAttempts:      10,
		OperationTimeout: 10 * time.Second,
	}
}

type Option func(*Manager)

func WithScheduler(scheduler Scheduler) Option {
	return func(m *Manager) {
		m.scheduler = scheduler
	}
}

// Manager keeps a single logical connection alive. Every dial, retry timer
// and delivery belongs to a generation; bumping the generation makes all
// in-flight work from earlier generations inert.
type Manager struct {
	logger    *zap.Logger
	transport Transport
	config    Config
	scheduler Scheduler

	subscribeMu sync.Mutex

	mu            sync.Mutex
	state         State
	attempts      int
	generation    uint64
	cancel        context.CancelFunc
	ctx           context.Context
	session       Session
	timer         Timer
	onConnected   ConnectedFunc
	subscriptions map[string][]*Subscription
	listeners     []StateListener
}

func NewManager(
	logger *zap.Logger,
	transport Transport,
	config Config,
	opts ...Option,
) *Manager {
	m := &Manager{
		logger:        logger,
		transport:     transport,
		config:        config,
		scheduler:     timeScheduler{},
		state:         StateDisconnected,
		subscriptions: make(map[string][]*Subscription),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Manager) OnStateChange(listener StateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listeners = append(m.listeners, listener)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.attempts
}

// Connect starts a connection cycle in the background. It is a no-op while
// a cycle is already connecting, connected or waiting to reconnect.
func (m *Manager) Connect(onConnected ConnectedFunc) {
	m.mu.Lock()

	if !m.state.Idle() {
		state := m.state
		m.mu.Unlock()

		m.logger.Debug("connect ignored, connection already active",
			zap.Stringer("state", state))

		return
	}

	if m.cancel != nil {
		m.cancel()
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.onConnected = onConnected
	m.attempts = 0
	m.generation++

	ctx := m.ctx
	generation := m.generation
	notify := m.setStateLocked(StateConnecting)

	m.mu.Unlock()

	notify()

	go m.attempt(ctx, generation)
}

// Retry restarts the connection cycle after the retry ceiling was reached.
func (m *Manager) Retry() {
	m.mu.Lock()

	if m.state != StateFailed {
		m.mu.Unlock()
		return
	}

	onConnected := m.onConnected

	m.mu.Unlock()

	m.logger.Info("manual reconnection requested")

	m.Connect(onConnected)
}

// Disconnect tears the connection down and resets the manager. It is safe
// to call at any time, any number of times.
func (m *Manager) Disconnect() {
	m.mu.Lock()

	if m.state == StateDisconnected {
		m.mu.Unlock()
		return
	}

	m.generation++

	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}

	session := m.session
	topics := m.topicsLocked()

	m.session = nil
	m.subscriptions = make(map[string][]*Subscription)
	m.attempts = 0
	m.onConnected = nil

	notify := m.setStateLocked(StateDisconnected)

	m.mu.Unlock()

	if session != nil {
		for _, topic := range topics {
			ctx, cancel := context.WithTimeout(context.Background(), m.config.OperationTimeout)
			err := session.Unsubscribe(ctx, topic)
			cancel()

			if err != nil {
				m.logger.Warn("failed to unsubscribe",
					zap.String("topic", topic),
					zap.Error(err))
			}
		}

		if err := session.Close(); err != nil {
			m.logger.Warn("failed to close session", zap.Error(err))
		}
	}

	notify()

	m.logger.Info("disconnected")
}

// Subscribe registers handler for topic on the current session. Handlers
// sharing a topic share one server-side subscription.
func (m *Manager) Subscribe(ctx context.Context, topic string, handler Handler) (*Subscription, error) {
	m.subscribeMu.Lock()
	defer m.subscribeMu.Unlock()

	m.mu.Lock()
	session := m.session
	generation := m.generation
	_, subscribed := m.subscriptions[topic]
	m.mu.Unlock()

	if session == nil {
		return nil, ierr.New(ierr.ErrorCodeFailedPrecondition, errors.New("not connected"))
	}

	if !subscribed {
		subscribeCtx, cancel := context.WithTimeout(ctx, m.config.OperationTimeout)
		defer cancel()

		if err := session.Subscribe(subscribeCtx, topic); err != nil {
			return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}

	subscription := &Subscription{
		Id:      gonanoid.Must(),
		Topic:   topic,
		handler: handler,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if generation != m.generation || session != m.session {
		return nil, ierr.New(ierr.ErrorCodeUnavailable, errors.New("connection lost while subscribing"))
	}

	m.subscriptions[topic] = append(m.subscriptions[topic], subscription)

	m.logger.Debug("subscribed",
		zap.String("topic", topic),
		zap.String("subscriptionId", subscription.Id))

	return subscription, nil
}

func (m *Manager) Unsubscribe(ctx context.Context, subscription *Subscription) error {
	m.subscribeMu.Lock()
	defer m.subscribeMu.Unlock()

	m.mu.Lock()

	subscriptions := m.subscriptions[subscription.Topic]

	index := slices.Index(subscriptions, subscription)
	if index < 0 {
		m.mu.Unlock()
		return nil
	}

	subscriptions = slices.Delete(subscriptions, index, index+1)

	last := len(subscriptions) == 0
	if last {
		delete(m.subscriptions, subscription.Topic)
	} else {
		m.subscriptions[subscription.Topic] = subscriptions
	}

	session := m.session

	m.mu.Unlock()

	if !last || session == nil {
		return nil
	}

	unsubscribeCtx, cancel := context.WithTimeout(ctx, m.config.OperationTimeout)
	defer cancel()

	return session.Unsubscribe(unsubscribeCtx, subscription.Topic)
}

func (m *Manager) attempt(ctx context.Context, generation uint64) {
	session, err := m.transport.Dial(ctx, m.deliver(generation))
	if err != nil {
		m.fail(generation, nil, err)
		return
	}

	m.mu.Lock()

	if generation != m.generation {
		m.mu.Unlock()
		session.Close()

		return
	}

	m.session = session
	onConnected := m.onConnected

	m.mu.Unlock()

	if onConnected != nil {
		if err := onConnected(ctx); err != nil {
			m.fail(generation, session, err)
			return
		}
	}

	m.mu.Lock()

	if generation != m.generation {
		m.mu.Unlock()
		return
	}

	m.attempts = 0
	notify := m.setStateLocked(StateConnected)

	m.mu.Unlock()

	notify()

	m.logger.Info("connected")

	go m.watch(ctx, generation, session)
}

func (m *Manager) watch(ctx context.Context, generation uint64, session Session) {
	select {
	case <-session.Done():
		m.fail(generation, session, errors.New("connection lost"))
	case <-ctx.Done():
	}
}

func (m *Manager) fail(generation uint64, session Session, cause error) {
	m.mu.Lock()

	if generation != m.generation {
		m.mu.Unlock()
		return
	}

	if session != nil && session == m.session {
		m.session = nil
		m.subscriptions = make(map[string][]*Subscription)
	}

	m.logger.Warn("connection failed",
		zap.Error(cause),
		zap.Int("attempts", m.attempts))

	notify := m.scheduleRetryLocked()

	m.mu.Unlock()

	if session != nil {
		session.Close()
	}

	notify()
}

func (m *Manager) scheduleRetryLocked() func() {
	if m.attempts >= m.config.MaxAttempts {
		m.logger.Error("reconnection attempts exhausted, giving up",
			zap.Int("maxAttempts", m.config.MaxAttempts))

		return m.setStateLocked(StateFailed)
	}

	m.attempts++

	delay := m.config.Backoff.Delay(m.attempts)
	generation := m.generation

	m.logger.Info("scheduling reconnection",
		zap.Duration("delay", delay),
		zap.Int("attempt", m.attempts),
		zap.Int("maxAttempts", m.config.MaxAttempts))

	m.timer = m.scheduler.AfterFunc(delay, func() {
		m.reconnect(generation)
	})

	return m.setStateLocked(StateReconnecting)
}

func (m *Manager) reconnect(generation uint64) {
	m.mu.Lock()

	if generation != m.generation || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}

	m.timer = nil
	m.generation++

	ctx := m.ctx
	next := m.generation

	m.mu.Unlock()

	m.attempt(ctx, next)
}

func (m *Manager) deliver(generation uint64) Delivery {
	return func(topic string, payload []byte) {
		m.mu.Lock()

		if generation != m.generation {
			m.mu.Unlock()
			return
		}

		subscriptions := slices.Clone(m.subscriptions[topic])

		m.mu.Unlock()

		for _, subscription := range subscriptions {
			subscription.handler(payload)
		}
	}
}

func (m *Manager) topicsLocked() []string {
	topics := make([]string, 0, len(m.subscriptions))
	for topic := range m.subscriptions {
		topics = append(topics, topic)
	}

	sort.Strings(topics)

	return topics
}

func (m *Manager) setStateLocked(state State) func() {
	from := m.state
	m.state = state

	if from == state {
		return func() {}
	}

	listeners := slices.Clone(m.listeners)

	return func() {
		for _, listener := range listeners {
			listener(from, state)
		}
	}
}
