package connection

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

type fakeTransport struct {
	mu       sync.Mutex
	dials    int
	failNext int
	failAll  bool
	sessions []*fakeSession
}

func (t *fakeTransport) Dial(ctx context.Context, deliver Delivery) (Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dials++

	if t.failAll || t.failNext > 0 {
		if t.failNext > 0 {
			t.failNext--
		}

		return nil, errors.New("connection refused")
	}

	session := &fakeSession{
		deliver: deliver,
		done:    make(chan struct{}),
	}
	t.sessions = append(t.sessions, session)

	return session, nil
}

func (t *fakeTransport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.dials
}

func (t *fakeTransport) SetFailAll(failAll bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failAll = failAll
}

func (t *fakeTransport) Session(i int) *fakeSession {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i >= len(t.sessions) {
		return nil
	}

	return t.sessions[i]
}

type fakeSession struct {
	deliver Delivery

	mu             sync.Mutex
	subscribed     []string
	unsubscribed   []string
	subscribeErr   error
	unsubscribeErr map[string]error
	closed         bool
	closeOnce      sync.Once
	done           chan struct{}
}

func (s *fakeSession) Subscribe(ctx context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.subscribeErr != nil {
		return s.subscribeErr
	}

	s.subscribed = append(s.subscribed, topic)

	return nil
}

func (s *fakeSession) Unsubscribe(ctx context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unsubscribed = append(s.unsubscribed, topic)

	return s.unsubscribeErr[topic]
}

func (s *fakeSession) Done() <-chan struct{} {
	return s.done
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		close(s.done)
	})

	return nil
}

// Drop simulates the server going away.
func (s *fakeSession) Drop() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Publish delivers payload the way a server would: only for topics the
// session subscribed to.
func (s *fakeSession) Publish(topic string, payload []byte) {
	s.mu.Lock()
	subscribed := slices.Contains(s.subscribed, topic) && !slices.Contains(s.unsubscribed, topic)
	s.mu.Unlock()

	if subscribed {
		s.deliver(topic, payload)
	}
}

func (s *fakeSession) Subscribed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.subscribed)
}

func (s *fakeSession) Unsubscribed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.unsubscribed)
}

func (s *fakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

type fakeTimer struct {
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	wasActive := !t.stopped && !t.fired
	t.stopped = true

	return wasActive
}

// fakeScheduler records requested delays; tests fire timers by hand.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(delay time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := &fakeTimer{delay: delay, f: f}
	s.timers = append(s.timers, timer)

	return timer
}

func (s *fakeScheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.timers)
}

func (s *fakeScheduler) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	delays := make([]time.Duration, len(s.timers))
	for i, timer := range s.timers {
		delays[i] = timer.delay
	}

	return delays
}

func (s *fakeScheduler) Last() *fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.timers) == 0 {
		return nil
	}

	return s.timers[len(s.timers)-1]
}

// FireLast runs the most recent timer callback synchronously, even when it
// was stopped, as a timer that expired concurrently with Stop would.
func (s *fakeScheduler) FireLast() {
	timer := s.Last()
	if timer == nil || timer.fired {
		return
	}

	timer.fired = true
	timer.f()
}
