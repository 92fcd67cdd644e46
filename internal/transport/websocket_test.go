package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goevery/notifier/internal/ierr"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testBroadcaster is a minimal broadcaster speaking the same protocol as the
// real server.
type testBroadcaster struct {
	t     *testing.T
	token string

	mu         sync.Mutex
	calls      []string
	conns      []*jsonrpc2.Conn
	heartbeats int
	published  []Message
}

func (b *testBroadcaster) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	b.mu.Lock()
	b.calls = append(b.calls, req.Method)
	b.mu.Unlock()

	switch req.Method {
	case "auth":
		var params authRequest
		assert.NoError(b.t, json.Unmarshal(*req.Params, &params))

		if params.Token != b.token {
			data := json.RawMessage(`{"code":"Unauthenticated","message":"invalid token"}`)
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "invalid token", Data: &data}
		}

		return authResponse{Success: true}, nil
	case "subscribe":
		var params subscribeRequest
		assert.NoError(b.t, json.Unmarshal(*req.Params, &params))

		if strings.HasPrefix(params.Channel, "admin") {
			data := json.RawMessage(`{"code":"PermissionDenied","message":"not authorized"}`)
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: "not authorized", Data: &data}
		}

		return subscribeResponse{SubscriptionId: "sub-1", Timestamp: time.Now()}, nil
	case "unsubscribe":
		return unsubscribeResponse{Success: true}, nil
	case "publish":
		var params struct {
			ChannelId string          `json:"channelId"`
			Payload   json.RawMessage `json:"payload"`
		}
		assert.NoError(b.t, json.Unmarshal(*req.Params, &params))

		if strings.HasPrefix(params.ChannelId, "admin") {
			data := json.RawMessage(`{"code":"PermissionDenied","message":"not authorized"}`)
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidRequest, Message: "not authorized", Data: &data}
		}

		b.mu.Lock()
		defer b.mu.Unlock()

		message := Message{
			Id:         "m-published",
			Seq:        uint64(len(b.published) + 1),
			CreateTime: time.Now(),
			Channel:    params.ChannelId,
			Payload:    params.Payload,
		}
		b.published = append(b.published, message)

		return message, nil
	case "heartbeat":
		b.mu.Lock()
		b.heartbeats++
		b.mu.Unlock()

		return heartbeatResponse{Timestamp: time.Now()}, nil
	default:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not found"}
	}
}

func (b *testBroadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn := jsonrpc2.NewConn(context.Background(), NewObjectStream(wsConn), jsonrpc2.HandlerWithError(b.handle))

	b.mu.Lock()
	b.conns = append(b.conns, conn)
	b.mu.Unlock()

	<-conn.DisconnectNotify()
}

func (b *testBroadcaster) Conn() *jsonrpc2.Conn {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.conns) == 0 {
		return nil
	}

	return b.conns[len(b.conns)-1]
}

func (b *testBroadcaster) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string(nil), b.calls...)
}

func (b *testBroadcaster) Published() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]Message(nil), b.published...)
}

func (b *testBroadcaster) Heartbeats() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.heartbeats
}

func newTestServer(t *testing.T, broadcaster *testBroadcaster) string {
	t.Helper()

	server := httptest.NewServer(broadcaster)
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

type received struct {
	topic   string
	payload string
}

type recorder struct {
	mu       sync.Mutex
	messages []received
}

func (r *recorder) deliver(topic string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, received{topic, string(payload)})
}

func (r *recorder) Messages() []received {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]received(nil), r.messages...)
}

func TestWebSocketTransport(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	ctx := context.Background()

	t.Run("successful flow", func(t *testing.T) {
		broadcaster := &testBroadcaster{t: t, token: "valid-token"}
		url := newTestServer(t, broadcaster)

		transport := NewWebSocketTransport(logger, websocket.DefaultDialer, Config{
			URL:   url,
			Token: "valid-token",
		})

		rec := &recorder{}
		session, err := transport.Dial(ctx, rec.deliver)
		require.NoError(t, err)
		defer session.Close()

		require.NoError(t, session.Subscribe(ctx, "notifications"))
		require.Eventually(t, func() bool { return broadcaster.Conn() != nil }, time.Second, 5*time.Millisecond)

		server := broadcaster.Conn()

		err = server.Notify(ctx, "broadcast", Message{
			Id:      "m1",
			Seq:     1,
			Channel: "notifications",
			Payload: json.RawMessage(`{"id":"n1","type":"NEW_ORDER"}`),
		})
		require.NoError(t, err)

		err = server.Notify(ctx, "broadcast", Message{
			Id:      "m2",
			Seq:     2,
			Channel: "notifications",
			Payload: json.RawMessage(`"{\"id\":\"n2\",\"type\":\"LOW_STOCK\"}"`),
		})
		require.NoError(t, err)

		require.Eventually(t, func() bool { return len(rec.Messages()) == 2 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, []received{
			{"notifications", `{"id":"n1","type":"NEW_ORDER"}`},
			{"notifications", `{"id":"n2","type":"LOW_STOCK"}`},
		}, rec.Messages())

		require.NoError(t, session.Unsubscribe(ctx, "notifications"))
		assert.Equal(t, []string{"auth", "subscribe", "unsubscribe"}, broadcaster.Calls())
	})

	t.Run("publish", func(t *testing.T) {
		broadcaster := &testBroadcaster{t: t, token: "valid-token"}
		url := newTestServer(t, broadcaster)

		transport := NewWebSocketTransport(logger, websocket.DefaultDialer, Config{
			URL:   url,
			Token: "valid-token",
		})

		session, err := transport.Dial(ctx, (&recorder{}).deliver)
		require.NoError(t, err)
		defer session.Close()

		err = session.(*Session).Send(ctx, "notifications", map[string]string{"id": "n1", "type": "NEW_ORDER"})
		require.NoError(t, err)

		published := broadcaster.Published()
		require.Len(t, published, 1)
		assert.Equal(t, "notifications", published[0].Channel)
		assert.JSONEq(t, `{"id":"n1","type":"NEW_ORDER"}`, string(published[0].Payload))

		err = session.(*Session).Send(ctx, "admin-owner:notifications", map[string]string{"id": "n2"})
		assert.True(t, ierr.Is(err, ierr.ErrorCodePermissionDenied))

		assert.Equal(t, []string{"auth", "publish", "publish"}, broadcaster.Calls())
	})

	t.Run("rejected token", func(t *testing.T) {
		broadcaster := &testBroadcaster{t: t, token: "valid-token"}
		url := newTestServer(t, broadcaster)

		transport := NewWebSocketTransport(logger, websocket.DefaultDialer, Config{
			URL:   url,
			Token: "stale-token",
		})

		session, err := transport.Dial(ctx, func(string, []byte) {})

		assert.Nil(t, session)
		assert.True(t, ierr.Is(err, ierr.ErrorCodeUnauthenticated))
	})

	t.Run("server unreachable", func(t *testing.T) {
		transport := NewWebSocketTransport(logger, websocket.DefaultDialer, Config{
			URL: "ws://127.0.0.1:1/websocket",
		})

		_, err := transport.Dial(ctx, func(string, []byte) {})

		assert.True(t, ierr.Is(err, ierr.ErrorCodeUnavailable))
	})

	t.Run("subscription refused", func(t *testing.T) {
		broadcaster := &testBroadcaster{t: t}
		url := newTestServer(t, broadcaster)

		transport := NewWebSocketTransport(logger, websocket.DefaultDialer, Config{URL: url})

		session, err := transport.Dial(ctx, func(string, []byte) {})
		require.NoError(t, err)
		defer session.Close()

		err = session.Subscribe(ctx, "admin-owner:notifications")

		assert.True(t, ierr.Is(err, ierr.ErrorCodePermissionDenied))
	})

	t.Run("done when server goes away", func(t *testing.T) {
		broadcaster := &testBroadcaster{t: t}
		url := newTestServer(t, broadcaster)

		transport := NewWebSocketTransport(logger, websocket.DefaultDialer, Config{URL: url})

		session, err := transport.Dial(ctx, func(string, []byte) {})
		require.NoError(t, err)

		require.Eventually(t, func() bool { return broadcaster.Conn() != nil }, time.Second, 5*time.Millisecond)
		require.NoError(t, broadcaster.Conn().Close())

		select {
		case <-session.Done():
		case <-time.After(time.Second):
			t.Fatal("session was not closed")
		}

		assert.NoError(t, session.Close())
	})

	t.Run("heartbeats", func(t *testing.T) {
		broadcaster := &testBroadcaster{t: t}
		url := newTestServer(t, broadcaster)

		transport := NewWebSocketTransport(logger, websocket.DefaultDialer, Config{
			URL:               url,
			HeartbeatInterval: 10 * time.Millisecond,
		})

		session, err := transport.Dial(ctx, func(string, []byte) {})
		require.NoError(t, err)
		defer session.Close()

		require.Eventually(t, func() bool { return broadcaster.Heartbeats() >= 2 }, time.Second, 5*time.Millisecond)
	})
}

func TestMapError(t *testing.T) {
	err := mapError("subscribe", &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not found"})
	assert.True(t, ierr.Is(err, ierr.ErrorCodeNotFound))

	err = mapError("subscribe", jsonrpc2.ErrClosed)
	assert.True(t, ierr.Is(err, ierr.ErrorCodeUnavailable))
	assert.True(t, errors.Is(err, jsonrpc2.ErrClosed))
}
