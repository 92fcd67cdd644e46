package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goevery/notifier/internal/connection"
	"github.com/goevery/notifier/internal/ierr"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"
)

const readLimit = 64 * 1024

type Config struct {
	URL               string
	Token             string
	HeartbeatInterval time.Duration
	CallTimeout       time.Duration
}

// WebSocketTransport dials the broadcaster and speaks JSON-RPC 2.0 over the
// socket.
type WebSocketTransport struct {
	logger *zap.Logger
	dialer *websocket.Dialer
	config Config
}

func NewWebSocketTransport(
	logger *zap.Logger,
	dialer *websocket.Dialer,
	config Config,
) *WebSocketTransport {
	if config.CallTimeout <= 0 {
		config.CallTimeout = 10 * time.Second
	}

	return &WebSocketTransport{
		logger,
		dialer,
		config,
	}
}

func (t *WebSocketTransport) Dial(ctx context.Context, deliver connection.Delivery) (connection.Session, error) {
	wsConn, _, err := t.dialer.DialContext(ctx, t.config.URL, nil)
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeUnavailable, fmt.Errorf("dialing %s: %w", t.config.URL, err))
	}

	wsConn.SetReadLimit(readLimit)

	session := &Session{
		logger:      t.logger,
		deliver:     deliver,
		callTimeout: t.config.CallTimeout,
	}

	session.conn = jsonrpc2.NewConn(
		context.Background(),
		NewObjectStream(wsConn),
		session,
		jsonrpc2.SetLogger(NewRPCLogger(t.logger)),
	)

	if t.config.Token != "" {
		if err := session.authenticate(ctx, t.config.Token); err != nil {
			session.Close()
			return nil, err
		}
	}

	if t.config.HeartbeatInterval > 0 {
		go session.heartbeat(t.config.HeartbeatInterval)
	}

	t.logger.Debug("websocket session established", zap.String("url", t.config.URL))

	return session, nil
}

type Session struct {
	logger      *zap.Logger
	deliver     connection.Delivery
	callTimeout time.Duration
	conn        *jsonrpc2.Conn

	closeOnce sync.Once
}

func (s *Session) Subscribe(ctx context.Context, topic string) error {
	var response subscribeResponse
	if err := s.call(ctx, "subscribe", subscribeRequest{Channel: topic}, &response); err != nil {
		return err
	}

	s.logger.Debug("server subscription created",
		zap.String("channel", topic),
		zap.String("subscriptionId", response.SubscriptionId))

	return nil
}

func (s *Session) Unsubscribe(ctx context.Context, topic string) error {
	var response unsubscribeResponse

	return s.call(ctx, "unsubscribe", subscribeRequest{Channel: topic}, &response)
}

// Send publishes payload on channel through the broadcaster.
func (s *Session) Send(ctx context.Context, channel string, payload any) error {
	var message Message

	return s.call(ctx, "publish", publishRequest{ChannelId: channel, Payload: payload}, &message)
}

func (s *Session) Done() <-chan struct{} {
	return s.conn.DisconnectNotify()
}

func (s *Session) Close() error {
	var err error

	s.closeOnce.Do(func() {
		err = s.conn.Close()
		if errors.Is(err, jsonrpc2.ErrClosed) {
			err = nil
		}
	})

	return err
}

// Handle receives server-initiated requests. jsonrpc2 calls it from the
// read loop, so deliveries keep the order the server sent them in.
func (s *Session) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	if req.Method == "broadcast" {
		s.handleBroadcast(req)

		if !req.Notif {
			if err := conn.Reply(ctx, req.ID, nil); err != nil {
				s.logger.Warn("failed to acknowledge broadcast", zap.Error(err))
			}
		}

		return
	}

	s.logger.Warn("unknown method", zap.String("method", req.Method))

	if req.Notif {
		return
	}

	if err := conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{
		Code:    jsonrpc2.CodeMethodNotFound,
		Message: "method not found",
	}); err != nil {
		s.logger.Error("failed to reply with error", zap.Error(err))
	}
}

func (s *Session) handleBroadcast(req *jsonrpc2.Request) {
	if req.Params == nil {
		s.logger.Warn("broadcast without params dropped")
		return
	}

	var message Message
	if err := json.Unmarshal(*req.Params, &message); err != nil {
		s.logger.Warn("malformed broadcast dropped", zap.Error(err))
		return
	}

	s.deliver(message.Channel, message.Body())
}

func (s *Session) authenticate(ctx context.Context, token string) error {
	var response authResponse
	if err := s.call(ctx, "auth", authRequest{Token: token}, &response); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}

	if !response.Success {
		return ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("authentication rejected"))
	}

	return nil
}

func (s *Session) heartbeat(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.conn.DisconnectNotify():
			return
		case <-ticker.C:
			var response heartbeatResponse
			if err := s.call(context.Background(), "heartbeat", nil, &response); err != nil {
				s.logger.Warn("heartbeat failed, closing session", zap.Error(err))
				s.Close()

				return
			}
		}
	}
}

func (s *Session) call(ctx context.Context, method string, params any, result any) error {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	if err := s.conn.Call(callCtx, method, params, result); err != nil {
		return mapError(method, err)
	}

	return nil
}

// mapError translates JSON-RPC failures into coded errors. The broadcaster
// puts its own error code into the error data when it has one.
func mapError(method string, err error) error {
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		if rpcErr.Data != nil {
			var coded ierr.Error
			if json.Unmarshal(*rpcErr.Data, &coded) == nil && coded.Code != "" {
				return ierr.New(coded.Code, fmt.Errorf("%s: %s", method, rpcErr.Message))
			}
		}

		return ierr.New(codeOf(rpcErr.Code), fmt.Errorf("%s: %s", method, rpcErr.Message))
	}

	return ierr.New(ierr.ErrorCodeUnavailable, fmt.Errorf("%s: %w", method, err))
}

func codeOf(code int64) ierr.ErrorCode {
	switch code {
	case jsonrpc2.CodeInvalidParams, jsonrpc2.CodeInvalidRequest, jsonrpc2.CodeParseError:
		return ierr.ErrorCodeInvalidArgument
	case jsonrpc2.CodeMethodNotFound:
		return ierr.ErrorCodeNotFound
	case jsonrpc2.CodeInternalError:
		return ierr.ErrorCodeInternal
	default:
		return ierr.ErrorCodeUnavailable
	}
}
