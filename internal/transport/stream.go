package transport

import (
	"strings"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ObjectStream frames JSON-RPC objects as WebSocket text messages.
type ObjectStream struct {
	connection *websocket.Conn
}

func NewObjectStream(connection *websocket.Conn) *ObjectStream {
	return &ObjectStream{
		connection,
	}
}

func (s *ObjectStream) WriteObject(obj any) error {
	return s.connection.WriteJSON(obj)
}

func (s *ObjectStream) ReadObject(v any) error {
	return s.connection.ReadJSON(v)
}

func (s *ObjectStream) Close() error {
	return s.connection.Close()
}

type RPCLogger struct {
	logger *zap.SugaredLogger
}

func NewRPCLogger(logger *zap.Logger) *RPCLogger {
	return &RPCLogger{
		logger.Sugar(),
	}
}

func (l *RPCLogger) Printf(format string, v ...any) {
	l.logger.Debugf(strings.TrimSpace(format), v...)
}
