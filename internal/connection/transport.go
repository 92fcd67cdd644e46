package connection

import "context"

// Delivery receives every inbound message of a session, in the order the
// server sent them.
type Delivery func(topic string, payload []byte)

type Transport interface {
	Dial(ctx context.Context, deliver Delivery) (Session, error)
}

// Session is one established transport connection. Done is closed when the
// connection is lost or closed.
type Session interface {
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(ctx context.Context, topic string) error
	Done() <-chan struct{}
	Close() error
}
