package mailqueue

import "context"

// Transport delivers a message. A nil error means the message was accepted.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, msg Message) error

func (f TransportFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
