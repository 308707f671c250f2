package channel

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrStopNotSupported is returned when a connection does not support graceful shutdown.
var ErrStopNotSupported = errors.New("channel connection stop not supported")

// InboundHandler is a callback invoked for every normalized inbound message.
type InboundHandler func(ctx context.Context, msg InboundMessage) error

// Adapter is the base interface every transport adapter must implement.
type Adapter interface {
	Type() ChannelType
}

// Sender is an adapter capable of delivering outbound text.
// Delivery success or failure is not observed by the engine.
type Sender interface {
	Send(ctx context.Context, msg OutboundMessage) error
}

// Receiver is an adapter capable of establishing a long-lived connection
// (long-poll or gateway) that forwards messages to the handler.
type Receiver interface {
	Connect(ctx context.Context, handler InboundHandler) (Connection, error)
}

// WebhookParser is an adapter that can decode a transport-specific webhook
// body into a normalized inbound message. ok is false for payloads the
// adapter recognizes but does not handle (edits, receipts, join events).
type WebhookParser interface {
	ParseWebhook(body []byte) (msg InboundMessage, ok bool, err error)
}

// Connection represents an active, long-lived link to a transport.
type Connection interface {
	ChannelType() ChannelType
	Stop(ctx context.Context) error
	Running() bool
}

// BaseConnection is a default Connection implementation backed by a stop function.
type BaseConnection struct {
	channelType ChannelType
	stop        func(ctx context.Context) error
	running     atomic.Bool
}

// NewConnection creates a BaseConnection for the given channel type and stop function.
func NewConnection(channelType ChannelType, stop func(ctx context.Context) error) *BaseConnection {
	conn := &BaseConnection{
		channelType: channelType,
		stop:        stop,
	}
	conn.running.Store(true)
	return conn
}

// ChannelType returns the type of channel this connection serves.
func (c *BaseConnection) ChannelType() ChannelType {
	return c.channelType
}

// Stop gracefully shuts down the connection.
func (c *BaseConnection) Stop(ctx context.Context) error {
	if c.stop == nil {
		return ErrStopNotSupported
	}
	c.running.Store(false)
	return c.stop(ctx)
}

// Running reports whether the connection is still active.
func (c *BaseConnection) Running() bool {
	return c.running.Load()
}
