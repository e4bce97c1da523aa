// Package transport adapts WebSocket and SSE connections to the small
// asynchronous Conn interface the relay engine consumes.
package transport

import "errors"

var (
	// ErrClosed is reported for sends on a connection that has been closed.
	ErrClosed = errors.New("transport: connection closed")
	// ErrSendQueueFull is reported when a connection's outbound queue is saturated.
	ErrSendQueueFull = errors.New("transport: send queue full")
)

// DefaultSendQueue is the outbound queue length used when none is configured.
const DefaultSendQueue = 256

// Conn is a bidirectional text channel with asynchronous sends.
type Conn interface {
	// ID returns a process-unique connection identifier used in logs.
	ID() string
	// Send queues text for delivery without blocking. done, if non-nil, is
	// invoked exactly once with the write result.
	Send(text string, done func(error))
	IsOpen() bool
	Close() error
}

// Handler receives connection events. HandleClose is called exactly once per
// connection, after HandleError when the connection failed.
type Handler interface {
	HandleMessage(text string)
	HandleClose(reason error)
	HandleError(cause error)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are ignored.
type HandlerFuncs struct {
	OnMessage func(text string)
	OnClose   func(reason error)
	OnError   func(cause error)
}

func (h HandlerFuncs) HandleMessage(text string) {
	if h.OnMessage != nil {
		h.OnMessage(text)
	}
}

func (h HandlerFuncs) HandleClose(reason error) {
	if h.OnClose != nil {
		h.OnClose(reason)
	}
}

func (h HandlerFuncs) HandleError(cause error) {
	if h.OnError != nil {
		h.OnError(cause)
	}
}

func complete(done func(error), err error) {
	if done != nil {
		done(err)
	}
}
