package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("transport: streaming not supported")

// SSEConn is a send-only subscriber connection over Server-Sent Events. Each
// outbound frame becomes one "message" event with one data line per payload line.
type SSEConn struct {
	id      string
	w       http.ResponseWriter
	flusher http.Flusher
	out     *outbox

	open     atomic.Bool
	closed   chan struct{}
	closeOne sync.Once
}

// NewSSEConn writes the event-stream headers and returns the connection.
func NewSSEConn(w http.ResponseWriter, sendQueue int) (*SSEConn, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	c := &SSEConn{
		id:      uuid.NewString(),
		w:       w,
		flusher: flusher,
		closed:  make(chan struct{}),
	}
	c.open.Store(true)
	c.out = newOutbox(sendQueue, c.writeEvent, func(error) { c.Close() })
	return c, nil
}

func (c *SSEConn) ID() string { return c.id }

func (c *SSEConn) IsOpen() bool { return c.open.Load() }

func (c *SSEConn) Send(text string, done func(error)) {
	if !c.open.Load() {
		complete(done, ErrClosed)
		return
	}
	c.out.send(text, done)
}

func (c *SSEConn) Close() error {
	c.closeOne.Do(func() {
		c.open.Store(false)
		close(c.closed)
	})
	return nil
}

// Serve blocks until ctx ends or the connection is closed, then stops the
// writer and reports HandleClose. The ResponseWriter must not be used after
// Serve returns.
func (c *SSEConn) Serve(ctx context.Context, h Handler) {
	var cause error
	select {
	case <-ctx.Done():
		cause = ctx.Err()
	case <-c.closed:
	}
	c.Close()
	c.out.close()
	c.out.wait()
	h.HandleClose(cause)
}

func (c *SSEConn) writeEvent(text string) error {
	var b strings.Builder
	b.WriteString("event: message\n")
	for _, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	if _, err := fmt.Fprint(c.w, b.String()); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}
