package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
)

// WSDialer opens client WebSocket connections to an upstream feed.
type WSDialer struct {
	DialTimeout time.Duration
	SendQueue   int
}

// Dial connects to addr and starts delivering frames to h. The returned Conn
// is open; h.HandleClose fires once the connection ends for any reason.
func (d WSDialer) Dial(ctx context.Context, addr string, h Handler) (Conn, error) {
	if d.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.DialTimeout)
		defer cancel()
	}

	netConn, br, _, err := ws.Dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	var r io.Reader = netConn
	if br != nil {
		// Data the server sent right after the handshake is still buffered.
		r = &handshakeReader{br: br, conn: netConn}
	}

	c := &wsClientConn{
		id:      uuid.NewString(),
		conn:    netConn,
		handler: h,
	}
	c.rw = struct {
		io.Reader
		io.Writer
	}{r, &c.w}
	c.w.w = netConn
	c.open.Store(true)
	c.out = newOutbox(d.SendQueue, c.writeText, c.fail)
	go c.readLoop()
	return c, nil
}

// handshakeReader serves the bytes buffered during the handshake, then returns
// the pooled reader to gobwas and reads the connection directly. Only the read
// loop uses it.
type handshakeReader struct {
	br   *bufio.Reader
	conn io.Reader
}

func (h *handshakeReader) Read(p []byte) (int, error) {
	if h.br != nil {
		if h.br.Buffered() > 0 {
			return h.br.Read(p)
		}
		ws.PutReader(h.br)
		h.br = nil
	}
	return h.conn.Read(p)
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

type wsClientConn struct {
	id      string
	conn    net.Conn
	rw      io.ReadWriter
	w       lockedWriter
	handler Handler
	out     *outbox

	open     atomic.Bool
	shutOnce sync.Once
}

func (c *wsClientConn) ID() string { return c.id }

func (c *wsClientConn) IsOpen() bool { return c.open.Load() }

func (c *wsClientConn) Send(text string, done func(error)) {
	if !c.open.Load() {
		complete(done, ErrClosed)
		return
	}
	c.out.send(text, done)
}

func (c *wsClientConn) Close() error {
	if c.open.Load() {
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		if err := wsutil.WriteClientMessage(&c.w, ws.OpClose, body); err != nil {
			slog.Debug("ws close frame write failed", "conn_id", c.id, "error", err)
		}
	}
	c.shutdown(nil)
	return nil
}

func (c *wsClientConn) writeText(text string) error {
	return wsutil.WriteClientText(&c.w, []byte(text))
}

func (c *wsClientConn) fail(err error) {
	c.shutdown(err)
}

func (c *wsClientConn) readLoop() {
	for {
		data, op, err := wsutil.ReadServerData(c.rw)
		if err != nil {
			c.shutdown(err)
			return
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}
		c.handler.HandleMessage(string(data))
	}
}

func (c *wsClientConn) shutdown(cause error) {
	c.shutOnce.Do(func() {
		c.open.Store(false)
		c.out.close()
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			slog.Debug("ws conn close failed", "conn_id", c.id, "error", err)
		}
		if cause != nil && !isCleanClose(cause) {
			c.handler.HandleError(cause)
		}
		c.handler.HandleClose(cause)
	})
}

// isCleanClose reports whether err describes an orderly end of the stream.
func isCleanClose(err error) bool {
	var closed wsutil.ClosedError
	if errors.As(err, &closed) {
		return closed.Code == ws.StatusNormalClosure || closed.Code == ws.StatusGoingAway
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
