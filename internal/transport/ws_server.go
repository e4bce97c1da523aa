package transport

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type upgradeConfig struct {
	upgrader  websocket.Upgrader
	sendQueue int
}

// UpgradeOption customises an Upgrader.
type UpgradeOption func(*upgradeConfig)

// WithSendQueue sets the per-connection outbound queue length.
func WithSendQueue(n int) UpgradeOption {
	return func(c *upgradeConfig) {
		c.sendQueue = n
	}
}

// WithBufferSizes sets the gorilla read and write buffer sizes.
func WithBufferSizes(read, write int) UpgradeOption {
	return func(c *upgradeConfig) {
		c.upgrader.ReadBufferSize = read
		c.upgrader.WriteBufferSize = write
	}
}

// WithAllowedOrigins restricts upgrades to the listed Origin hosts. An entry
// of "*" allows any origin. With no option the gorilla same-origin check applies.
func WithAllowedOrigins(origins []string) UpgradeOption {
	return func(c *upgradeConfig) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]bool, len(origins))
		for _, o := range origins {
			allowed[strings.ToLower(strings.TrimSpace(o))] = true
		}
		c.upgrader.CheckOrigin = func(r *http.Request) bool {
			if allowed["*"] {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return allowed[strings.ToLower(u.Host)]
		}
	}
}

// Upgrader turns subscriber HTTP requests into WebSocket Conns.
type Upgrader struct {
	cfg upgradeConfig
}

func NewUpgrader(opts ...UpgradeOption) *Upgrader {
	cfg := upgradeConfig{
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
		},
		sendQueue: DefaultSendQueue,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Upgrader{cfg: cfg}
}

// Upgrade performs the WebSocket handshake. On failure gorilla has already
// written an HTTP error response.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*WSConn, error) {
	conn, err := u.cfg.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	c := &WSConn{
		id:   uuid.NewString(),
		conn: conn,
	}
	c.open.Store(true)
	c.out = newOutbox(u.cfg.sendQueue, c.writeText, c.fail)
	return c, nil
}

// WSConn is a server-side subscriber connection.
type WSConn struct {
	id   string
	conn *websocket.Conn
	out  *outbox

	open     atomic.Bool
	shutOnce sync.Once
	handler  Handler
}

func (c *WSConn) ID() string { return c.id }

func (c *WSConn) IsOpen() bool { return c.open.Load() }

func (c *WSConn) Send(text string, done func(error)) {
	if !c.open.Load() {
		complete(done, ErrClosed)
		return
	}
	c.out.send(text, done)
}

func (c *WSConn) Close() error {
	if c.open.Load() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
			slog.Debug("ws close frame write failed", "conn_id", c.id, "error", err)
		}
	}
	return c.conn.Close()
}

// Serve runs the read loop on the calling goroutine until the connection ends,
// then reports HandleClose to h. It waits for the writer to stop before returning.
func (c *WSConn) Serve(h Handler) {
	c.handler = h
	var cause error
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			cause = err
			break
		}
		h.HandleMessage(string(data))
	}
	c.shutdown(cause)
	c.out.wait()
}

func (c *WSConn) writeText(text string) error {
	return c.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

// fail is called from the writer goroutine; closing the socket unblocks Serve.
func (c *WSConn) fail(err error) {
	slog.Debug("ws write failed", "conn_id", c.id, "error", err)
	c.open.Store(false)
	_ = c.conn.Close()
}

func (c *WSConn) shutdown(cause error) {
	c.shutOnce.Do(func() {
		c.open.Store(false)
		c.out.close()
		_ = c.conn.Close()
		if c.handler == nil {
			return
		}
		if cause != nil && !isCleanWSClose(cause) {
			c.handler.HandleError(cause)
		}
		c.handler.HandleClose(cause)
	})
}

func isCleanWSClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return isCleanClose(err)
}
