package upstream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/tv_relay/internal/transport"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []string
}

func (s *recordingSink) Dispatch(msg string) {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
}

func (s *recordingSink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

type stubConn struct {
	id   string
	open atomic.Bool

	mu   sync.Mutex
	sent []string
}

func (c *stubConn) ID() string   { return c.id }
func (c *stubConn) IsOpen() bool { return c.open.Load() }

func (c *stubConn) Send(text string, done func(error)) {
	c.mu.Lock()
	c.sent = append(c.sent, text)
	c.mu.Unlock()
	if done != nil {
		done(nil)
	}
}

func (c *stubConn) Close() error {
	c.open.Store(false)
	return nil
}

func (c *stubConn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

var errRefused = errors.New("connection refused")

// stubDialer fails the first failFor dials (all of them when failFor < 0) and
// hands out stubConns afterwards.
type stubDialer struct {
	failFor int

	mu       sync.Mutex
	calls    int
	handlers []transport.Handler
	conns    []*stubConn
}

func (d *stubDialer) Dial(_ context.Context, _ string, h transport.Handler) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.failFor < 0 || d.calls <= d.failFor {
		return nil, errRefused
	}
	c := &stubConn{id: strings.Repeat("c", d.calls)}
	c.open.Store(true)
	d.handlers = append(d.handlers, h)
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *stubDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *stubDialer) Handler(i int) transport.Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers[i]
}

func (d *stubDialer) Conn(i int) *stubConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func fastOptions() Options {
	return Options{
		HeartbeatInterval: 10 * time.Millisecond,
		HandshakeMessage:  DefaultHandshake,
		Retry:             RetryPolicy{Kind: RetryFixed, Delay: 5 * time.Millisecond},
	}
}

func startLink(t *testing.T, addr string, d Dialer, sink Sink, opts Options) *Link {
	t.Helper()
	l := New(addr, d, sink, opts)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func count(msgs []string, want string) int {
	n := 0
	for _, m := range msgs {
		if m == want {
			n++
		}
	}
	return n
}
