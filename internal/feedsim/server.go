// Package feedsim is a small quote feed speaking plain text websocket frames.
// It stands in for the real upstream during development and tests.
package feedsim

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var DefaultSymbols = []string{"AAPL", "MSFT", "NVDA", "TSLA"}

type Option func(*Server)

// WithInterval emits one quote per interval on every connection. Zero disables
// the generator, leaving Broadcast as the only source.
func WithInterval(d time.Duration) Option {
	return func(s *Server) { s.interval = d }
}

func WithSymbols(symbols ...string) Option {
	return func(s *Server) {
		if len(symbols) > 0 {
			s.symbols = symbols
		}
	}
}

// Server is an http.Handler upgrading every request to a feed connection.
type Server struct {
	interval time.Duration
	symbols  []string

	mu       sync.Mutex
	conns    map[*feedConn]struct{}
	received []string

	reject   atomic.Int64
	accepted atomic.Int64
}

func New(opts ...Option) *Server {
	s := &Server{
		symbols: DefaultSymbols,
		conns:   make(map[*feedConn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type feedConn struct {
	net.Conn
	wmu  sync.Mutex
	done chan struct{}
	once sync.Once
}

func (c *feedConn) write(text string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return wsutil.WriteServerText(c.Conn, []byte(text))
}

func (c *feedConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.Conn.Close()
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.reject.Load() > 0 {
		s.reject.Add(-1)
		http.Error(w, "feed unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		slog.Warn("feedsim upgrade failed", "error", err)
		return
	}
	fc := &feedConn{Conn: conn, done: make(chan struct{})}

	s.mu.Lock()
	s.conns[fc] = struct{}{}
	s.mu.Unlock()
	s.accepted.Add(1)
	slog.Info("feedsim client connected", "remote", conn.RemoteAddr().String())

	if s.interval > 0 {
		go s.generate(fc)
	}
	go s.read(fc)
}

func (s *Server) read(fc *feedConn) {
	defer s.drop(fc)
	for {
		msg, op, err := wsutil.ReadClientData(fc.Conn)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}
		s.mu.Lock()
		s.received = append(s.received, string(msg))
		s.mu.Unlock()
	}
}

func (s *Server) generate(fc *feedConn) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	prices := make(map[string]float64, len(s.symbols))
	for _, sym := range s.symbols {
		prices[sym] = 100 + rand.Float64()*300
	}
	for {
		select {
		case <-fc.done:
			return
		case <-ticker.C:
			sym := s.symbols[rand.IntN(len(s.symbols))]
			prices[sym] *= 1 + (rand.Float64()-0.5)/100
			if err := fc.write(fmt.Sprintf("%s:%.2f", sym, prices[sym])); err != nil {
				fc.close()
				return
			}
		}
	}
}

func (s *Server) drop(fc *feedConn) {
	fc.close()
	s.mu.Lock()
	delete(s.conns, fc)
	s.mu.Unlock()
}

func (s *Server) snapshot() []*feedConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*feedConn, 0, len(s.conns))
	for fc := range s.conns {
		out = append(out, fc)
	}
	return out
}

// Broadcast writes text to every connected client and reports how many got it.
func (s *Server) Broadcast(text string) int {
	n := 0
	for _, fc := range s.snapshot() {
		if err := fc.write(text); err != nil {
			s.drop(fc)
			continue
		}
		n++
	}
	return n
}

// DropAll closes every client connection without a close handshake.
func (s *Server) DropAll() {
	for _, fc := range s.snapshot() {
		s.drop(fc)
	}
}

// RejectNext answers the next n upgrade requests with 503.
func (s *Server) RejectNext(n int) {
	s.reject.Store(int64(n))
}

func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Accepted counts upgrades since the server was created.
func (s *Server) Accepted() int {
	return int(s.accepted.Load())
}

// Received returns every text frame clients have sent, in arrival order.
func (s *Server) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// Count reports how many received frames equal text.
func (s *Server) Count(text string) int {
	n := 0
	for _, m := range s.Received() {
		if m == text {
			n++
		}
	}
	return n
}

// Symbols returns the generator's symbols sorted.
func (s *Server) Symbols() []string {
	out := append([]string(nil), s.symbols...)
	sort.Strings(out)
	return out
}
