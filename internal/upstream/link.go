// Package upstream maintains the relay's single client connection to the
// feed source: connect, heartbeat, detect failure, reconnect.
package upstream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgnsrekt/tv_relay/internal/metrics"
	"github.com/dgnsrekt/tv_relay/internal/transport"
)

// State is the link lifecycle state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

const (
	DefaultHeartbeat         = "heart"
	DefaultHandshake         = "hello"
	DefaultHeartbeatInterval = 5 * time.Second
)

var ErrAlreadyStarted = errors.New("upstream: link already started")

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context, addr string, h transport.Handler) (transport.Conn, error)
}

// Sink receives every non-heartbeat frame from the feed.
type Sink interface {
	Dispatch(msg string)
}

// Sinks fans each frame out to several sinks in order.
type Sinks []Sink

func (s Sinks) Dispatch(msg string) {
	for _, sink := range s {
		sink.Dispatch(msg)
	}
}

// Options tunes the link. Zero values take the defaults above.
type Options struct {
	HeartbeatInterval time.Duration
	HeartbeatMessage  string
	// HandshakeMessage is sent on every successful connect. Empty disables it.
	HandshakeMessage string
	Retry            RetryPolicy

	OnStateChange func(from, to State)
	// OnGiveUp fires once the retry policy is exhausted.
	OnGiveUp func(attempts int, lastErr error)
	Metrics  *metrics.Relay
}

func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: DefaultHeartbeatInterval,
		HeartbeatMessage:  DefaultHeartbeat,
		HandshakeMessage:  DefaultHandshake,
		Retry:             DefaultRetryPolicy(),
	}
}

// Stats is a snapshot of link health.
type Stats struct {
	Addr                string     `json:"addr"`
	State               string     `json:"state"`
	Attempts            int64      `json:"attempts"`
	Connects            int64      `json:"connects"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	HeartbeatsSent      int64      `json:"heartbeats_sent"`
	LastError           string     `json:"last_error,omitempty"`
	ConnectedSince      *time.Time `json:"connected_since,omitempty"`
	GaveUp              bool       `json:"gave_up"`
}

// Link is the supervised upstream connection. Timers belong to states: the
// heartbeat runs only while Connected and the reconnect timer is armed only
// while Disconnected, so entering a state always cancels the other's timer.
type Link struct {
	addr   string
	dialer Dialer
	sink   Sink
	opts   Options

	mu          sync.Mutex
	started     bool
	closed      bool
	ctx         context.Context
	cancel      context.CancelFunc
	state       State
	conn        transport.Conn
	hbStop      chan struct{}
	reconnect   *time.Timer
	timerSeq    uint64
	policy      backoff.BackOff
	failures    int
	lastErr     error
	connectedAt time.Time
	gaveUp      bool
	hooks       []func()

	gen        atomic.Uint64
	attempts   atomic.Int64
	connects   atomic.Int64
	heartbeats atomic.Int64
	wg         sync.WaitGroup
}

// New creates a link to addr. Call Start to begin connecting.
func New(addr string, dialer Dialer, sink Sink, opts Options) *Link {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.HeartbeatMessage == "" {
		opts.HeartbeatMessage = DefaultHeartbeat
	}
	return &Link{
		addr:   addr,
		dialer: dialer,
		sink:   sink,
		opts:   opts,
		state:  Disconnected,
		policy: opts.Retry.backOff(),
	}
}

// Start makes the first connection attempt in the background.
func (l *Link) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return ErrAlreadyStarted
	}
	l.started = true
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.setState(Connecting)
	l.wg.Add(1)
	l.unlock()

	slog.Info("upstream link starting", "addr", l.addr)
	go l.connect()
	return nil
}

// Close stops all timers, closes the connection, and waits for background work.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	if l.cancel != nil {
		l.cancel()
	}
	conn := l.conn
	l.conn = nil
	l.stopHeartbeat()
	l.stopReconnect()
	l.setState(Disconnected)
	l.unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			slog.Debug("upstream close failed", "error", err)
		}
	}
	l.wg.Wait()
	slog.Info("upstream link closed", "addr", l.addr)
	return nil
}

func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := Stats{
		Addr:                l.addr,
		State:               l.state.String(),
		Attempts:            l.attempts.Load(),
		Connects:            l.connects.Load(),
		ConsecutiveFailures: l.failures,
		HeartbeatsSent:      l.heartbeats.Load(),
		GaveUp:              l.gaveUp,
	}
	if l.lastErr != nil {
		s.LastError = l.lastErr.Error()
	}
	if l.state == Connected {
		since := l.connectedAt
		s.ConnectedSince = &since
	}
	return s
}

// connect dials once. It runs with l.wg held and the link in Connecting.
func (l *Link) connect() {
	defer l.wg.Done()

	gen := l.gen.Add(1)
	l.attempts.Add(1)
	h := &connHandler{link: l, gen: gen}

	conn, err := l.dialer.Dial(l.ctx, l.addr, h)

	l.mu.Lock()
	if l.closed {
		l.unlock()
		// Closing fires the handler, which needs l.mu.
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	defer l.unlock()

	if err == nil && !conn.IsOpen() {
		err = transport.ErrClosed
	}
	if err != nil {
		l.failures++
		l.lastErr = err
		l.opts.Metrics.UpstreamConnectFailed()
		slog.Warn("upstream connect failed", "addr", l.addr, "attempt", l.failures, "error", err)
		l.enterDisconnected()
		return
	}

	l.conn = conn
	l.failures = 0
	l.lastErr = nil
	l.policy.Reset()
	l.connectedAt = time.Now().UTC()
	l.connects.Add(1)
	l.opts.Metrics.UpstreamConnected()
	l.enterConnected(conn)
	slog.Info("upstream connected", "addr", l.addr, "conn_id", conn.ID())
}

func (l *Link) enterConnected(conn transport.Conn) {
	l.stopReconnect()
	l.setState(Connected)
	if msg := l.opts.HandshakeMessage; msg != "" {
		conn.Send(msg, func(err error) {
			if err != nil {
				slog.Error("upstream handshake send failed", "error", err)
			}
		})
	}
	l.startHeartbeat(conn)
}

// enterDisconnected cancels the heartbeat and arms the reconnect timer, unless
// the retry policy is exhausted.
func (l *Link) enterDisconnected() {
	l.stopHeartbeat()
	l.setState(Disconnected)

	delay := l.policy.NextBackOff()
	if delay == backoff.Stop {
		l.gaveUp = true
		attempts, lastErr := int(l.attempts.Load()), l.lastErr
		slog.Error("upstream reconnect attempts exhausted", "addr", l.addr, "attempts", attempts, "error", lastErr)
		if fn := l.opts.OnGiveUp; fn != nil {
			l.hooks = append(l.hooks, func() { fn(attempts, lastErr) })
		}
		return
	}

	l.stopReconnect()
	l.timerSeq++
	seq := l.timerSeq
	l.reconnect = time.AfterFunc(delay, func() { l.reconnectFired(seq) })
	slog.Info("upstream reconnect scheduled", "addr", l.addr, "delay", delay)
}

func (l *Link) reconnectFired(seq uint64) {
	l.mu.Lock()
	if l.closed || seq != l.timerSeq || l.state != Disconnected {
		l.mu.Unlock()
		return
	}
	l.reconnect = nil
	l.setState(Connecting)
	l.wg.Add(1)
	l.unlock()

	l.connect()
}

// connectionLost handles close or error of the generation-gen connection.
// Callbacks from earlier connections are ignored.
func (l *Link) connectionLost(gen uint64, reason error) {
	l.mu.Lock()
	if l.closed || gen != l.gen.Load() || l.state != Connected {
		l.mu.Unlock()
		return
	}
	conn := l.conn
	l.conn = nil
	l.lastErr = reason
	slog.Warn("upstream connection lost", "addr", l.addr, "reason", reason)
	l.enterDisconnected()
	l.unlock()

	// The transport marks a conn closed before reporting, so this only
	// triggers for errors raised while the socket is still up.
	if conn != nil && conn.IsOpen() {
		_ = conn.Close()
	}
}

func (l *Link) startHeartbeat(conn transport.Conn) {
	l.stopHeartbeat()
	stop := make(chan struct{})
	l.hbStop = stop
	l.wg.Add(1)
	go l.heartbeat(conn, stop)
}

func (l *Link) stopHeartbeat() {
	if l.hbStop != nil {
		close(l.hbStop)
		l.hbStop = nil
	}
}

func (l *Link) stopReconnect() {
	if l.reconnect != nil {
		l.reconnect.Stop()
		l.reconnect = nil
	}
	l.timerSeq++
}

func (l *Link) heartbeat(conn transport.Conn, stop <-chan struct{}) {
	defer l.wg.Done()
	ticker := time.NewTicker(l.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !conn.IsOpen() {
				continue
			}
			conn.Send(l.opts.HeartbeatMessage, func(err error) {
				if err != nil {
					l.opts.Metrics.SendFailed(metrics.PathHeartbeat)
					slog.Error("upstream heartbeat send failed", "error", err)
					return
				}
				l.heartbeats.Add(1)
			})
		}
	}
}

// heartbeatArmed and reconnectArmed expose timer ownership to tests.
func (l *Link) heartbeatArmed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hbStop != nil
}

func (l *Link) reconnectArmed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reconnect != nil
}

// setState must be called with l.mu held.
func (l *Link) setState(to State) {
	from := l.state
	if from == to {
		return
	}
	l.state = to
	l.opts.Metrics.SetUpstreamState(int(to))
	slog.Debug("upstream state", "from", from.String(), "to", to.String())
	if fn := l.opts.OnStateChange; fn != nil {
		l.hooks = append(l.hooks, func() { fn(from, to) })
	}
}

// unlock releases l.mu and then runs hooks queued while it was held.
func (l *Link) unlock() {
	hooks := l.hooks
	l.hooks = nil
	l.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

type connHandler struct {
	link *Link
	gen  uint64
}

func (h *connHandler) HandleMessage(text string) {
	l := h.link
	if h.gen != l.gen.Load() {
		return
	}
	if text == "" || text == l.opts.HeartbeatMessage {
		return
	}
	l.sink.Dispatch(text)
}

func (h *connHandler) HandleClose(reason error) {
	h.link.connectionLost(h.gen, reason)
}

func (h *connHandler) HandleError(cause error) {
	slog.Error("upstream transport error", "addr", h.link.addr, "error", cause)
	h.link.connectionLost(h.gen, cause)
}
