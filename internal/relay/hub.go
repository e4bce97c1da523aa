package relay

import (
	"errors"
	"log/slog"

	"github.com/dgnsrekt/tv_relay/internal/metrics"
	"github.com/dgnsrekt/tv_relay/internal/transport"
)

var (
	ErrNotRegistered = errors.New("relay: subscriber not registered")
	ErrConnClosed    = errors.New("relay: subscriber connection closed")
)

// Hub ties subscriber connection events to the registry and dispatcher.
type Hub struct {
	registry   *Registry
	dispatcher *Dispatcher
	ackMessage string
	metrics    *metrics.Relay
}

func NewHub(registry *Registry, dispatcher *Dispatcher, opts Options, m *metrics.Relay) *Hub {
	return &Hub{
		registry:   registry,
		dispatcher: dispatcher,
		ackMessage: opts.AckMessage,
		metrics:    m,
	}
}

// Connect registers conn under id and acknowledges it. A connection it
// displaces is closed.
func (h *Hub) Connect(id string, conn transport.Conn) {
	slog.Info("subscriber connecting", "id", id, "conn_id", conn.ID())
	if prev, ok := h.registry.Register(id, conn); ok && prev != conn {
		h.dispatcher.Release(id, prev)
		if err := prev.Close(); err != nil {
			slog.Debug("replaced subscriber close failed", "id", id, "conn_id", prev.ID(), "error", err)
		}
	}
	if h.ackMessage != "" {
		_ = h.SendDirect(id, h.ackMessage)
	}
}

// Disconnect drops the subscriber if id still belongs to conn.
func (h *Hub) Disconnect(id string, conn transport.Conn) {
	h.registry.UnregisterConn(id, conn)
	h.dispatcher.Release(id, conn)
}

// Error logs a transport failure and treats it as a disconnect.
func (h *Hub) Error(id string, conn transport.Conn, err error) {
	slog.Error("subscriber transport error", "id", id, "conn_id", conn.ID(), "error", err)
	h.Disconnect(id, conn)
}

// SendDirect delivers msg to one subscriber, bypassing its mailbox. Failures
// are logged; the returned error is informational.
func (h *Hub) SendDirect(id, msg string) error {
	conn, ok := h.registry.Lookup(id)
	if !ok {
		slog.Error("direct send target not registered", "id", id)
		return ErrNotRegistered
	}
	if !conn.IsOpen() {
		slog.Error("direct send target closed", "id", id, "conn_id", conn.ID())
		return ErrConnClosed
	}
	slog.Debug("direct send", "id", id, "conn_id", conn.ID(), "bytes", len(msg))
	conn.Send(msg, func(err error) {
		if err != nil {
			h.metrics.SendFailed(metrics.PathDirect)
			slog.Error("direct send failed", "id", id, "conn_id", conn.ID(), "error", err)
		}
	})
	return nil
}

// Handler returns the transport callbacks for a subscriber connection.
func (h *Hub) Handler(id string, conn transport.Conn) transport.Handler {
	return transport.HandlerFuncs{
		OnMessage: func(text string) {
			slog.Debug("subscriber message ignored", "id", id, "bytes", len(text))
		},
		OnError: func(err error) {
			h.Error(id, conn, err)
		},
		OnClose: func(reason error) {
			slog.Info("subscriber closed", "id", id, "conn_id", conn.ID(), "reason", reason)
			h.Disconnect(id, conn)
		},
	}
}

// CloseAll closes every registered connection. Close callbacks then
// unregister them.
func (h *Hub) CloseAll() int {
	n := 0
	h.registry.ForEachOnline(func(id string, conn transport.Conn) {
		if err := conn.Close(); err != nil {
			slog.Debug("subscriber close failed", "id", id, "conn_id", conn.ID(), "error", err)
		}
		n++
	})
	return n
}

func (h *Hub) Registry() *Registry { return h.registry }

func (h *Hub) Dispatcher() *Dispatcher { return h.dispatcher }
