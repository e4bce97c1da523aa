package relay

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgnsrekt/tv_relay/internal/metrics"
	"github.com/dgnsrekt/tv_relay/internal/transport"
)

// Subscriber is a registered downstream connection.
type Subscriber struct {
	ID          string
	Conn        transport.Conn
	ConnectedAt time.Time
}

// SubscriberInfo is the JSON view of a Subscriber.
type SubscriberInfo struct {
	ID          string    `json:"id"`
	ConnID      string    `json:"conn_id"`
	Open        bool      `json:"open"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Registry maps subscriber ids to their live connection. Reads never take a
// lock; each id is updated atomically and the online count only moves when an
// insert or delete actually changed the map.
type Registry struct {
	entries sync.Map // id -> *Subscriber
	count   atomic.Int64
	metrics *metrics.Relay
}

func NewRegistry(m *metrics.Relay) *Registry {
	return &Registry{metrics: m}
}

// Register maps id to conn, replacing any earlier mapping. The displaced
// connection, if any, is returned so the caller can retire it.
func (r *Registry) Register(id string, conn transport.Conn) (transport.Conn, bool) {
	sub := &Subscriber{ID: id, Conn: conn, ConnectedAt: time.Now().UTC()}
	prev, replaced := r.entries.Swap(id, sub)

	var online int64
	if replaced {
		online = r.count.Load()
	} else {
		online = r.count.Add(1)
	}
	r.metrics.SetOnline(online)
	slog.Info("subscriber registered", "id", id, "conn_id", conn.ID(), "replaced", replaced, "online", online)

	if !replaced {
		return nil, false
	}
	return prev.(*Subscriber).Conn, true
}

// Unregister removes id regardless of which connection it maps to.
func (r *Registry) Unregister(id string) bool {
	if _, ok := r.entries.LoadAndDelete(id); !ok {
		return false
	}
	r.removed(id)
	return true
}

// UnregisterConn removes id only while it still maps to conn, so a late close
// from a replaced connection cannot evict its successor.
func (r *Registry) UnregisterConn(id string, conn transport.Conn) bool {
	v, ok := r.entries.Load(id)
	if !ok {
		return false
	}
	sub := v.(*Subscriber)
	if sub.Conn != conn {
		return false
	}
	if !r.entries.CompareAndDelete(id, sub) {
		return false
	}
	r.removed(id)
	return true
}

func (r *Registry) removed(id string) {
	online := r.count.Add(-1)
	r.metrics.SetOnline(online)
	slog.Info("subscriber unregistered", "id", id, "online", online)
}

func (r *Registry) Lookup(id string) (transport.Conn, bool) {
	v, ok := r.entries.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Subscriber).Conn, true
}

// ForEachOnline calls fn for every registered subscriber. Entries added or
// removed during the walk may or may not be visited.
func (r *Registry) ForEachOnline(fn func(id string, conn transport.Conn)) {
	r.entries.Range(func(_, v any) bool {
		sub := v.(*Subscriber)
		fn(sub.ID, sub.Conn)
		return true
	})
}

// Count returns the number of registered ids.
func (r *Registry) Count() int64 {
	return r.count.Load()
}

// Subscribers returns a snapshot sorted by id.
func (r *Registry) Subscribers() []SubscriberInfo {
	var out []SubscriberInfo
	r.entries.Range(func(_, v any) bool {
		sub := v.(*Subscriber)
		out = append(out, SubscriberInfo{
			ID:          sub.ID,
			ConnID:      sub.Conn.ID(),
			Open:        sub.Conn.IsOpen(),
			ConnectedAt: sub.ConnectedAt,
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
