package relay

import (
	"log/slog"
	"runtime"
	"sync"

	"github.com/dgnsrekt/tv_relay/internal/metrics"
	"github.com/dgnsrekt/tv_relay/internal/transport"
)

// Submitter runs tasks on a bounded pool without blocking the caller.
type Submitter interface {
	Submit(task func()) error
}

// DispatcherStats summarises mailbox state.
type DispatcherStats struct {
	Mailboxes int   `json:"mailboxes"`
	Draining  int   `json:"draining"`
	Pending   int64 `json:"pending"`
	Dropped   int64 `json:"dropped"`
}

// Dispatcher fans inbound messages out to every online subscriber's mailbox
// and keeps at most one drain task or batch in flight per mailbox.
type Dispatcher struct {
	registry *Registry
	pool     Submitter
	opts     Options
	metrics  *metrics.Relay

	mailboxes sync.Map // id -> *Mailbox
}

func NewDispatcher(registry *Registry, pool Submitter, opts Options, m *metrics.Relay) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		pool:     pool,
		opts:     opts.withDefaults(),
		metrics:  m,
	}
}

// Dispatch distributes msg. Heartbeats and empty payloads are dropped.
func (d *Dispatcher) Dispatch(msg string) {
	if msg == "" || msg == d.opts.Heartbeat {
		return
	}
	d.metrics.MessageReceived()

	d.registry.ForEachOnline(func(id string, conn transport.Conn) {
		if !conn.IsOpen() {
			return
		}
		mb := d.mailboxFor(id, conn)
		if !mb.Enqueue(msg) {
			d.metrics.MessageDropped()
			slog.Warn("mailbox full, message dropped", "id", id, "limit", d.opts.MailboxLimit)
			return
		}
		d.metrics.MessageEnqueued()
		if mb.TryActivate() {
			d.schedule(mb)
		}
	})
}

// mailboxFor returns the mailbox bound to conn, replacing one that belongs to
// an earlier connection with the same id.
func (d *Dispatcher) mailboxFor(id string, conn transport.Conn) *Mailbox {
	for {
		v, ok := d.mailboxes.Load(id)
		if !ok {
			actual, _ := d.mailboxes.LoadOrStore(id, newMailbox(id, conn, d.opts.MailboxLimit))
			if mb := actual.(*Mailbox); mb.conn == conn {
				return mb
			}
			continue
		}
		mb := v.(*Mailbox)
		if mb.conn == conn {
			return mb
		}
		fresh := newMailbox(id, conn, d.opts.MailboxLimit)
		if d.mailboxes.CompareAndSwap(id, mb, fresh) {
			return fresh
		}
	}
}

func (d *Dispatcher) schedule(mb *Mailbox) {
	if err := d.pool.Submit(func() { d.drain(mb) }); err != nil {
		// Pool is shutting down; leave the mailbox claimable.
		mb.draining.Store(false)
		slog.Debug("drain not scheduled", "id", mb.owner, "error", err)
	}
}

// drain is the drain worker. It holds the mailbox's drainer slot from the
// first batch until the mailbox is empty, including while a batch is in
// flight: the next batch is popped only after the transport reports the
// previous one, so a slow subscriber's backlog stays in its mailbox.
func (d *Dispatcher) drain(mb *Mailbox) {
	if !mb.conn.IsOpen() {
		d.release(mb)
		return
	}
	batch, n := mb.drainBatch(d.opts.BatchSize)
	for n == 0 && mb.Pending() > 0 {
		// A producer has reserved depth but not linked its node yet.
		runtime.Gosched()
		batch, n = mb.drainBatch(d.opts.BatchSize)
	}
	if n == 0 {
		if mb.DeactivateAndRecheck() {
			d.schedule(mb)
		}
		return
	}
	d.metrics.BatchSent()
	mb.conn.Send(batch, func(err error) {
		if err != nil {
			d.metrics.SendFailed(metrics.PathBatch)
			slog.Error("batch send failed", "id", mb.owner, "conn_id", mb.conn.ID(), "messages", n, "error", err)
		}
		d.schedule(mb)
	})
}

// Release forgets the mailbox of a subscriber whose conn went away.
func (d *Dispatcher) Release(id string, conn transport.Conn) {
	v, ok := d.mailboxes.Load(id)
	if !ok {
		return
	}
	if mb := v.(*Mailbox); mb.conn == conn {
		d.release(mb)
	}
}

func (d *Dispatcher) release(mb *Mailbox) {
	if d.mailboxes.CompareAndDelete(mb.owner, mb) {
		slog.Debug("mailbox released", "id", mb.owner, "pending", mb.Pending())
	}
}

// Mailbox returns the current mailbox for id, if any.
func (d *Dispatcher) Mailbox(id string) (*Mailbox, bool) {
	v, ok := d.mailboxes.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Mailbox), true
}

func (d *Dispatcher) Stats() DispatcherStats {
	var s DispatcherStats
	d.mailboxes.Range(func(_, v any) bool {
		mb := v.(*Mailbox)
		s.Mailboxes++
		if mb.Draining() {
			s.Draining++
		}
		s.Pending += mb.Pending()
		s.Dropped += mb.Dropped()
		return true
	})
	return s
}
