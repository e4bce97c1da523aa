package relay

import (
	"strings"
	"sync/atomic"

	"github.com/dgnsrekt/tv_relay/internal/transport"
)

type node struct {
	next atomic.Pointer[node]
	msg  string
}

// Mailbox is one subscriber's outbound backlog: a lock-free FIFO that accepts
// appends from any number of producers and is consumed by at most one drainer
// at a time. The draining flag is the only coordination between them:
//
//	producer: Enqueue, then TryActivate; schedule a drainer only if it won.
//	drainer:  drain until empty, then DeactivateAndRecheck; keep going if it
//	          re-won the flag because something arrived after the last pop.
type Mailbox struct {
	owner string
	conn  transport.Conn
	limit int64

	head atomic.Pointer[node] // most recently appended node; producers swap it
	tail *node                // consumed sentinel; only the active drainer touches it

	depth    atomic.Int64
	dropped  atomic.Int64
	draining atomic.Bool
}

func newMailbox(owner string, conn transport.Conn, limit int) *Mailbox {
	stub := &node{}
	m := &Mailbox{
		owner: owner,
		conn:  conn,
		limit: int64(limit),
		tail:  stub,
	}
	m.head.Store(stub)
	return m
}

// Owner returns the subscriber id the mailbox belongs to.
func (m *Mailbox) Owner() string { return m.owner }

// Enqueue appends msg. It reports false, and counts a drop, when the mailbox
// is bounded and already full.
//
// Depth is reserved before the node is linked, so a drainer may briefly see
// Pending() > 0 with nothing to pop. The drain worker yields until the link
// lands instead of giving up its slot.
func (m *Mailbox) Enqueue(msg string) bool {
	if d := m.depth.Add(1); m.limit > 0 && d > m.limit {
		m.depth.Add(-1)
		m.dropped.Add(1)
		return false
	}
	n := &node{msg: msg}
	prev := m.head.Swap(n)
	prev.next.Store(n)
	return true
}

// TryActivate claims the single drainer slot.
func (m *Mailbox) TryActivate() bool {
	return m.draining.CompareAndSwap(false, true)
}

// DeactivateAndRecheck releases the drainer slot and, if messages are still
// pending, tries to claim it again. A true result obliges the caller to run
// another drain.
func (m *Mailbox) DeactivateAndRecheck() bool {
	m.draining.Store(false)
	if m.depth.Load() == 0 {
		return false
	}
	return m.draining.CompareAndSwap(false, true)
}

// Pending returns the number of messages accepted but not yet drained.
func (m *Mailbox) Pending() int64 { return m.depth.Load() }

// Dropped returns how many messages the bound rejected.
func (m *Mailbox) Dropped() int64 { return m.dropped.Load() }

// Draining reports whether a drainer currently holds the mailbox.
func (m *Mailbox) Draining() bool { return m.draining.Load() }

// pop must only be called by the active drainer.
func (m *Mailbox) pop() (string, bool) {
	next := m.tail.next.Load()
	if next == nil {
		return "", false
	}
	msg := next.msg
	next.msg = ""
	m.tail = next
	m.depth.Add(-1)
	return msg, true
}

// drainBatch pops up to max messages and frames them, each followed by
// Separator. It returns the frame and the number of messages it holds.
func (m *Mailbox) drainBatch(max int) (string, int) {
	var b strings.Builder
	n := 0
	for n < max {
		msg, ok := m.pop()
		if !ok {
			break
		}
		b.WriteString(msg)
		b.WriteString(Separator)
		n++
	}
	return b.String(), n
}
