package upstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestStateString(t *testing.T) {
	tests := map[State]string{
		Disconnected: "disconnected",
		Connecting:   "connecting",
		Connected:    "connected",
		State(9):     "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q; want %q", int(s), got, want)
		}
	}
}

func TestLinkConnectSendsHandshakeThenHeartbeats(t *testing.T) {
	d := &stubDialer{}
	l := startLink(t, "ws://feed", d, &recordingSink{}, fastOptions())

	waitFor(t, time.Second, func() bool { return l.State() == Connected }, "connected")
	waitFor(t, time.Second, func() bool { return count(d.Conn(0).Sent(), DefaultHeartbeat) >= 3 }, "three heartbeats")

	sent := d.Conn(0).Sent()
	if sent[0] != DefaultHandshake {
		t.Fatalf("first frame = %q; want %q", sent[0], DefaultHandshake)
	}
	if got := l.Stats().HeartbeatsSent; got < 3 {
		t.Fatalf("Stats().HeartbeatsSent = %d; want >= 3", got)
	}
}

func TestLinkStartTwice(t *testing.T) {
	l := startLink(t, "ws://feed", &stubDialer{}, &recordingSink{}, fastOptions())
	if err := l.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start() error = %v; want ErrAlreadyStarted", err)
	}
}

func TestLinkDispatchFiltersHeartbeat(t *testing.T) {
	d := &stubDialer{}
	sink := &recordingSink{}
	l := startLink(t, "ws://feed", d, sink, fastOptions())
	waitFor(t, time.Second, func() bool { return l.State() == Connected }, "connected")

	h := d.Handler(0)
	h.HandleMessage("heart")
	h.HandleMessage("")
	h.HandleMessage("AAPL:190.5")
	h.HandleMessage("MSFT:410.1")

	got := sink.Messages()
	if len(got) != 2 || got[0] != "AAPL:190.5" || got[1] != "MSFT:410.1" {
		t.Fatalf("dispatched = %q; want [AAPL:190.5 MSFT:410.1]", got)
	}
}

func TestLinkRetriesUntilConnected(t *testing.T) {
	d := &stubDialer{failFor: 3}
	var mu sync.Mutex
	var transitions []State
	opts := fastOptions()
	opts.OnStateChange = func(_, to State) {
		mu.Lock()
		transitions = append(transitions, to)
		mu.Unlock()
	}
	l := startLink(t, "ws://feed", d, &recordingSink{}, opts)

	waitFor(t, time.Second, func() bool { return l.State() == Connected }, "connected after failures")

	if got := d.Calls(); got != 4 {
		t.Fatalf("dial calls = %d; want 4", got)
	}
	st := l.Stats()
	if st.Attempts != 4 || st.Connects != 1 || st.ConsecutiveFailures != 0 || st.LastError != "" {
		t.Fatalf("Stats() = %+v; want 4 attempts, 1 connect, no failures", st)
	}
	if st.ConnectedSince == nil {
		t.Fatal("Stats().ConnectedSince = nil; want set")
	}
	waitFor(t, time.Second, func() bool { return count(d.Conn(0).Sent(), DefaultHeartbeat) >= 1 }, "heartbeat after reconnect")

	mu.Lock()
	defer mu.Unlock()
	want := []State{Connecting, Disconnected, Connecting, Disconnected, Connecting, Disconnected, Connecting, Connected}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v; want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v; want %v", transitions, want)
		}
	}
}

func TestLinkNoHeartbeatWhileDisconnected(t *testing.T) {
	d := &stubDialer{failFor: -1}
	opts := fastOptions()
	opts.Retry.Delay = 3 * time.Millisecond
	l := startLink(t, "ws://feed", d, &recordingSink{}, opts)

	deadline := time.Now().Add(100 * time.Millisecond)
	for time.Now().Before(deadline) {
		if l.heartbeatArmed() {
			t.Fatal("heartbeat armed while never connected")
		}
		if s := l.State(); s == Connected {
			t.Fatalf("State() = %v; want not connected", s)
		}
		time.Sleep(time.Millisecond)
	}
	if got := d.Calls(); got < 5 {
		t.Fatalf("dial calls = %d; want reconnect timer to keep dialing", got)
	}
}

func TestLinkConnectionLossRearmsReconnect(t *testing.T) {
	d := &stubDialer{}
	l := startLink(t, "ws://feed", d, &recordingSink{}, fastOptions())
	waitFor(t, time.Second, func() bool { return l.State() == Connected }, "connected")

	d.Conn(0).open.Store(false)
	d.Handler(0).HandleClose(errors.New("reset by peer"))

	waitFor(t, time.Second, func() bool { return l.Stats().Connects == 2 && l.State() == Connected }, "second connect")
	if l.reconnectArmed() {
		t.Fatal("reconnect timer armed while connected")
	}
	if !l.heartbeatArmed() {
		t.Fatal("heartbeat not armed after reconnect")
	}

	before := count(d.Conn(0).Sent(), DefaultHeartbeat)
	waitFor(t, time.Second, func() bool { return count(d.Conn(1).Sent(), DefaultHeartbeat) >= 2 }, "heartbeats on new conn")
	if after := count(d.Conn(0).Sent(), DefaultHeartbeat); after != before {
		t.Fatalf("heartbeats on dead conn went %d -> %d; want unchanged", before, after)
	}
	if got := d.Conn(1).Sent()[0]; got != DefaultHandshake {
		t.Fatalf("handshake on reconnect = %q; want %q", got, DefaultHandshake)
	}
}

func TestLinkIgnoresStaleConnection(t *testing.T) {
	d := &stubDialer{}
	sink := &recordingSink{}
	l := startLink(t, "ws://feed", d, sink, fastOptions())
	waitFor(t, time.Second, func() bool { return l.State() == Connected }, "connected")

	old := d.Handler(0)
	old.HandleError(errors.New("broken pipe"))
	waitFor(t, time.Second, func() bool { return l.Stats().Connects == 2 && l.State() == Connected }, "second connect")

	old.HandleClose(nil)
	old.HandleMessage("STALE:1")
	if got := l.State(); got != Connected {
		t.Fatalf("State() after stale close = %v; want connected", got)
	}
	if got := sink.Messages(); len(got) != 0 {
		t.Fatalf("dispatched = %q; want nothing from stale connection", got)
	}
}

func TestLinkGivesUpAfterMaxAttempts(t *testing.T) {
	d := &stubDialer{failFor: -1}
	gaveUp := make(chan int, 1)
	opts := fastOptions()
	opts.Retry.MaxAttempts = 2
	opts.OnGiveUp = func(attempts int, lastErr error) {
		if !errors.Is(lastErr, errRefused) {
			t.Errorf("OnGiveUp lastErr = %v; want %v", lastErr, errRefused)
		}
		gaveUp <- attempts
	}
	l := startLink(t, "ws://feed", d, &recordingSink{}, opts)

	select {
	case n := <-gaveUp:
		if n != 3 {
			t.Fatalf("OnGiveUp attempts = %d; want 3", n)
		}
	case <-time.After(time.Second):
		t.Fatal("OnGiveUp not called")
	}

	time.Sleep(30 * time.Millisecond)
	if got := d.Calls(); got != 3 {
		t.Fatalf("dial calls = %d; want 3", got)
	}
	if l.reconnectArmed() || l.heartbeatArmed() {
		t.Fatal("timers armed after giving up")
	}
	st := l.Stats()
	if !st.GaveUp || st.State != "disconnected" || st.ConsecutiveFailures != 3 {
		t.Fatalf("Stats() = %+v; want gave up, disconnected, 3 failures", st)
	}
}

func TestLinkCloseStopsEverything(t *testing.T) {
	d := &stubDialer{}
	l := New("ws://feed", d, &recordingSink{}, fastOptions())
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitFor(t, time.Second, func() bool { return l.State() == Connected }, "connected")

	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if d.Conn(0).IsOpen() {
		t.Fatal("upstream conn still open after Close")
	}
	if l.heartbeatArmed() || l.reconnectArmed() {
		t.Fatal("timers armed after Close")
	}
	calls := d.Calls()
	time.Sleep(30 * time.Millisecond)
	if got := d.Calls(); got != calls {
		t.Fatalf("dial calls after Close went %d -> %d", calls, got)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestSinksDispatchToAll(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	Sinks{a, b}.Dispatch("AAPL:190.5")
	if got := a.Messages(); len(got) != 1 || got[0] != "AAPL:190.5" {
		t.Fatalf("first sink = %q; want [AAPL:190.5]", got)
	}
	if got := b.Messages(); len(got) != 1 || got[0] != "AAPL:190.5" {
		t.Fatalf("second sink = %q; want [AAPL:190.5]", got)
	}
}
