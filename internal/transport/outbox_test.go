package transport

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestOutboxWritesInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	o := newOutbox(16, func(text string) error {
		mu.Lock()
		got = append(got, text)
		mu.Unlock()
		return nil
	}, nil)

	var wg sync.WaitGroup
	want := []string{"a", "b", "c", "d"}
	for _, s := range want {
		wg.Add(1)
		o.send(s, func(err error) {
			if err != nil {
				t.Errorf("send(%q) done error = %v; want nil", s, err)
			}
			wg.Done()
		})
	}
	wg.Wait()
	o.close()
	o.wait()

	if len(got) != len(want) {
		t.Fatalf("written = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("written[%d] = %q; want %q", i, got[i], want[i])
		}
	}
}

func TestOutboxQueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	o := newOutbox(1, func(string) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}, nil)
	defer func() {
		close(release)
		o.close()
		o.wait()
	}()

	o.send("in-flight", nil)
	<-started
	o.send("queued", nil)

	errCh := make(chan error, 1)
	o.send("overflow", func(err error) { errCh <- err })
	if err := <-errCh; !errors.Is(err, ErrSendQueueFull) {
		t.Fatalf("send() error = %v; want %v", err, ErrSendQueueFull)
	}
}

func TestOutboxSendAfterClose(t *testing.T) {
	o := newOutbox(4, func(string) error { return nil }, nil)
	o.close()
	o.wait()

	errCh := make(chan error, 1)
	o.send("late", func(err error) { errCh <- err })
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("send() error = %v; want %v", err, ErrClosed)
		}
	case <-time.After(time.Second):
		t.Fatal("done callback not invoked")
	}
}

func TestOutboxWriteErrorReported(t *testing.T) {
	boom := errors.New("boom")
	reported := make(chan error, 1)
	o := newOutbox(4, func(string) error { return boom }, func(err error) { reported <- err })
	defer func() {
		o.close()
		o.wait()
	}()

	doneErr := make(chan error, 1)
	o.send("x", func(err error) { doneErr <- err })
	if err := <-doneErr; !errors.Is(err, boom) {
		t.Fatalf("done error = %v; want %v", err, boom)
	}
	if err := <-reported; !errors.Is(err, boom) {
		t.Fatalf("onError = %v; want %v", err, boom)
	}
}
