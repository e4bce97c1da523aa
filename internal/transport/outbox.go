package transport

import "sync"

type outboundMsg struct {
	text string
	done func(error)
}

// outbox serialises writes for one connection on a dedicated goroutine so
// callers never block on network I/O. Messages are written in send order.
type outbox struct {
	write   func(text string) error
	onError func(error)

	mu      sync.RWMutex
	closed  bool
	queue   chan outboundMsg
	done    chan struct{}
	stopped chan struct{}
}

func newOutbox(size int, write func(string) error, onError func(error)) *outbox {
	if size <= 0 {
		size = DefaultSendQueue
	}
	o := &outbox{
		write:   write,
		onError: onError,
		queue:   make(chan outboundMsg, size),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go o.loop()
	return o
}

func (o *outbox) send(text string, done func(error)) {
	o.mu.RLock()
	if o.closed {
		o.mu.RUnlock()
		complete(done, ErrClosed)
		return
	}
	select {
	case o.queue <- outboundMsg{text: text, done: done}:
		o.mu.RUnlock()
	default:
		o.mu.RUnlock()
		complete(done, ErrSendQueueFull)
	}
}

// close stops accepting sends. Pending messages fail with ErrClosed. It does
// not wait for the writer goroutine; use wait for that.
func (o *outbox) close() {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.done)
	}
	o.mu.Unlock()
}

func (o *outbox) wait() {
	<-o.stopped
}

func (o *outbox) loop() {
	defer close(o.stopped)
	for {
		select {
		case m := <-o.queue:
			err := o.write(m.text)
			complete(m.done, err)
			if err != nil && o.onError != nil {
				o.onError(err)
			}
		case <-o.done:
			for {
				select {
				case m := <-o.queue:
					complete(m.done, ErrClosed)
				default:
					return
				}
			}
		}
	}
}
