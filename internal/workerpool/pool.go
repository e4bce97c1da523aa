// Package workerpool runs short tasks on a fixed set of goroutines.
package workerpool

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/panics"
)

// ErrStopped is returned by Submit once Shutdown has begun.
var ErrStopped = errors.New("workerpool: stopped")

// Stats is a point-in-time view of pool activity.
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int32 `json:"active"`
	Queued    int   `json:"queued"`
	Overflow  int64 `json:"overflow"`
	Processed int64 `json:"processed"`
	Panicked  int64 `json:"panicked"`
}

// Pool executes submitted tasks on a bounded number of workers. Submit never
// blocks: when the queue is full the task is parked on its own goroutine until
// a worker takes it.
type Pool struct {
	size  int
	tasks chan func()
	quit  chan struct{}

	workers  sync.WaitGroup
	parked   sync.WaitGroup
	mu       sync.RWMutex
	stopping bool

	active    atomic.Int32
	overflow  atomic.Int64
	processed atomic.Int64
	panicked  atomic.Int64
}

// New starts a pool with size workers and a queue of queueLen pending tasks.
// Non-positive values fall back to runtime.NumCPU() and 1024.
func New(size, queueLen int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	if queueLen <= 0 {
		queueLen = 1024
	}
	p := &Pool{
		size:  size,
		tasks: make(chan func(), queueLen),
		quit:  make(chan struct{}),
	}
	p.workers.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

// Submit queues task for execution.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopping {
		return ErrStopped
	}
	select {
	case p.tasks <- task:
	default:
		p.overflow.Add(1)
		p.parked.Add(1)
		go func() {
			defer p.parked.Done()
			select {
			case p.tasks <- task:
			case <-p.quit:
				slog.Debug("workerpool: parked task discarded on shutdown")
			}
		}()
	}
	return nil
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for {
		select {
		case task := <-p.tasks:
			p.run(task)
		case <-p.quit:
			return
		}
	}
}

func (p *Pool) run(task func()) {
	p.active.Add(1)
	defer p.active.Add(-1)
	if r := panics.Try(task); r != nil {
		p.panicked.Add(1)
		slog.Error("workerpool: task panicked", "panic", r.Value, "stack", string(r.Stack))
		return
	}
	p.processed.Add(1)
}

// Shutdown stops accepting work, lets queued tasks finish, and waits for the
// workers to exit or ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return nil
	}
	p.stopping = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.drainQueued(ctx)
		close(p.quit)
		p.parked.Wait()
		p.workers.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drainQueued waits until the queue has been emptied by the workers.
func (p *Pool) drainQueued(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for len(p.tasks) > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.size,
		Active:    p.active.Load(),
		Queued:    len(p.tasks),
		Overflow:  p.overflow.Load(),
		Processed: p.processed.Load(),
		Panicked:  p.panicked.Load(),
	}
}
