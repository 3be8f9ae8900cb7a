// Package pool provides the bounded worker pool that backs dispatcher
// fan-out. This package is internal and should not be imported by external
// projects.
package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool queue is full")
)

// Task is a unit of work. The context is the one passed to Submit.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed set of workers with a bounded queue.
type Pool struct {
	tasks chan taskWrapper
	wg    sync.WaitGroup

	// mu orders Submit's send against Close's channel close; without it a
	// Submit racing Close could send on a closed channel.
	mu     sync.RWMutex
	closed bool

	submitted atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
}

type taskWrapper struct {
	task Task
	ctx  context.Context
}

// New creates a pool with the given worker count and queue depth. Workers are
// started eagerly; fan-out latency matters more here than idle goroutines.
func New(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 8
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}

	p := &Pool{tasks: make(chan taskWrapper, queueSize)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit enqueues a task. It never blocks: a full queue returns ErrPoolFull
// so the caller can decide whether to degrade or drop.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- taskWrapper{task: task, ctx: ctx}:
		p.submitted.Add(1)
		return nil
	default:
		return ErrPoolFull
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for w := range p.tasks {
		p.run(w)
	}
}

func (p *Pool) run(w taskWrapper) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
		}
	}()

	w.task(w.ctx)
	p.completed.Add(1)
}

// Close stops intake and waits for in-flight tasks to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}

// Stats is a point-in-time view of pool activity.
type Stats struct {
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Panicked  int64 `json:"panicked"`
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Queued:    len(p.tasks),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
	}
}
