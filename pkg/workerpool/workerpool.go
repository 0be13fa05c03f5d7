// Package workerpool runs ingestion tasks on a fixed set of goroutines with
// a bounded queue. When the queue is full the submitting goroutine runs the
// task itself, which slows producers down instead of dropping work.
package workerpool

import (
	"context"
	"runtime"
	"sync"
)

// Task is a unit of work. It receives the context passed to Submit.
type Task func(ctx context.Context)

type job struct {
	ctx  context.Context
	task Task
}

// Pool is a fixed-size worker pool with caller-runs backpressure.
type Pool struct {
	size  int
	queue chan job
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New starts a pool with size workers and a queue of queueSize pending
// tasks. Non-positive values default to runtime.NumCPU() workers and a
// queue four times that.
func New(size, queueSize int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	if queueSize <= 0 {
		queueSize = 4 * size
	}
	p := &Pool{size: size, queue: make(chan job, queueSize)}
	p.wg.Add(size)
	for range size {
		go p.worker()
	}
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.queue {
		j.task(j.ctx)
	}
}

// Submit enqueues task. When the queue is full or the pool is closed, the
// task runs synchronously on the caller's goroutine. A task whose context
// is already done is still run so it can report the cancellation.
func (p *Pool) Submit(ctx context.Context, task Task) {
	p.mu.RLock()
	if !p.closed {
		select {
		case p.queue <- job{ctx: ctx, task: task}:
			p.mu.RUnlock()
			return
		default:
		}
	}
	p.mu.RUnlock()
	task(ctx)
}

// Close stops accepting queued work, drains the queue and waits for the
// workers to finish. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}
