package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
)

// Pool is a bounded worker pool. Launch is non-blocking: when every
// slot is busy the task is refused, which is how the scaling loop
// respects the global worker cap across cycles.
type Pool struct {
	slots chan struct{}
	wg    sync.WaitGroup

	active atomic.Int64
}

// NewPool builds a pool with the given number of slots.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Launch runs task on its own goroutine if a slot is free, reporting
// whether the task was accepted.
func (p *Pool) Launch(ctx context.Context, task func(context.Context)) bool {
	select {
	case p.slots <- struct{}{}:
	default:
		return false
	}

	p.wg.Add(1)
	p.active.Add(1)
	go func() {
		defer func() {
			p.active.Add(-1)
			<-p.slots
			p.wg.Done()
		}()
		task(ctx)
	}()
	return true
}

// Active returns the number of tasks currently running.
func (p *Pool) Active() int {
	return int(p.active.Load())
}

// Wait blocks until every launched task has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
