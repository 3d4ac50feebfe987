/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: pool.go
Description: Bounded worker pool for plugin fan-out in the Akaylee Scanner consumers. Submit
blocks while every worker is busy, each task yields a future, panics in tasks are recovered
into failed results and Close refuses new work while waiting for work in flight.
*/

package consumers

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/kleascm/akaylee-scanner/pkg/core"
)

// ErrPoolClosed is returned when submitting to a closed pool
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a unit of work producing a plugin result
type Task func() *core.PluginResult

// Pool runs tasks on a bounded number of goroutines
type Pool struct {
	size  int
	slots chan struct{} // One token per busy worker

	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
	inFlight int32
}

// NewPool creates a pool running at most size tasks at once
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &Pool{
		size:  size,
		slots: make(chan struct{}, size),
	}
}

// Submit schedules a task and returns its future
// Blocks while the pool is saturated; fails when the pool is closed or ctx ends
func (p *Pool) Submit(ctx context.Context, task Task) (*core.Future, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		p.wg.Done()
		return nil, ctx.Err()
	}

	future := core.NewFuture()
	atomic.AddInt32(&p.inFlight, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				future.Resolve(&core.PluginResult{
					Err:   fmt.Errorf("task panicked: %v", r),
					Stack: debug.Stack(),
				})
			}
			atomic.AddInt32(&p.inFlight, -1)
			<-p.slots
			p.wg.Done()
		}()
		future.Resolve(task())
	}()
	return future, nil
}

// Close refuses new tasks and waits for the running ones
// Safe to call more than once
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}

// IsClosed returns true if the pool is closed
func (p *Pool) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// InFlight returns the number of running tasks
func (p *Pool) InFlight() int {
	return int(atomic.LoadInt32(&p.inFlight))
}

// Size returns the worker capacity
func (p *Pool) Size() int {
	return p.size
}
