/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: queue.go
Description: Bounded work queue for the Akaylee Scanner consumers. A FIFO channel of tagged
work items with blocking put/get for backpressure, a non-blocking put for fire-and-forget
messages and a timed get for consumers that wake up periodically.
*/

package core

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/kleascm/akaylee-scanner/pkg/interfaces"
	"github.com/kleascm/akaylee-scanner/pkg/request"
)

// ItemKind tags the content of a WorkItem
type ItemKind int

const (
	ItemRequest    ItemKind = iota // A fuzzable request to process
	ItemFinish                     // No more input, shut down
	ItemForceLogin                 // Run the login procedure now
	ItemResponse                   // A request/response pair for grep plugins
	ItemResult                     // A pending plugin result
)

func (k ItemKind) String() string {
	switch k {
	case ItemRequest:
		return "request"
	case ItemFinish:
		return "finish"
	case ItemForceLogin:
		return "force_login"
	case ItemResponse:
		return "response"
	case ItemResult:
		return "result"
	default:
		return "unknown"
	}
}

// WorkItem is the value carried by every consumer queue
type WorkItem struct {
	Kind     ItemKind                 // What the item carries
	Request  *request.FuzzableRequest // Set for request and response items
	Response *interfaces.Response     // Set for response items
	Future   *Future                  // Set for result items
}

// RequestItem wraps a fuzzable request
func RequestItem(fr *request.FuzzableRequest) WorkItem {
	return WorkItem{Kind: ItemRequest, Request: fr}
}

// ResponseItem wraps a request/response pair
func ResponseItem(fr *request.FuzzableRequest, resp *interfaces.Response) WorkItem {
	return WorkItem{Kind: ItemResponse, Request: fr, Response: resp}
}

// ResultItem wraps a pending plugin result
func ResultItem(f *Future) WorkItem {
	return WorkItem{Kind: ItemResult, Future: f}
}

// FinishItem returns the shutdown sentinel
func FinishItem() WorkItem {
	return WorkItem{Kind: ItemFinish}
}

// ForceLoginItem returns the force login message
func ForceLoginItem() WorkItem {
	return WorkItem{Kind: ItemForceLogin}
}

// IsFinish reports whether the item is the shutdown sentinel
func (w WorkItem) IsFinish() bool {
	return w.Kind == ItemFinish
}

// WorkQueue is a bounded multi-producer multi-consumer FIFO queue
// Order is preserved per producer; there is no fairness across producers
type WorkQueue struct {
	ch chan WorkItem

	// Performance tracking
	insertions int64
	removals   int64
}

// NewWorkQueue creates a queue holding at most capacity items
func NewWorkQueue(capacity int) *WorkQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &WorkQueue{
		ch: make(chan WorkItem, capacity),
	}
}

// Put adds an item, blocking while the queue is full
// Returns the context error if ctx ends first
func (q *WorkQueue) Put(ctx context.Context, item WorkItem) error {
	select {
	case q.ch <- item:
		atomic.AddInt64(&q.insertions, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPut adds an item only if there is room
func (q *WorkQueue) TryPut(item WorkItem) bool {
	select {
	case q.ch <- item:
		atomic.AddInt64(&q.insertions, 1)
		return true
	default:
		return false
	}
}

// Get removes the oldest item, blocking until one is available
func (q *WorkQueue) Get(ctx context.Context) (WorkItem, error) {
	select {
	case item := <-q.ch:
		atomic.AddInt64(&q.removals, 1)
		return item, nil
	case <-ctx.Done():
		return WorkItem{}, ctx.Err()
	}
}

// GetTimeout removes the oldest item, waiting at most d
// The boolean is false when the timeout elapsed
func (q *WorkQueue) GetTimeout(d time.Duration) (WorkItem, bool) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case item := <-q.ch:
		atomic.AddInt64(&q.removals, 1)
		return item, true
	case <-timer.C:
		return WorkItem{}, false
	}
}

// Size returns the number of queued items
func (q *WorkQueue) Size() int {
	return len(q.ch)
}

// Cap returns the queue capacity
func (q *WorkQueue) Cap() int {
	return cap(q.ch)
}

// GetStats returns queue performance statistics
func (q *WorkQueue) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"size":       q.Size(),
		"capacity":   q.Cap(),
		"insertions": atomic.LoadInt64(&q.insertions),
		"removals":   atomic.LoadInt64(&q.removals),
	}
}
