/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: future.go
Description: Plugin results and futures for the Akaylee Scanner. A plugin invocation produces a
PluginResult that either carries the plugin output or the error with its stack. Consumers push
futures for those results downstream before they complete.
*/

package core

import (
	"context"
	"sync"
	"time"

	"github.com/kleascm/akaylee-scanner/pkg/interfaces"
	"github.com/kleascm/akaylee-scanner/pkg/request"
)

// Outcome tells the consumer what to do with the plugin after an invocation
type Outcome int

const (
	OutcomeContinue Outcome = iota // Keep the plugin active
	OutcomeStop                    // The plugin asked to run once; remove it
)

// PluginResult is the outcome of one plugin invocation
// Err and Stack are set when the plugin failed
type PluginResult struct {
	Phase    Phase                      `json:"phase"`
	Plugin   string                     `json:"plugin"`
	Request  *request.FuzzableRequest   `json:"request,omitempty"`
	Response *interfaces.Response       `json:"-"`
	Found    []*request.FuzzableRequest `json:"found,omitempty"`
	Err      error                      `json:"-"`
	Stack    []byte                     `json:"-"`
	Outcome  Outcome                    `json:"outcome"`
	Duration time.Duration              `json:"duration"`
}

// Failed reports whether the invocation returned or raised an error
func (r *PluginResult) Failed() bool {
	return r != nil && r.Err != nil
}

// Future is a PluginResult that may not be available yet
type Future struct {
	done   chan struct{}
	once   sync.Once
	result *PluginResult
}

// NewFuture creates an unresolved future
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// ResolvedFuture creates a future that is already complete
func ResolvedFuture(r *PluginResult) *Future {
	f := NewFuture()
	f.Resolve(r)
	return f
}

// Resolve completes the future; later calls are ignored
func (f *Future) Resolve(r *PluginResult) {
	f.once.Do(func() {
		f.result = r
		close(f.done)
	})
}

// Done is closed once the result is available
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available
func (f *Future) Wait() *PluginResult {
	<-f.done
	return f.result
}

// WaitContext blocks until the result is available or ctx ends
func (f *Future) WaitContext(ctx context.Context) (*PluginResult, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
