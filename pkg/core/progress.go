/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: progress.go
Description: Progress tracking for the Akaylee Scanner. Counts finished work units against the
expected total of the current discovery iteration or audit pass and estimates time remaining.
*/

package core

import (
	"sync"
	"time"
)

// ProgressTracker counts finished work units against an expected total
type ProgressTracker struct {
	mu        sync.Mutex
	total     int64
	current   int64
	startTime time.Time
}

// NewProgressTracker creates an empty tracker
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{}
}

// SetTotalAmount starts a new unit of progress with n expected steps
func (p *ProgressTracker) SetTotalAmount(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = int64(n)
	p.current = 0
	p.startTime = time.Now()
}

// Inc records one finished step
func (p *ProgressTracker) Inc() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current++
}

// Current returns finished and total steps
func (p *ProgressTracker) Current() (int64, int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.total
}

// Percentage returns completion in the [0, 100] range
func (p *ProgressTracker) Percentage() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.total <= 0 {
		return 0
	}
	pct := float64(p.current) / float64(p.total) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ETA estimates the time left from the average step duration so far
// Returns zero when there is not enough information
func (p *ProgressTracker) ETA() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == 0 || p.total <= p.current {
		return 0
	}
	perStep := time.Since(p.startTime) / time.Duration(p.current)
	return perStep * time.Duration(p.total-p.current)
}

// Reset clears the tracker
func (p *ProgressTracker) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = 0
	p.current = 0
	p.startTime = time.Time{}
}
