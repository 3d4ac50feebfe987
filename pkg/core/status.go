/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: status.go
Description: Scan status for the Akaylee Scanner. A passive state holder updated by the strategy
and the consumers and read by monitoring: current phase, running plugin and request per phase,
run time and the cooperative stop/pause controls checked by long-running loops.
*/

package core

import (
	"context"
	"sync"
	"time"

	"github.com/kleascm/akaylee-scanner/pkg/request"
)

// StatusSnapshot is a value copy of what was running at one point
// Consumers build one per result so concurrent plugins never share it
type StatusSnapshot struct {
	Phase   Phase                    `json:"phase"`
	Plugin  string                   `json:"plugin"`
	Request *request.FuzzableRequest `json:"request,omitempty"`
}

// SnapshotOf builds the status snapshot describing a plugin result
func SnapshotOf(r *PluginResult) StatusSnapshot {
	return StatusSnapshot{Phase: r.Phase, Plugin: r.Plugin, Request: r.Request}
}

// ScanStatus tracks the human readable state of a scan
// Informational fields are last-writer-wins; only stop and pause drive control flow
type ScanStatus struct {
	mu sync.RWMutex

	phase          Phase
	runningPlugin  map[Phase]string
	currentRequest map[Phase]*request.FuzzableRequest
	latestPlugin   string

	running   bool
	stopped   bool
	paused    bool
	startTime time.Time
	endTime   time.Time

	pollInterval time.Duration
}

// NewScanStatus creates a status; pollInterval drives WaitIfPaused
func NewScanStatus(pollInterval time.Duration) *ScanStatus {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &ScanStatus{
		runningPlugin:  make(map[Phase]string),
		currentRequest: make(map[Phase]*request.FuzzableRequest),
		pollInterval:   pollInterval,
	}
}

// Start marks the scan as running and records the start time
func (s *ScanStatus) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.stopped = false
	s.paused = false
	s.startTime = time.Now()
	s.endTime = time.Time{}
}

// Stop requests a cooperative stop and ends the run
func (s *ScanStatus) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.paused = false
	if s.running {
		s.running = false
		s.endTime = time.Now()
	}
}

// Finish ends the run without flagging a stop request
func (s *ScanStatus) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.running = false
		s.endTime = time.Now()
	}
}

// IsStopped reports whether a stop was requested
func (s *ScanStatus) IsStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// IsRunning reports whether the scan is in progress
func (s *ScanStatus) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Pause pauses or resumes the scan
func (s *ScanStatus) Pause(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused && !s.stopped
}

// IsPaused reports whether the scan is paused
func (s *ScanStatus) IsPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// WaitIfPaused blocks while the scan is paused
// Returns true when the caller should stop (stop requested or ctx ended)
func (s *ScanStatus) WaitIfPaused(ctx context.Context) bool {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for s.IsPaused() {
		select {
		case <-ctx.Done():
			return true
		case <-ticker.C:
		}
	}
	return s.IsStopped() || ctx.Err() != nil
}

// SetPhase records the phase currently running
func (s *ScanStatus) SetPhase(phase Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
}

// Phase returns the phase currently running
func (s *ScanStatus) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// SetRunningPlugin records the plugin running in a phase
func (s *ScanStatus) SetRunningPlugin(phase Phase, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runningPlugin[phase] = name
	if name != "" {
		s.latestPlugin = name
	}
}

// RunningPlugin returns the plugin last recorded for a phase
func (s *ScanStatus) RunningPlugin(phase Phase) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runningPlugin[phase]
}

// LatestRunningPlugin returns the plugin recorded last in any phase
func (s *ScanStatus) LatestRunningPlugin() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestPlugin
}

// SetCurrentRequest records the request being processed in a phase
func (s *ScanStatus) SetCurrentRequest(phase Phase, fr *request.FuzzableRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentRequest[phase] = fr
}

// CurrentRequest returns the request last recorded for a phase
func (s *ScanStatus) CurrentRequest(phase Phase) *request.FuzzableRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRequest[phase]
}

// Snapshot returns what is running in the current phase
func (s *ScanStatus) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StatusSnapshot{
		Phase:   s.phase,
		Plugin:  s.runningPlugin[s.phase],
		Request: s.currentRequest[s.phase],
	}
}

// RunTime returns how long the scan has been (or was) running
func (s *ScanStatus) RunTime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	if !s.endTime.IsZero() {
		return s.endTime.Sub(s.startTime)
	}
	return time.Since(s.startTime)
}

// Reset clears all informational state, keeping the stop flag
func (s *ScanStatus) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseNone
	s.runningPlugin = make(map[Phase]string)
	s.currentRequest = make(map[Phase]*request.FuzzableRequest)
	s.latestPlugin = ""
	s.paused = false
}
