/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: errors.go
Description: Error taxonomy and central error handler for the Akaylee Scanner. Fatal errors
unwind to the strategy and end the scan. Every other plugin error is recorded with its context
and stack, capped per (plugin, phase) so a broken plugin cannot flood memory or logs.
*/

package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrMemoryExhausted signals the process ran out of memory
var ErrMemoryExhausted = errors.New("memory exhausted")

// StopReason explains why a scan must stop
type StopReason string

const (
	StopEnvironment StopReason = "environment" // Unrecoverable environment or config failure
	StopUnknown     StopReason = "unknown"     // Hard stop for an unknown reason
	StopUser        StopReason = "user"        // The user asked for the scan to end
)

// MustStopError is a fatal error that ends the scan
type MustStopError struct {
	Reason  StopReason
	Message string
	Err     error
}

func (e *MustStopError) Error() string {
	msg := fmt.Sprintf("scan must stop (%s)", e.Reason)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MustStopError) Unwrap() error {
	return e.Err
}

// Is matches any MustStopError with the same reason
func (e *MustStopError) Is(target error) bool {
	t, ok := target.(*MustStopError)
	return ok && t.Reason == e.Reason
}

// Sentinels for errors.Is matching
var (
	ErrScanMustStop                = &MustStopError{Reason: StopEnvironment}
	ErrScanMustStopByUnknownReason = &MustStopError{Reason: StopUnknown}
	ErrScanMustStopByUserRequest   = &MustStopError{Reason: StopUser}
)

// NewMustStopError builds a fatal error
func NewMustStopError(reason StopReason, message string, err error) *MustStopError {
	return &MustStopError{Reason: reason, Message: message, Err: err}
}

// IsFatal reports whether err must end the scan
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var mustStop *MustStopError
	return errors.Is(err, ErrMemoryExhausted) || errors.As(err, &mustStop)
}

// ExceptionRecord is one stored plugin error
type ExceptionRecord struct {
	Plugin    string    `json:"plugin" yaml:"plugin"`
	Phase     Phase     `json:"phase" yaml:"phase"`
	Request   string    `json:"request,omitempty" yaml:"request,omitempty"`
	Message   string    `json:"message" yaml:"message"`
	Stack     string    `json:"stack,omitempty" yaml:"stack,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	Err error `json:"-" yaml:"-"`
}

type recordKey struct {
	plugin string
	phase  Phase
}

// ErrorHandler is the central sink for plugin errors across all phases
type ErrorHandler struct {
	mu      sync.Mutex
	records []ExceptionRecord
	stored  map[recordKey]int
	seen    map[recordKey]int
	scanID  string

	maxPerPlugin int
	stopOnFirst  bool
	logger       *logrus.Logger
}

// NewErrorHandler creates a handler keeping at most maxPerPlugin records per (plugin, phase)
func NewErrorHandler(maxPerPlugin int, stopOnFirst bool, logger *logrus.Logger) *ErrorHandler {
	if maxPerPlugin <= 0 {
		maxPerPlugin = 5
	}
	if logger == nil {
		logger = logrus.New()
	}
	h := &ErrorHandler{
		maxPerPlugin: maxPerPlugin,
		stopOnFirst:  stopOnFirst,
		logger:       logger,
		scanID:       uuid.New().String(),
	}
	h.Clear()
	return h
}

// Handle records a plugin error described by the snapshot
// Fatal errors, and every error in stop-on-first mode, are returned to the caller instead
func (h *ErrorHandler) Handle(snapshot StatusSnapshot, err error, stack []byte) error {
	if err == nil {
		return nil
	}
	if IsFatal(err) || h.stopOnFirst {
		return err
	}

	key := recordKey{plugin: snapshot.Plugin, phase: snapshot.Phase}

	h.mu.Lock()
	h.seen[key]++
	if h.stored[key] >= h.maxPerPlugin {
		h.mu.Unlock()
		return nil
	}
	record := ExceptionRecord{
		Plugin:    snapshot.Plugin,
		Phase:     snapshot.Phase,
		Message:   err.Error(),
		Stack:     string(stack),
		Timestamp: time.Now(),
		Err:       err,
	}
	if snapshot.Request != nil {
		record.Request = snapshot.Request.String()
	}
	h.records = append(h.records, record)
	h.stored[key]++
	scanID := h.scanID
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"plugin":  record.Plugin,
		"phase":   record.Phase,
		"request": record.Request,
		"scan_id": scanID,
	}).Infof("An exception was found while running %s plugin %q: %v", record.Phase, record.Plugin, err)
	return nil
}

// Clear drops all records; the scan id is kept
func (h *ErrorHandler) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = nil
	h.stored = make(map[recordKey]int)
	h.seen = make(map[recordKey]int)
}

// ScanID identifies the scan the records belong to
func (h *ErrorHandler) ScanID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scanID
}

// Count returns how many records are stored for (plugin, phase)
func (h *ErrorHandler) Count(plugin string, phase Phase) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stored[recordKey{plugin: plugin, phase: phase}]
}

// Seen returns how many errors were handled for (plugin, phase), dropped ones included
func (h *ErrorHandler) Seen(plugin string, phase Phase) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seen[recordKey{plugin: plugin, phase: phase}]
}

// Records returns a copy of all stored records in arrival order
func (h *ErrorHandler) Records() []ExceptionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ExceptionRecord(nil), h.records...)
}

// Summary groups the stored records by phase
func (h *ErrorHandler) Summary() map[Phase][]ExceptionRecord {
	summary := make(map[Phase][]ExceptionRecord)
	for _, r := range h.Records() {
		summary[r.Phase] = append(summary[r.Phase], r)
	}
	return summary
}

// SummaryString renders the stored records for humans
func (h *ErrorHandler) SummaryString() string {
	summary := h.Summary()
	if len(summary) == 0 {
		return ""
	}

	phases := make([]string, 0, len(summary))
	for phase := range summary {
		phases = append(phases, string(phase))
	}
	sort.Strings(phases)

	var b strings.Builder
	total := 0
	for _, records := range summary {
		total += len(records)
	}
	fmt.Fprintf(&b, "During the current scan (with id: %s) %d exceptions were found.\n", h.ScanID(), total)
	for _, phase := range phases {
		records := summary[Phase(phase)]
		fmt.Fprintf(&b, "  %s phase: %d\n", phase, len(records))
		for _, r := range records {
			fmt.Fprintf(&b, "    - %s: %s\n", r.Plugin, r.Message)
		}
	}
	return b.String()
}
