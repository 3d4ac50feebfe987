/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: memory.go
Description: Memory watchdog for the Akaylee Scanner. Samples runtime memory statistics while a
scan runs, warns about sustained heap growth, forces a collection above the soft limit and
aborts the scan with ErrMemoryExhausted once the heap stays above the hard limit.
*/

package monitoring

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/kleascm/akaylee-scanner/pkg/core"
	"github.com/sirupsen/logrus"
)

// Aborter stops a scan with a fatal error
type Aborter interface {
	Abort(err error)
}

// MemorySnapshot represents a memory usage sample
type MemorySnapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	HeapAlloc  uint64    `json:"heap_alloc"`
	HeapInuse  uint64    `json:"heap_inuse"`
	Sys        uint64    `json:"sys"`
	GoRoutines int       `json:"go_routines"`
	NumGC      uint32    `json:"num_gc"`
}

// MemoryConfig configures the watchdog
type MemoryConfig struct {
	Interval       time.Duration `mapstructure:"interval"`        // Sampling interval
	HistorySize    int           `mapstructure:"history_size"`    // Samples kept
	SoftLimit      uint64        `mapstructure:"soft_limit"`      // Heap bytes that trigger a GC, 0 disables
	HardLimit      uint64        `mapstructure:"hard_limit"`      // Heap bytes that abort the scan, 0 disables
	GrowthRate     float64       `mapstructure:"growth_rate"`     // Bytes per second considered a leak
	ConsecutiveHit int           `mapstructure:"consecutive_hit"` // Samples above the hard limit before aborting
}

// DefaultMemoryConfig returns the default watchdog configuration
func DefaultMemoryConfig() *MemoryConfig {
	return &MemoryConfig{
		Interval:       2 * time.Second,
		HistorySize:    120,
		GrowthRate:     1024 * 1024,
		ConsecutiveHit: 3,
	}
}

// MemoryWatchdog aborts a scan that exhausts its memory budget
type MemoryWatchdog struct {
	config *MemoryConfig
	target Aborter
	logger *logrus.Logger
	read   func() MemorySnapshot

	mu        sync.RWMutex
	snapshots []MemorySnapshot
	hits      int
	warned    bool
	tripped   bool
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewMemoryWatchdog creates a watchdog for target
func NewMemoryWatchdog(config *MemoryConfig, target Aborter, logger *logrus.Logger) *MemoryWatchdog {
	if config == nil {
		config = DefaultMemoryConfig()
	}
	if config.Interval <= 0 {
		config.Interval = 2 * time.Second
	}
	if config.HistorySize <= 0 {
		config.HistorySize = 120
	}
	if config.ConsecutiveHit <= 0 {
		config.ConsecutiveHit = 1
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &MemoryWatchdog{
		config: config,
		target: target,
		logger: logger,
		read:   readMemStats,
	}
}

// Start begins sampling until ctx ends or Stop is called
func (w *MemoryWatchdog) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("memory watchdog already running")
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.running = true
	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.WithFields(logrus.Fields{
		"component":  "memory",
		"interval":   w.config.Interval,
		"hard_limit": w.config.HardLimit,
	}).Debug("Memory watchdog started")
	return nil
}

// Stop stops sampling and waits for the loop to exit
func (w *MemoryWatchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
}

func (w *MemoryWatchdog) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sample()
		}
	}
}

// Sample takes one memory sample and applies the limits
func (w *MemoryWatchdog) Sample() MemorySnapshot {
	snapshot := w.read()

	w.mu.Lock()
	w.snapshots = append(w.snapshots, snapshot)
	if len(w.snapshots) > w.config.HistorySize {
		w.snapshots = w.snapshots[len(w.snapshots)-w.config.HistorySize:]
	}
	rate := w.growthRate()
	abort := w.checkHardLimit(snapshot)
	warn := !w.warned && w.config.GrowthRate > 0 && len(w.snapshots) >= 10 && rate > w.config.GrowthRate
	if warn {
		w.warned = true
	}
	w.mu.Unlock()

	if warn {
		w.logger.WithFields(logrus.Fields{
			"component":  "memory",
			"heap_alloc": snapshot.HeapAlloc,
			"rate":       fmt.Sprintf("%.0f B/s", rate),
		}).Warn("Sustained heap growth detected")
	}

	if w.config.SoftLimit > 0 && snapshot.HeapAlloc > w.config.SoftLimit && !abort {
		runtime.GC()
	}

	if abort {
		w.logger.WithFields(logrus.Fields{
			"component":  "memory",
			"heap_alloc": snapshot.HeapAlloc,
			"hard_limit": w.config.HardLimit,
		}).Error("Memory limit exceeded, aborting scan")
		if w.target != nil {
			w.target.Abort(fmt.Errorf("heap at %d bytes over limit %d: %w",
				snapshot.HeapAlloc, w.config.HardLimit, core.ErrMemoryExhausted))
		}
	}
	return snapshot
}

// checkHardLimit reports whether this sample trips the watchdog, at most once
func (w *MemoryWatchdog) checkHardLimit(snapshot MemorySnapshot) bool {
	if w.config.HardLimit == 0 || w.tripped {
		return false
	}
	if snapshot.HeapAlloc <= w.config.HardLimit {
		w.hits = 0
		return false
	}
	w.hits++
	if w.hits < w.config.ConsecutiveHit {
		return false
	}
	w.tripped = true
	return true
}

// growthRate is the heap growth in bytes per second across the history
func (w *MemoryWatchdog) growthRate() float64 {
	if len(w.snapshots) < 2 {
		return 0
	}
	first := w.snapshots[0]
	last := w.snapshots[len(w.snapshots)-1]
	seconds := last.Timestamp.Sub(first.Timestamp).Seconds()
	if seconds <= 0 || last.HeapAlloc <= first.HeapAlloc {
		return 0
	}
	return float64(last.HeapAlloc-first.HeapAlloc) / seconds
}

// Snapshots returns a copy of the sample history
func (w *MemoryWatchdog) Snapshots() []MemorySnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	snapshots := make([]MemorySnapshot, len(w.snapshots))
	copy(snapshots, w.snapshots)
	return snapshots
}

// Tripped reports whether the watchdog aborted the scan
func (w *MemoryWatchdog) Tripped() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tripped
}

func readMemStats() MemorySnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemorySnapshot{
		Timestamp:  time.Now(),
		HeapAlloc:  m.HeapAlloc,
		HeapInuse:  m.HeapInuse,
		Sys:        m.Sys,
		GoRoutines: runtime.NumGoroutine(),
		NumGC:      m.NumGC,
	}
}
