/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: profiler.go
Description: Scan profiler for the Akaylee Scanner. Records a CPU profile for the lifetime of a
scan and writes heap and goroutine profiles when it stops, so slow plugins and leaking
consumers can be inspected with go tool pprof.
*/

package monitoring

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ProfilerType represents the type of profile written
type ProfilerType string

const (
	ProfilerTypeCPU       ProfilerType = "cpu"
	ProfilerTypeHeap      ProfilerType = "heap"
	ProfilerTypeGoroutine ProfilerType = "goroutine"
)

// ProfileResult describes one written profile
type ProfileResult struct {
	Type       ProfilerType  `json:"type" yaml:"type"`
	OutputFile string        `json:"output_file" yaml:"output_file"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
	Size       int64         `json:"size" yaml:"size"`
}

// Profiler captures pprof profiles of a scan
type Profiler struct {
	dir    string
	logger *logrus.Logger

	mu      sync.Mutex
	running bool
	started time.Time
	cpuFile *os.File
	stamp   string
}

// NewProfiler creates a profiler writing into dir
func NewProfiler(dir string, logger *logrus.Logger) *Profiler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Profiler{dir: dir, logger: logger}
}

// Start creates the output directory and begins CPU profiling
func (p *Profiler) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.New("profiler already running")
	}
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return fmt.Errorf("failed to create profile directory: %w", err)
	}

	p.started = time.Now()
	p.stamp = p.started.Format("20060102_150405")
	file, err := os.Create(p.path(ProfilerTypeCPU))
	if err != nil {
		return fmt.Errorf("failed to create CPU profile file: %w", err)
	}
	if err := pprof.StartCPUProfile(file); err != nil {
		file.Close()
		return fmt.Errorf("failed to start CPU profile: %w", err)
	}

	p.cpuFile = file
	p.running = true
	p.logger.WithFields(logrus.Fields{"component": "profiler", "dir": p.dir}).Info("CPU profiling started")
	return nil
}

// Stop ends CPU profiling and writes the heap and goroutine profiles
func (p *Profiler) Stop() ([]ProfileResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil, errors.New("profiler not running")
	}
	p.running = false

	pprof.StopCPUProfile()
	elapsed := time.Since(p.started)
	if err := p.cpuFile.Close(); err != nil {
		return nil, fmt.Errorf("failed to close CPU profile: %w", err)
	}

	results := []ProfileResult{p.result(ProfilerTypeCPU, elapsed)}
	for _, kind := range []ProfilerType{ProfilerTypeHeap, ProfilerTypeGoroutine} {
		if err := p.writeLookup(kind); err != nil {
			return results, err
		}
		results = append(results, p.result(kind, 0))
	}

	for _, r := range results {
		p.logger.WithFields(logrus.Fields{
			"component": "profiler",
			"type":      r.Type,
			"file":      r.OutputFile,
			"size":      r.Size,
		}).Info("Profile written")
	}
	return results, nil
}

func (p *Profiler) writeLookup(kind ProfilerType) error {
	profile := pprof.Lookup(string(kind))
	if profile == nil {
		return fmt.Errorf("unknown profile %q", kind)
	}
	file, err := os.Create(p.path(kind))
	if err != nil {
		return fmt.Errorf("failed to create %s profile file: %w", kind, err)
	}
	defer file.Close()
	if err := profile.WriteTo(file, 0); err != nil {
		return fmt.Errorf("failed to write %s profile: %w", kind, err)
	}
	return nil
}

func (p *Profiler) result(kind ProfilerType, elapsed time.Duration) ProfileResult {
	r := ProfileResult{Type: kind, OutputFile: p.path(kind), Duration: elapsed}
	if stat, err := os.Stat(r.OutputFile); err == nil {
		r.Size = stat.Size()
	}
	return r
}

func (p *Profiler) path(kind ProfilerType) string {
	return filepath.Join(p.dir, fmt.Sprintf("%s_%s.prof", kind, p.stamp))
}
