/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: types.go
Description: Core types for the Akaylee Scanner engine. Defines scan phases, the strategy state
machine, scan configuration with its defaults and validation, and the atomic scan statistics
shared by every component of a scan.
*/

package core

import (
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"
)

// Phase identifies the part of the scan currently running
// Used for status display and error context, never for control flow
type Phase string

const (
	PhaseNone       Phase = ""
	PhaseDiscovery  Phase = "discovery"
	PhaseBruteforce Phase = "bruteforce"
	PhaseAudit      Phase = "audit"
	PhaseAuth       Phase = "auth"
	PhaseGrep       Phase = "grep"
	PhaseOutput     Phase = "output"
)

// ScanState is the state of the strategy state machine
type ScanState int32

const (
	StateIdle ScanState = iota
	StateSeedingTargets
	StateDiscoveringAndBruteforcing
	StatePostDiscoveryCleanup
	StateAuditing
	StateEnded
)

func (s ScanState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSeedingTargets:
		return "seeding_targets"
	case StateDiscoveringAndBruteforcing:
		return "discovering_and_bruteforcing"
	case StatePostDiscoveryCleanup:
		return "post_discovery_cleanup"
	case StateAuditing:
		return "auditing"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// PluginSelection lists the enabled plugin names per phase
type PluginSelection struct {
	Discovery  []string `json:"discovery" yaml:"discovery"`
	Bruteforce []string `json:"bruteforce" yaml:"bruteforce"`
	Audit      []string `json:"audit" yaml:"audit"`
	Auth       []string `json:"auth" yaml:"auth"`
	Grep       []string `json:"grep" yaml:"grep"`
}

// ScanConfig contains all configuration parameters for a scan
// Supports both command-line flags and configuration files
type ScanConfig struct {
	// Target configuration
	Targets []string `json:"targets"` // Seed URLs, also defining the scope

	// Discovery configuration
	MaxDiscoveryTime  time.Duration `json:"max_discovery_time"`  // Wall clock limit for discovery
	MaxDiscoveryLoops int           `json:"max_discovery_loops"` // Limit on discovery iterations
	MaxDepth          int           `json:"max_depth"`           // Limit on discovery depth
	DiscoveryQueue    int           `json:"discovery_queue_size"`

	// Consumer configuration
	AuditQueue   int           `json:"audit_queue_size"` // Audit output queue capacity
	AuditWorkers int           `json:"audit_workers"`    // Audit pool size
	AuthQueue    int           `json:"auth_queue_size"`  // Auth input queue capacity
	AuthTimeout  time.Duration `json:"auth_timeout"`     // Interval between session checks
	GrepQueue    int           `json:"grep_queue_size"`  // Grep queue capacity
	GrepWorkers  int           `json:"grep_workers"`     // Grep pool size

	// Error handling configuration
	MaxExceptionsPerPlugin int  `json:"max_exceptions_per_plugin"` // Records kept per (plugin, phase)
	StopOnFirstException   bool `json:"stop_on_first_exception"`   // Debug mode: every error is fatal

	// Timing configuration
	AuditPollInterval time.Duration `json:"audit_poll_interval"` // Audit queue drain poll interval
	StopGracePeriod   time.Duration `json:"stop_grace_period"`   // Wait for plugin teardown on stop
	PausePollInterval time.Duration `json:"pause_poll_interval"` // Pause checkpoint poll interval

	// Plugin configuration
	Plugins PluginSelection `json:"plugins"`
}

// DefaultScanConfig returns the configuration used when nothing is overridden
func DefaultScanConfig() *ScanConfig {
	return &ScanConfig{
		MaxDiscoveryTime:       2 * time.Hour,
		MaxDiscoveryLoops:      500,
		MaxDepth:               25,
		DiscoveryQueue:         25,
		AuditQueue:             40,
		AuditWorkers:           10,
		AuthQueue:              5,
		AuthTimeout:            5 * time.Second,
		GrepQueue:              25,
		GrepWorkers:            10,
		MaxExceptionsPerPlugin: 5,
		AuditPollInterval:      time.Second,
		StopGracePeriod:        500 * time.Millisecond,
		PausePollInterval:      500 * time.Millisecond,
	}
}

// Validate checks the configuration for values the engine cannot work with
func (c *ScanConfig) Validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one target is required")
	}
	for _, target := range c.Targets {
		u, err := url.Parse(strings.TrimSpace(target))
		if err != nil {
			return fmt.Errorf("invalid target %q: %w", target, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("target %q must use http or https", target)
		}
		if u.Host == "" {
			return fmt.Errorf("target %q has no host", target)
		}
	}

	sizes := map[string]int{
		"discovery_queue_size":      c.DiscoveryQueue,
		"audit_queue_size":          c.AuditQueue,
		"audit_workers":             c.AuditWorkers,
		"auth_queue_size":           c.AuthQueue,
		"grep_queue_size":           c.GrepQueue,
		"grep_workers":              c.GrepWorkers,
		"max_exceptions_per_plugin": c.MaxExceptionsPerPlugin,
		"max_discovery_loops":       c.MaxDiscoveryLoops,
		"max_depth":                 c.MaxDepth,
	}
	for name, v := range sizes {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}

	durations := map[string]time.Duration{
		"max_discovery_time":  c.MaxDiscoveryTime,
		"auth_timeout":        c.AuthTimeout,
		"audit_poll_interval": c.AuditPollInterval,
		"pause_poll_interval": c.PausePollInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.StopGracePeriod < 0 {
		return fmt.Errorf("stop_grace_period must not be negative")
	}
	return nil
}

// ScanStats tracks overall scan statistics
// Uses atomic operations for thread-safe updates
type ScanStats struct {
	RequestsDiscovered int64 `json:"requests_discovered"` // Distinct fuzzable requests found
	PluginInvocations  int64 `json:"plugin_invocations"`  // Plugin calls across all phases
	PluginErrors       int64 `json:"plugin_errors"`       // Plugin calls that failed
	ResultsDrained     int64 `json:"results_drained"`     // Futures resolved by drains
	Logins             int64 `json:"logins"`              // Login attempts
}

// IncrementRequests atomically adds n discovered requests
func (s *ScanStats) IncrementRequests(n int) {
	atomic.AddInt64(&s.RequestsDiscovered, int64(n))
}

// IncrementInvocations atomically increments the invocation counter
func (s *ScanStats) IncrementInvocations() {
	atomic.AddInt64(&s.PluginInvocations, 1)
}

// IncrementErrors atomically increments the error counter
func (s *ScanStats) IncrementErrors() {
	atomic.AddInt64(&s.PluginErrors, 1)
}

// IncrementDrained atomically increments the drained results counter
func (s *ScanStats) IncrementDrained() {
	atomic.AddInt64(&s.ResultsDrained, 1)
}

// IncrementLogins atomically increments the login counter
func (s *ScanStats) IncrementLogins() {
	atomic.AddInt64(&s.Logins, 1)
}

// Snapshot returns a consistent copy of the counters
func (s *ScanStats) Snapshot() ScanStats {
	return ScanStats{
		RequestsDiscovered: atomic.LoadInt64(&s.RequestsDiscovered),
		PluginInvocations:  atomic.LoadInt64(&s.PluginInvocations),
		PluginErrors:       atomic.LoadInt64(&s.PluginErrors),
		ResultsDrained:     atomic.LoadInt64(&s.ResultsDrained),
		Logins:             atomic.LoadInt64(&s.Logins),
	}
}
