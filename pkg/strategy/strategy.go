/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: strategy.go
Description: Scan strategy for the Akaylee Scanner. Orchestrates a whole scan: seeds fuzzable
requests from the targets, runs discovery and bruteforce until no new credentials show up,
audits every request exactly once and tears all consumers down in a fixed order however the
scan ends. Pause, stop and quit are cooperative controls checked by the long running loops.
*/

package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kleascm/akaylee-scanner/pkg/consumers"
	"github.com/kleascm/akaylee-scanner/pkg/core"
	"github.com/kleascm/akaylee-scanner/pkg/interfaces"
	"github.com/kleascm/akaylee-scanner/pkg/request"
	"github.com/sirupsen/logrus"
)

// ErrAlreadyRunning is returned by Start while a scan is in progress
var ErrAlreadyRunning = errors.New("scan is already running")

// Plugins holds the plugin instances of every phase
type Plugins struct {
	Discovery  []interfaces.DiscoveryPlugin
	Bruteforce []interfaces.BruteforcePlugin
	Audit      []interfaces.AuditPlugin
	Auth       []interfaces.AuthPlugin
	Grep       []interfaces.GrepPlugin
}

// ScanStrategy runs discover-and-bruteforce to a fixed point, then audit
type ScanStrategy struct {
	scan    *core.ScanContext
	plugins Plugins
	logger  *logrus.Entry

	discovery  *consumers.DiscoveryRunner
	bruteforce *consumers.BruteforceRunner

	// Background consumers, nil once torn down
	mu          sync.Mutex
	audit       *consumers.PluginConsumer
	auth        *consumers.AuthConsumer
	grep        *consumers.GrepConsumer
	grepDrained chan error

	running atomic.Bool
	state   atomic.Int32
	applied map[string]bool // Credentials already configured on the client
}

// New creates a strategy over scan with the given plugins
func New(scan *core.ScanContext, plugins Plugins) *ScanStrategy {
	return &ScanStrategy{
		scan:    scan,
		plugins: plugins,
		logger:  scan.Logger.WithField("component", "strategy"),
		applied: make(map[string]bool),
	}
}

// State returns the current state of the scan
func (s *ScanStrategy) State() core.ScanState {
	return core.ScanState(s.state.Load())
}

func (s *ScanStrategy) setState(state core.ScanState) {
	s.state.Store(int32(state))
	s.logger.WithField("state", state).Debug("Scan state changed")
}

// FuzzableRequests returns every request known to the scan, seeds included
func (s *ScanStrategy) FuzzableRequests() []*request.FuzzableRequest {
	return s.scan.Registry.List()
}

// Start runs the whole scan and blocks until it ends
// Teardown always runs. The returned error is the fatal error that ended the scan, if any;
// a user stop is not an error.
func (s *ScanStrategy) Start() (err error) {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	if s.scan.Client == nil {
		return fmt.Errorf("no HTTP client configured")
	}
	scope, err := request.NewScope(s.scan.Config.Targets)
	if err != nil {
		return fmt.Errorf("failed to build scan scope: %w", err)
	}

	s.scan.Begin()
	s.scan.Errors.Clear()
	s.scan.Status.Start()
	s.setState(core.StateIdle)

	s.discovery = consumers.NewDiscoveryRunner(s.scan, scope, s.plugins.Discovery)
	s.bruteforce = consumers.NewBruteforceRunner(s.scan, s.plugins.Bruteforce)

	defer func() {
		s.Terminate()
		s.discovery.End()
		s.bruteforce.End()
		s.setState(core.StateEnded)
		s.scan.Status.Finish()
		s.scan.Progress.Reset()
		s.summary()
		if fatal := s.scan.Err(); fatal != nil {
			err = fatal
		} else if errors.Is(err, context.Canceled) {
			err = nil
		}
	}()

	ctx := s.scan.Context()
	s.setupGrep(ctx)
	s.setupAuth(ctx)
	if err := s.scan.Err(); err != nil {
		return err
	}

	s.setState(core.StateSeedingTargets)
	seeds := s.seed(ctx, scope)
	if len(seeds) == 0 {
		s.logger.Info("No fuzzable requests found from the targets, ending the scan")
		return nil
	}

	s.setState(core.StateDiscoveringAndBruteforcing)
	if err := s.discoverAndBruteforce(seeds); err != nil {
		return err
	}

	s.setState(core.StatePostDiscoveryCleanup)
	s.cleanup()

	if s.scan.Status.IsStopped() {
		s.logger.Info("Scan stopped by user request, skipping audit")
		return nil
	}

	s.setState(core.StateAuditing)
	return s.runAudit(ctx)
}

// Stop asks the scan to end at the next checkpoint; work in progress completes
func (s *ScanStrategy) Stop() {
	s.logger.Info("Stopping scan")
	s.scan.Status.Stop()
}

// Quit stops the scan and cancels everything in flight
func (s *ScanStrategy) Quit() {
	s.Stop()
	s.scan.Cancel()
	if s.scan.Client != nil {
		s.scan.Client.Stop()
	}
}

// Pause pauses or resumes the scan and its HTTP client
func (s *ScanStrategy) Pause(paused bool) {
	s.scan.Status.Pause(paused)
	if s.scan.Client != nil {
		s.scan.Client.Pause(paused)
	}
}

// Terminate tears the consumers down in order grep, audit, auth
// Safe to call many times, concurrently and before Start.
func (s *ScanStrategy) Terminate() {
	s.mu.Lock()
	grep, drained := s.grep, s.grepDrained
	audit, auth := s.audit, s.auth
	s.grep, s.grepDrained, s.audit, s.auth = nil, nil, nil, nil
	s.mu.Unlock()

	if grep != nil {
		if publisher, ok := s.scan.Client.(interfaces.ResponsePublisher); ok {
			publisher.SetResponseObserver(nil)
		}
		grep.Stop()
		select {
		case err := <-drained:
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.WithError(err).Warn("Grep results drain ended with an error")
			}
		case <-time.After(s.scan.Config.StopGracePeriod):
			s.logger.Debug("Grep results still draining after grace period")
		}
	}
	if audit != nil {
		audit.Stop()
	}
	if auth != nil {
		auth.Stop()
	}
}

// setupGrep starts the grep consumer and subscribes it to the HTTP client
func (s *ScanStrategy) setupGrep(ctx context.Context) {
	if len(s.plugins.Grep) == 0 {
		return
	}
	grep := consumers.NewGrepConsumer(s.scan, s.plugins.Grep)
	drained := make(chan error, 1)

	s.mu.Lock()
	s.grep, s.grepDrained = grep, drained
	s.mu.Unlock()

	grep.Start()
	go func() {
		drained <- grep.Drain(ctx, nil)
	}()

	if publisher, ok := s.scan.Client.(interfaces.ResponsePublisher); ok {
		publisher.SetResponseObserver(grep)
	} else {
		s.logger.Warn("HTTP client does not publish responses, grep plugins will see nothing")
	}
}

// setupAuth starts the auth consumer and logs in before any other phase runs
func (s *ScanStrategy) setupAuth(ctx context.Context) {
	if len(s.plugins.Auth) == 0 {
		return
	}
	auth := consumers.NewAuthConsumer(s.scan, s.plugins.Auth)

	s.mu.Lock()
	s.auth = auth
	s.mu.Unlock()

	auth.Start()
	auth.ForceLogin(ctx)
}

// seed fetches every target and extracts the initial in-scope requests
func (s *ScanStrategy) seed(ctx context.Context, scope *request.Scope) []*request.FuzzableRequest {
	seeds := request.NewSet()
	for _, target := range s.scan.Config.Targets {
		if s.scan.Status.WaitIfPaused(ctx) {
			break
		}
		found, err := s.seedTarget(ctx, target)
		if err != nil {
			s.logger.WithError(err).WithField("url", target).Warn("Target unreachable, skipping it")
			continue
		}
		for _, fr := range found {
			fr = fr.WithoutFragment()
			if scope.ContainsRequest(fr) {
				seeds.Add(fr)
			}
		}
	}

	list := seeds.List()
	s.scan.AddRequests(list)
	s.scan.PublishInventory()
	s.logger.WithField("requests", len(list)).Info("Seeded fuzzable requests from targets")
	return list
}

func (s *ScanStrategy) seedTarget(ctx context.Context, target string) ([]*request.FuzzableRequest, error) {
	resp, err := s.scan.Client.GET(ctx, target, true)
	if err != nil {
		return nil, err
	}
	base := resp.URL
	if base == nil {
		fr, err := request.New("GET", target, nil)
		if err != nil {
			return nil, err
		}
		base = fr.URL
	}
	if !resp.IsHTML() {
		return []*request.FuzzableRequest{request.FromURL("GET", base, nil)}, nil
	}
	return request.FromHTML(base, resp.Body)
}

// discoverAndBruteforce alternates discovery and bruteforce until no new credentials are found
func (s *ScanStrategy) discoverAndBruteforce(seeds []*request.FuzzableRequest) error {
	known := request.NewSet(seeds...)
	bruteforced := request.NewSet()
	toWalk := seeds

	for {
		s.scan.SetPhase(core.PhaseDiscovery)
		found, err := s.discovery.Run(toWalk)
		known.Merge(found)
		if err != nil {
			return err
		}
		if s.scan.Status.IsStopped() || !s.bruteforce.HasPlugins() {
			return nil
		}

		var candidates []*request.FuzzableRequest
		for _, fr := range known.List() {
			if bruteforced.Add(fr) {
				candidates = append(candidates, fr)
			}
		}

		s.scan.SetPhase(core.PhaseBruteforce)
		credentialed, err := s.bruteforce.Run(candidates)
		if err != nil {
			return err
		}
		if credentialed.Len() == 0 || s.scan.Status.IsStopped() {
			return nil
		}

		s.logger.WithField("requests", credentialed.Len()).Info("New credentials found, rediscovering")
		s.applyCredentials()
		toWalk = credentialed.List()
	}
}

// applyCredentials configures the HTTP client with credentials stored by bruteforce plugins
func (s *ScanStrategy) applyCredentials() {
	for _, value := range s.scan.KB.GetData(interfaces.NamespaceBasicAuth, interfaces.KeyAuth) {
		var cred interfaces.Credential
		switch v := value.(type) {
		case interfaces.Credential:
			cred = v
		case *interfaces.Credential:
			cred = *v
		default:
			continue
		}
		key := cred.URL + "\x00" + cred.Username + "\x00" + cred.Password
		if s.applied[key] {
			continue
		}
		if err := s.scan.Client.SetBasicAuth(cred.URL, cred.Username, cred.Password); err != nil {
			s.logger.WithError(err).WithField("url", cred.URL).Warn("Failed to configure basic auth credentials")
			continue
		}
		s.applied[key] = true
		s.logger.WithFields(logrus.Fields{"url": cred.URL, "user": cred.Username}).Info("Using credentials for the next discovery pass")
	}
}

// cleanup ends discovery and bruteforce plugins and logs the inventory
func (s *ScanStrategy) cleanup() {
	s.discovery.End()
	s.bruteforce.End()

	s.scan.PublishInventory()
	urls := s.scan.Registry.URLs()
	for _, u := range urls {
		s.logger.WithField("url", u).Debug("Known URL")
	}
	s.logger.Infof("Found %d URLs and %d different points of injection", len(urls), s.scan.Registry.Len())
}

// runAudit feeds every known request to the audit consumer and drains its results
func (s *ScanStrategy) runAudit(ctx context.Context) error {
	if len(s.plugins.Audit) == 0 {
		s.logger.Info("No audit plugins enabled")
		return nil
	}
	s.scan.SetPhase(core.PhaseAudit)

	requests := s.scan.Registry.List()
	audit := consumers.NewAuditConsumer(s.scan, s.plugins.Audit)
	s.mu.Lock()
	s.audit = audit
	s.mu.Unlock()

	s.scan.Progress.SetTotalAmount(len(requests) * len(s.plugins.Audit))
	audit.Start()

	drained := make(chan error, 1)
	go func() {
		drained <- audit.Drain(ctx, nil)
	}()

	for _, fr := range requests {
		if s.scan.Status.WaitIfPaused(ctx) {
			s.logger.Info("Audit stopped, no more requests will be queued")
			break
		}
		if err := audit.In().Put(ctx, core.RequestItem(fr)); err != nil {
			break
		}
	}
	if err := audit.In().Put(ctx, core.FinishItem()); err != nil {
		return <-drained
	}

	s.waitForQueue(ctx, audit.In())
	audit.Stop()
	return <-drained
}

// waitForQueue polls until the audit input queue is empty
func (s *ScanStrategy) waitForQueue(ctx context.Context, queue *core.WorkQueue) {
	ticker := time.NewTicker(s.scan.Config.AuditPollInterval)
	defer ticker.Stop()

	for queue.Size() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logger.WithFields(logrus.Fields{
				"queued":   queue.Size(),
				"progress": fmt.Sprintf("%.1f%%", s.scan.Progress.Percentage()),
			}).Debug("Waiting for the audit queue to empty")
		}
	}
}

// summary logs the duration and the exception report
func (s *ScanStrategy) summary() {
	stats := s.scan.Stats.Snapshot()
	s.logger.WithFields(logrus.Fields{
		"duration":    s.scan.Status.RunTime().Round(time.Millisecond).String(),
		"requests":    s.scan.Registry.Len(),
		"invocations": stats.PluginInvocations,
		"errors":      stats.PluginErrors,
	}).Info("Scan finished")

	if report := s.scan.Errors.SummaryString(); report != "" {
		s.logger.Warn(report)
	}
}
