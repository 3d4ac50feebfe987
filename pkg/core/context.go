/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: context.go
Description: Scan context for the Akaylee Scanner. One value constructed per scan and passed to
the strategy, the consumers and the error handler. It owns the shared HTTP client, status,
progress, knowledge base, request registry, logger, reporters and tracer, plus the scan-wide
cancellation and the first fatal error.
*/

package core

import (
	"context"
	"sync"

	"github.com/kleascm/akaylee-scanner/pkg/interfaces"
	"github.com/kleascm/akaylee-scanner/pkg/request"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name used for scan spans
const TracerName = "github.com/kleascm/akaylee-scanner"

// ScanContext holds everything shared by the components of one scan
type ScanContext struct {
	Config   *ScanConfig
	Client   interfaces.HTTPClient
	Status   *ScanStatus
	Progress *ProgressTracker
	KB       interfaces.KnowledgeBase
	Errors   *ErrorHandler
	Registry *request.Set
	Stats    *ScanStats
	Logger   *logrus.Logger
	Tracer   trace.Tracer

	reporters []Reporter

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	err    error
}

// ContextOption customizes a ScanContext
type ContextOption func(*ScanContext)

// WithLogger sets the logger
func WithLogger(logger *logrus.Logger) ContextOption {
	return func(s *ScanContext) { s.Logger = logger }
}

// WithKnowledgeBase sets the knowledge base
func WithKnowledgeBase(kb interfaces.KnowledgeBase) ContextOption {
	return func(s *ScanContext) { s.KB = kb }
}

// WithReporter adds a reporter
func WithReporter(r Reporter) ContextOption {
	return func(s *ScanContext) { s.reporters = append(s.reporters, r) }
}

// WithTracer sets the tracer used for plugin spans
func WithTracer(tracer trace.Tracer) ContextOption {
	return func(s *ScanContext) { s.Tracer = tracer }
}

// NewScanContext creates the context of one scan
func NewScanContext(config *ScanConfig, client interfaces.HTTPClient, opts ...ContextOption) *ScanContext {
	if config == nil {
		config = DefaultScanConfig()
	}
	s := &ScanContext{
		Config:   config,
		Client:   client,
		Status:   NewScanStatus(config.PausePollInterval),
		Progress: NewProgressTracker(),
		Registry: request.NewSet(),
		Stats:    &ScanStats{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Logger == nil {
		s.Logger = logrus.New()
	}
	if s.KB == nil {
		s.KB = NewKnowledgeBase()
	}
	if s.Tracer == nil {
		s.Tracer = otel.Tracer(TracerName)
	}
	s.Errors = NewErrorHandler(config.MaxExceptionsPerPlugin, config.StopOnFirstException, s.Logger)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Begin prepares the context for a new run
// A fresh cancellation scope is created when the previous one already ended
func (s *ScanContext) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	s.err = nil
}

// Context returns the scan-wide context, cancelled on stop or abort
func (s *ScanContext) Context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Cancel cancels the scan-wide context
func (s *ScanContext) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	cancel()
}

// Abort records the first fatal error and cancels the scan
func (s *ScanContext) Abort(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	cancel := s.cancel
	s.mu.Unlock()

	s.Logger.WithError(err).Error("Scan aborted by fatal error")
	cancel()
}

// Err returns the first fatal error recorded with Abort
func (s *ScanContext) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// HandleResult forwards a resolved result to the reporters and, when it failed, to the error handler
// A fatal error aborts the scan and is returned
func (s *ScanContext) HandleResult(r *PluginResult) error {
	if r == nil {
		return nil
	}
	s.ReportResult(r)
	if !r.Failed() {
		return nil
	}
	s.Stats.IncrementErrors()
	if err := s.Errors.Handle(SnapshotOf(r), r.Err, r.Stack); err != nil {
		s.Abort(err)
		return err
	}
	return nil
}

// AddRequests inserts requests into the shared registry and reports the new ones
func (s *ScanContext) AddRequests(requests []*request.FuzzableRequest) int {
	added := 0
	for _, fr := range requests {
		if s.Registry.Add(fr) {
			added++
			for _, r := range s.reporters {
				r.OnRequestAdded(fr)
			}
		}
	}
	s.Stats.IncrementRequests(added)
	return added
}

// SetPhase updates the status and notifies reporters
func (s *ScanContext) SetPhase(phase Phase) {
	s.Status.SetPhase(phase)
	for _, r := range s.reporters {
		r.OnPhase(phase)
	}
}

// ReportResult notifies reporters of a resolved result
func (s *ScanContext) ReportResult(r *PluginResult) {
	for _, rep := range s.reporters {
		rep.OnResult(r)
	}
}

// Reporters returns the registered reporters
func (s *ScanContext) Reporters() []Reporter {
	return append([]Reporter(nil), s.reporters...)
}

// PublishInventory stores the registry's URLs and requests in the knowledge base
func (s *ScanContext) PublishInventory() {
	urls := s.Registry.URLs()
	urlValues := make([]interface{}, 0, len(urls))
	for _, u := range urls {
		urlValues = append(urlValues, u)
	}
	requests := s.Registry.List()
	reqValues := make([]interface{}, 0, len(requests))
	for _, fr := range requests {
		reqValues = append(reqValues, fr)
	}
	s.KB.Set(interfaces.NamespaceURLs, interfaces.KeyURLList, urlValues)
	s.KB.Set(interfaces.NamespaceURLs, interfaces.KeyFuzzableRequests, reqValues)
}
