/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: prometheus.go
Description: Prometheus reporter for the Akaylee Scanner. Implements core.Reporter on a private
registry: counters for discovered requests, plugin results and plugin errors, a duration
histogram per phase, the current phase and live progress gauges read from the scan at scrape
time. Serves the registry on /metrics when an address is configured.
*/

package monitoring

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/kleascm/akaylee-scanner/pkg/core"
	"github.com/kleascm/akaylee-scanner/pkg/request"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "akaylee"

var _ core.Reporter = (*PrometheusReporter)(nil)

var phases = []core.Phase{
	core.PhaseDiscovery, core.PhaseBruteforce, core.PhaseAudit, core.PhaseAuth, core.PhaseGrep,
}

// PrometheusReporter exposes scan metrics for Prometheus scraping
type PrometheusReporter struct {
	registry *prometheus.Registry
	logger   *logrus.Logger

	requestsFound  *prometheus.CounterVec
	pluginResults  *prometheus.CounterVec
	pluginErrors   *prometheus.CounterVec
	pluginDuration *prometheus.HistogramVec
	phase          *prometheus.GaugeVec

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	bound    bool
}

// NewPrometheusReporter creates a reporter with its own registry
func NewPrometheusReporter(logger *logrus.Logger) (*PrometheusReporter, error) {
	if logger == nil {
		logger = logrus.New()
	}
	r := &PrometheusReporter{
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}

	r.requestsFound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_found_total",
			Help:      "Distinct fuzzable requests added to the scan",
		},
		[]string{"discovered_by"},
	)
	r.pluginResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_results_total",
			Help:      "Resolved plugin invocations by outcome",
		},
		[]string{"phase", "plugin", "outcome"},
	)
	r.pluginErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_errors_total",
			Help:      "Plugin invocations that returned an error or panicked",
		},
		[]string{"phase", "plugin"},
	)
	r.pluginDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plugin_duration_seconds",
			Help:      "Duration of plugin invocations",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"phase"},
	)
	r.phase = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_phase",
			Help:      "1 for the phase the scan is in, 0 for the others",
		},
		[]string{"phase"},
	)

	for _, c := range []prometheus.Collector{r.requestsFound, r.pluginResults, r.pluginErrors, r.pluginDuration, r.phase} {
		if err := r.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return r, nil
}

// Bind registers gauges that read the progress and counters of scan when scraped
func (r *PrometheusReporter) Bind(scan *core.ScanContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bound {
		return errors.New("reporter already bound to a scan")
	}

	gauges := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_progress_ratio",
			Help:      "Completed share of the current phase",
		}, func() float64 { return scan.Progress.Percentage() / 100 }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_requests",
			Help:      "Fuzzable requests in the request registry",
		}, func() float64 { return float64(scan.Registry.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_plugin_invocations",
			Help:      "Plugin invocations so far",
		}, func() float64 { return float64(scan.Stats.Snapshot().PluginInvocations) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_paused",
			Help:      "1 while the scan is paused",
		}, func() float64 {
			if scan.Status.IsPaused() {
				return 1
			}
			return 0
		}),
	}
	for _, g := range gauges {
		if err := r.registry.Register(g); err != nil {
			return fmt.Errorf("failed to register gauge: %w", err)
		}
	}
	r.bound = true
	return nil
}

// OnRequestAdded counts a new fuzzable request
func (r *PrometheusReporter) OnRequestAdded(fr *request.FuzzableRequest) {
	by := fr.DiscoveredBy
	if by == "" {
		by = "seed"
	}
	r.requestsFound.WithLabelValues(by).Inc()
}

// OnResult counts a resolved plugin result
func (r *PrometheusReporter) OnResult(result *core.PluginResult) {
	phase := string(result.Phase)
	outcome := "success"
	switch {
	case result.Failed():
		outcome = "error"
		r.pluginErrors.WithLabelValues(phase, result.Plugin).Inc()
	case result.Outcome == core.OutcomeStop:
		outcome = "run_once"
	}
	r.pluginResults.WithLabelValues(phase, result.Plugin, outcome).Inc()
	if result.Duration > 0 {
		r.pluginDuration.WithLabelValues(phase).Observe(result.Duration.Seconds())
	}
}

// OnPhase marks phase as the current one
func (r *PrometheusReporter) OnPhase(phase core.Phase) {
	for _, p := range phases {
		value := 0.0
		if p == phase {
			value = 1
		}
		r.phase.WithLabelValues(string(p)).Set(value)
	}
}

// Registry returns the registry the metrics live in
func (r *PrometheusReporter) Registry() *prometheus.Registry {
	return r.registry
}

// Handler returns the /metrics handler
func (r *PrometheusReporter) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Serve starts the metrics server on addr; ":0" picks a free port
func (r *PrometheusReporter) Serve(addr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.server != nil {
		return errors.New("metrics server already running")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	r.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	r.listener = listener

	server := r.server
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.WithError(err).Error("Metrics server failed")
		}
	}()
	r.logger.WithField("addr", listener.Addr().String()).Info("Serving Prometheus metrics on /metrics")
	return nil
}

// Addr returns the address the metrics server listens on, empty when not serving
func (r *PrometheusReporter) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Close shuts down the metrics server
func (r *PrometheusReporter) Close() error {
	r.mu.Lock()
	server := r.server
	r.server = nil
	r.listener = nil
	r.mu.Unlock()
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
