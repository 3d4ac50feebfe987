/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: monitoring_test.go
Description: Tests for the Prometheus reporter, tracing setup, memory watchdog and profiler.
*/

package monitoring

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kleascm/akaylee-scanner/pkg/core"
	"github.com/kleascm/akaylee-scanner/pkg/request"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// TestPrometheusReporterCounters tests reporter callbacks update the metrics
func TestPrometheusReporterCounters(t *testing.T) {
	r, err := NewPrometheusReporter(quietLogger())
	require.NoError(t, err)

	found := request.MustNew("GET", "http://a.test/x")
	found.DiscoveredBy = "web_spider"
	r.OnRequestAdded(found)
	r.OnRequestAdded(request.MustNew("GET", "http://a.test/"))

	r.OnResult(&core.PluginResult{Phase: core.PhaseAudit, Plugin: "reflected_xss", Duration: 20 * time.Millisecond})
	r.OnResult(&core.PluginResult{Phase: core.PhaseAudit, Plugin: "reflected_xss", Err: errors.New("boom")})
	r.OnResult(&core.PluginResult{Phase: core.PhaseDiscovery, Plugin: "web_spider", Outcome: core.OutcomeStop})
	r.OnPhase(core.PhaseAudit)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.requestsFound.WithLabelValues("web_spider")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.requestsFound.WithLabelValues("seed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.pluginResults.WithLabelValues("audit", "reflected_xss", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.pluginResults.WithLabelValues("audit", "reflected_xss", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.pluginResults.WithLabelValues("discovery", "web_spider", "run_once")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.pluginErrors.WithLabelValues("audit", "reflected_xss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.phase.WithLabelValues("audit")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.phase.WithLabelValues("discovery")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.pluginDuration))
}

// TestPrometheusReporterBind tests the scan gauges read live values
func TestPrometheusReporterBind(t *testing.T) {
	r, err := NewPrometheusReporter(quietLogger())
	require.NoError(t, err)

	scan := core.NewScanContext(nil, nil, core.WithLogger(quietLogger()), core.WithReporter(r))
	require.NoError(t, r.Bind(scan))
	assert.Error(t, r.Bind(scan))

	scan.Registry.Add(request.MustNew("GET", "http://a.test/"))
	scan.Registry.Add(request.MustNew("GET", "http://a.test/b"))
	scan.Stats.IncrementInvocations()
	scan.Status.Pause(true)

	expected := `
# HELP akaylee_scan_requests Fuzzable requests in the request registry
# TYPE akaylee_scan_requests gauge
akaylee_scan_requests 2
# HELP akaylee_scan_plugin_invocations Plugin invocations so far
# TYPE akaylee_scan_plugin_invocations gauge
akaylee_scan_plugin_invocations 1
# HELP akaylee_scan_paused 1 while the scan is paused
# TYPE akaylee_scan_paused gauge
akaylee_scan_paused 1
`
	assert.NoError(t, testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected),
		"akaylee_scan_requests", "akaylee_scan_plugin_invocations", "akaylee_scan_paused"))
}

// TestPrometheusReporterServe tests the metrics endpoint is served and shut down
func TestPrometheusReporterServe(t *testing.T) {
	r, err := NewPrometheusReporter(quietLogger())
	require.NoError(t, err)
	assert.Empty(t, r.Addr())

	require.NoError(t, r.Serve("127.0.0.1:0"))
	assert.Error(t, r.Serve("127.0.0.1:0"))
	r.OnPhase(core.PhaseDiscovery)

	resp, err := http.Get("http://" + r.Addr() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `akaylee_scan_phase{phase="discovery"} 1`)

	require.NoError(t, r.Close())
	assert.Empty(t, r.Addr())
	assert.NoError(t, r.Close())
}

// TestTracingRecordsSpans tests the provider exports spans and shuts down
func TestTracingRecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tracing := newTracing(sdktrace.WithSyncer(exporter), TracingOptions{ShutdownTimeout: time.Second})

	_, span := tracing.Tracer(core.TracerName).Start(context.Background(), "plugin.audit")
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "plugin.audit", spans[0].Name)
	name, ok := spans[0].Resource.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, ServiceName, name.AsString())
	assert.NoError(t, tracing.Shutdown())
}

// TestSetupTracingRequiresEndpoint tests the endpoint is mandatory
func TestSetupTracingRequiresEndpoint(t *testing.T) {
	_, err := SetupTracing(context.Background(), TracingOptions{})
	assert.Error(t, err)
}

type recordingAborter struct {
	mu   sync.Mutex
	errs []error
}

func (a *recordingAborter) Abort(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs = append(a.errs, err)
}

func scripted(heaps ...uint64) func() MemorySnapshot {
	start := time.Now()
	i := 0
	return func() MemorySnapshot {
		h := heaps[len(heaps)-1]
		if i < len(heaps) {
			h = heaps[i]
		}
		s := MemorySnapshot{Timestamp: start.Add(time.Duration(i) * time.Second), HeapAlloc: h}
		i++
		return s
	}
}

// TestMemoryWatchdogAbortsOnce tests consecutive samples over the limit abort the scan once
func TestMemoryWatchdogAbortsOnce(t *testing.T) {
	target := &recordingAborter{}
	w := NewMemoryWatchdog(&MemoryConfig{HardLimit: 100, ConsecutiveHit: 2}, target, quietLogger())
	w.read = scripted(50, 150, 80, 150, 200, 300)

	for i := 0; i < 6; i++ {
		w.Sample()
	}

	require.Len(t, target.errs, 1)
	assert.True(t, errors.Is(target.errs[0], core.ErrMemoryExhausted))
	assert.True(t, core.IsFatal(target.errs[0]))
	assert.True(t, w.Tripped())
	assert.Len(t, w.Snapshots(), 6)
}

// TestMemoryWatchdogAbortsScan tests the watchdog ends a scan context with a fatal error
func TestMemoryWatchdogAbortsScan(t *testing.T) {
	scan := core.NewScanContext(nil, nil, core.WithLogger(quietLogger()))
	w := NewMemoryWatchdog(&MemoryConfig{HardLimit: 10}, scan, quietLogger())
	w.read = scripted(11)

	w.Sample()
	assert.ErrorIs(t, scan.Err(), core.ErrMemoryExhausted)
}

// TestMemoryWatchdogHistory tests the history is bounded and the loop stops
func TestMemoryWatchdogHistory(t *testing.T) {
	w := NewMemoryWatchdog(&MemoryConfig{Interval: 5 * time.Millisecond, HistorySize: 3}, nil, quietLogger())
	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))

	assert.Eventually(t, func() bool { return len(w.Snapshots()) == 3 }, time.Second, 5*time.Millisecond)
	w.Stop()
	w.Stop()

	assert.False(t, w.Tripped())
	assert.LessOrEqual(t, len(w.Snapshots()), 3)
}

// TestProfilerWritesProfiles tests the CPU, heap and goroutine profiles are written
func TestProfilerWritesProfiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "profiles")
	p := NewProfiler(dir, quietLogger())

	_, err := p.Stop()
	assert.Error(t, err)

	require.NoError(t, p.Start())
	assert.Error(t, p.Start())

	results, err := p.Stop()
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, ProfilerTypeCPU, results[0].Type)
	for _, r := range results {
		assert.FileExists(t, r.OutputFile)
		assert.Equal(t, dir, filepath.Dir(r.OutputFile))
	}
	assert.Positive(t, results[1].Size)
}
