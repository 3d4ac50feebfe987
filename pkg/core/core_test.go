/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: core_test.go
Description: Tests for the core package. Covers the work queue, futures, the error handler cap
and fatal taxonomy, status pause/stop controls, progress tracking, the knowledge base, config
validation and the scan context.
*/

package core_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/kleascm/akaylee-scanner/pkg/core"
	"github.com/kleascm/akaylee-scanner/pkg/request"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// TestWorkQueueFIFO tests ordering and the finish sentinel
func TestWorkQueueFIFO(t *testing.T) {
	q := core.NewWorkQueue(4)
	ctx := context.Background()

	a := request.MustNew("GET", "http://a.test/a")
	b := request.MustNew("GET", "http://a.test/b")
	require.NoError(t, q.Put(ctx, core.RequestItem(a)))
	require.NoError(t, q.Put(ctx, core.RequestItem(b)))
	require.NoError(t, q.Put(ctx, core.FinishItem()))
	assert.Equal(t, 3, q.Size())
	assert.Equal(t, 4, q.Cap())

	item, err := q.Get(ctx)
	require.NoError(t, err)
	assert.Same(t, a, item.Request)
	item, _ = q.Get(ctx)
	assert.Same(t, b, item.Request)
	item, _ = q.Get(ctx)
	assert.True(t, item.IsFinish())
	assert.Equal(t, 0, q.Size())

	stats := q.GetStats()
	assert.Equal(t, int64(3), stats["insertions"])
	assert.Equal(t, int64(3), stats["removals"])
}

// TestWorkQueueBackpressure tests that a full queue blocks producers
func TestWorkQueueBackpressure(t *testing.T) {
	q := core.NewWorkQueue(1)
	require.True(t, q.TryPut(core.ForceLoginItem()))
	assert.False(t, q.TryPut(core.ForceLoginItem()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Put(ctx, core.FinishItem())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- q.Put(context.Background(), core.FinishItem()) }()

	_, err = q.Get(context.Background())
	require.NoError(t, err)
	require.NoError(t, <-done)

	item, ok := q.GetTimeout(time.Second)
	require.True(t, ok)
	assert.Equal(t, core.ItemFinish, item.Kind)

	_, ok = q.GetTimeout(10 * time.Millisecond)
	assert.False(t, ok)
}

// TestWorkQueueGetCancel tests that a blocked consumer honours its context
func TestWorkQueueGetCancel(t *testing.T) {
	q := core.NewWorkQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Get(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestFuture tests single resolution and waiting
func TestFuture(t *testing.T) {
	f := core.NewFuture()
	select {
	case <-f.Done():
		t.Fatal("future resolved too early")
	default:
	}

	go f.Resolve(&core.PluginResult{Plugin: "first"})
	r := f.Wait()
	require.NotNil(t, r)
	assert.Equal(t, "first", r.Plugin)

	f.Resolve(&core.PluginResult{Plugin: "second"})
	assert.Equal(t, "first", f.Wait().Plugin)

	pending := core.NewFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := pending.WaitContext(ctx)
	assert.Error(t, err)

	resolved := core.ResolvedFuture(&core.PluginResult{Err: errors.New("x")})
	got, err := resolved.WaitContext(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Failed())
}

// TestErrorHandlerCap tests that records are capped per (plugin, phase)
func TestErrorHandlerCap(t *testing.T) {
	h := core.NewErrorHandler(5, false, quietLogger())
	snap := core.StatusSnapshot{Phase: core.PhaseAudit, Plugin: "broken", Request: request.MustNew("GET", "http://a.test/")}

	for i := 0; i < 12; i++ {
		assert.NoError(t, h.Handle(snap, fmt.Errorf("boom %d", i), []byte("stack")))
	}
	assert.Equal(t, 5, h.Count("broken", core.PhaseAudit))
	assert.Equal(t, 12, h.Seen("broken", core.PhaseAudit))

	other := core.StatusSnapshot{Phase: core.PhaseDiscovery, Plugin: "broken"}
	require.NoError(t, h.Handle(other, errors.New("other phase"), nil))
	assert.Equal(t, 1, h.Count("broken", core.PhaseDiscovery))

	records := h.Records()
	require.Len(t, records, 6)
	assert.Equal(t, "boom 0", records[0].Message)
	assert.Equal(t, "stack", records[0].Stack)
	assert.Contains(t, records[0].Request, "http://a.test/")

	summary := h.Summary()
	assert.Len(t, summary[core.PhaseAudit], 5)
	assert.Contains(t, h.SummaryString(), h.ScanID())

	oldID := h.ScanID()
	h.Clear()
	assert.Empty(t, h.Records())
	assert.Equal(t, 0, h.Count("broken", core.PhaseAudit))
	assert.Equal(t, oldID, h.ScanID(), "the scan id outlives cleared records")
	assert.Empty(t, h.SummaryString())
}

// TestErrorHandlerFatal tests fatal errors are returned and never stored
func TestErrorHandlerFatal(t *testing.T) {
	h := core.NewErrorHandler(5, false, quietLogger())
	snap := core.StatusSnapshot{Phase: core.PhaseAudit, Plugin: "p"}

	fatal := []error{
		core.ErrMemoryExhausted,
		fmt.Errorf("wrapped: %w", core.ErrMemoryExhausted),
		core.NewMustStopError(core.StopEnvironment, "disk full", nil),
		core.NewMustStopError(core.StopUnknown, "", errors.New("cause")),
		core.NewMustStopError(core.StopUser, "ctrl+c", nil),
	}
	for _, err := range fatal {
		assert.True(t, core.IsFatal(err))
		assert.Equal(t, err, h.Handle(snap, err, nil))
	}
	assert.Empty(t, h.Records())
	assert.Nil(t, h.Handle(snap, nil, nil))

	err := core.NewMustStopError(core.StopUser, "bye", nil)
	assert.ErrorIs(t, err, core.ErrScanMustStopByUserRequest)
	assert.NotErrorIs(t, err, core.ErrScanMustStop)
	assert.False(t, core.IsFatal(errors.New("plain")))

	debug := core.NewErrorHandler(5, true, quietLogger())
	plain := errors.New("plain")
	assert.Equal(t, plain, debug.Handle(snap, plain, nil))
	assert.Empty(t, debug.Records())
}

// TestErrorHandlerConcurrent tests the cap holds under concurrent handling
func TestErrorHandlerConcurrent(t *testing.T) {
	h := core.NewErrorHandler(5, false, quietLogger())
	snap := core.StatusSnapshot{Phase: core.PhaseGrep, Plugin: "p"}
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Handle(snap, errors.New("x"), nil)
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, h.Count("p", core.PhaseGrep))
	assert.Equal(t, 100, h.Seen("p", core.PhaseGrep))
}

// TestScanStatus tests phase tracking and the stop/pause controls
func TestScanStatus(t *testing.T) {
	s := core.NewScanStatus(5 * time.Millisecond)
	s.Start()
	assert.True(t, s.IsRunning())

	fr := request.MustNew("GET", "http://a.test/")
	s.SetPhase(core.PhaseDiscovery)
	s.SetRunningPlugin(core.PhaseDiscovery, "web_spider")
	s.SetCurrentRequest(core.PhaseDiscovery, fr)
	s.SetRunningPlugin(core.PhaseAuth, "form_login")

	snap := s.Snapshot()
	assert.Equal(t, core.PhaseDiscovery, snap.Phase)
	assert.Equal(t, "web_spider", snap.Plugin)
	assert.Same(t, fr, snap.Request)
	assert.Equal(t, "form_login", s.LatestRunningPlugin())
	assert.Equal(t, "web_spider", s.RunningPlugin(core.PhaseDiscovery))

	assert.False(t, s.WaitIfPaused(context.Background()))

	s.Pause(true)
	assert.True(t, s.IsPaused())
	released := make(chan bool, 1)
	go func() { released <- s.WaitIfPaused(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	s.Pause(false)
	assert.False(t, <-released)

	s.Pause(true)
	go func() { released <- s.WaitIfPaused(context.Background()) }()
	s.Stop()
	assert.True(t, <-released, "stop while paused wins")
	assert.False(t, s.IsRunning())
	assert.True(t, s.IsStopped())

	s.Pause(true)
	assert.False(t, s.IsPaused(), "a stopped scan cannot be paused")

	s.Reset()
	assert.Equal(t, core.PhaseNone, s.Phase())
	assert.Empty(t, s.LatestRunningPlugin())
}

// TestProgressTracker tests percentage and ETA
func TestProgressTracker(t *testing.T) {
	p := core.NewProgressTracker()
	assert.Equal(t, float64(0), p.Percentage())
	assert.Equal(t, time.Duration(0), p.ETA())

	p.SetTotalAmount(4)
	p.Inc()
	assert.Equal(t, float64(25), p.Percentage())
	assert.GreaterOrEqual(t, p.ETA(), time.Duration(0))

	for i := 0; i < 10; i++ {
		p.Inc()
	}
	assert.Equal(t, float64(100), p.Percentage())

	p.SetTotalAmount(2)
	cur, total := p.Current()
	assert.Equal(t, int64(0), cur)
	assert.Equal(t, int64(2), total)

	p.Reset()
	assert.Equal(t, float64(0), p.Percentage())
}

// TestKnowledgeBase tests namespaced storage
func TestKnowledgeBase(t *testing.T) {
	kb := core.NewKnowledgeBase()
	kb.Append("vulns", "xss", "one")
	kb.Append("vulns", "xss", "two")
	kb.Set("urls", "url_list", []interface{}{"http://a.test/"})

	assert.Equal(t, []interface{}{"one", "two"}, kb.GetData("vulns", "xss"))
	assert.Nil(t, kb.GetData("missing", "x"))
	assert.Equal(t, []string{"urls", "vulns"}, kb.Namespaces())
	assert.Equal(t, []string{"xss"}, kb.Keys("vulns"))

	data := kb.GetData("vulns", "xss")
	data[0] = "mutated"
	assert.Equal(t, "one", kb.GetData("vulns", "xss")[0])

	kb.Clear()
	assert.Empty(t, kb.Namespaces())
}

// TestScanConfigValidate tests configuration validation
func TestScanConfigValidate(t *testing.T) {
	cfg := core.DefaultScanConfig()
	assert.Error(t, cfg.Validate(), "targets are required")

	cfg.Targets = []string{"http://a.test/"}
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.MaxExceptionsPerPlugin)
	assert.Equal(t, 40, cfg.AuditQueue)
	assert.Equal(t, 10, cfg.AuditWorkers)
	assert.Equal(t, 5, cfg.AuthQueue)
	assert.Equal(t, 500*time.Millisecond, cfg.StopGracePeriod)

	cfg.Targets = []string{"ftp://a.test/"}
	assert.Error(t, cfg.Validate())

	cfg.Targets = []string{"http://a.test/"}
	cfg.AuditWorkers = 0
	assert.Error(t, cfg.Validate())
}

// TestScanContext tests abort bookkeeping and result handling
func TestScanContext(t *testing.T) {
	cfg := core.DefaultScanConfig()
	scan := core.NewScanContext(cfg, nil, core.WithLogger(quietLogger()))
	require.NotNil(t, scan.Tracer)
	require.NotNil(t, scan.KB)

	ctx := scan.Context()
	assert.NoError(t, ctx.Err())

	r := &core.PluginResult{Phase: core.PhaseAudit, Plugin: "p", Err: errors.New("oops")}
	assert.NoError(t, scan.HandleResult(r))
	assert.Equal(t, 1, scan.Errors.Count("p", core.PhaseAudit))
	assert.NoError(t, ctx.Err())

	fatal := &core.PluginResult{Phase: core.PhaseAudit, Plugin: "p", Err: core.ErrMemoryExhausted}
	assert.ErrorIs(t, scan.HandleResult(fatal), core.ErrMemoryExhausted)
	assert.ErrorIs(t, scan.Err(), core.ErrMemoryExhausted)
	assert.Error(t, ctx.Err())

	scan.Abort(errors.New("second"))
	assert.ErrorIs(t, scan.Err(), core.ErrMemoryExhausted, "first fatal error wins")

	scan.Begin()
	assert.NoError(t, scan.Err())
	assert.NoError(t, scan.Context().Err())

	added := scan.AddRequests([]*request.FuzzableRequest{
		request.MustNew("GET", "http://a.test/1"),
		request.MustNew("GET", "http://a.test/1"),
	})
	assert.Equal(t, 1, added)
	assert.Equal(t, int64(1), scan.Stats.Snapshot().RequestsDiscovered)
}
