/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: fakes_test.go
Description: Hand-written plugin fakes and scan helpers shared by the consumers tests.
*/

package consumers_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kleascm/akaylee-scanner/pkg/core"
	"github.com/kleascm/akaylee-scanner/pkg/interfaces"
	"github.com/kleascm/akaylee-scanner/pkg/request"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func newScan(t *testing.T, mutate func(cfg *core.ScanConfig)) *core.ScanContext {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := core.DefaultScanConfig()
	cfg.Targets = []string{"http://a.test/"}
	cfg.PausePollInterval = 5 * time.Millisecond
	cfg.StopGracePeriod = 200 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())
	return core.NewScanContext(cfg, nil, core.WithLogger(logger))
}

func newScope(t *testing.T, targets ...string) *request.Scope {
	t.Helper()
	if len(targets) == 0 {
		targets = []string{"http://a.test/"}
	}
	scope, err := request.NewScope(targets)
	require.NoError(t, err)
	return scope
}

// basePlugin counts End calls
type basePlugin struct {
	name string
	ends int32
}

func (p *basePlugin) Name() string { return p.name }

func (p *basePlugin) End() error {
	atomic.AddInt32(&p.ends, 1)
	return nil
}

func (p *basePlugin) Ends() int { return int(atomic.LoadInt32(&p.ends)) }

// fakeDiscovery returns canned results per URL
type fakeDiscovery struct {
	basePlugin
	mu      sync.Mutex
	results map[string][]string // url -> discovered urls
	once    map[string]bool     // return results only on the first call for the url
	calls   []string
	err     error
	runOnce bool
}

func newFakeDiscovery(name string) *fakeDiscovery {
	return &fakeDiscovery{
		basePlugin: basePlugin{name: name},
		results:    make(map[string][]string),
		once:       make(map[string]bool),
	}
}

func (p *fakeDiscovery) Discover(ctx context.Context, fr *request.FuzzableRequest) ([]*request.FuzzableRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := fr.URI()
	p.calls = append(p.calls, u)
	if p.err != nil {
		return nil, p.err
	}
	var out []*request.FuzzableRequest
	for _, raw := range p.results[u] {
		out = append(out, request.MustNew("GET", raw))
	}
	if p.once[u] {
		delete(p.results, u)
	}
	if p.runOnce {
		return out, interfaces.ErrRunOnce
	}
	return out, nil
}

func (p *fakeDiscovery) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// fakeAudit records audited URLs and optionally fails
type fakeAudit struct {
	basePlugin
	mu      sync.Mutex
	audited []string
	fail    bool
	panics  bool
	runOnce bool
	delay   time.Duration
	calls   int32
}

func (p *fakeAudit) Audit(ctx context.Context, fr *request.FuzzableRequest) error {
	atomic.AddInt32(&p.calls, 1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.panics {
		panic("audit plugin exploded")
	}
	if p.fail {
		return errBoom
	}
	p.mu.Lock()
	p.audited = append(p.audited, fr.URI())
	p.mu.Unlock()
	if p.runOnce {
		return interfaces.ErrRunOnce
	}
	return nil
}

func (p *fakeAudit) Audited() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.audited...)
}

func (p *fakeAudit) Calls() int { return int(atomic.LoadInt32(&p.calls)) }

// fakeBruteforce returns a credentialed copy of configured URLs
type fakeBruteforce struct {
	basePlugin
	mu      sync.Mutex
	hits    map[string]bool
	calls   int
	fail    bool
	runOnce bool
}

func (p *fakeBruteforce) Bruteforce(ctx context.Context, fr *request.FuzzableRequest) ([]*request.FuzzableRequest, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail {
		return nil, errBoom
	}
	var out []*request.FuzzableRequest
	if p.hits[fr.URI()] {
		out = append(out, fr.Clone())
	}
	if p.runOnce {
		return out, interfaces.ErrRunOnce
	}
	return out, nil
}

func (p *fakeBruteforce) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// sloppyPlugin returns a nil entry and a request without a URL next to a valid one
// for the seed URL, and nothing for any other request
type sloppyPlugin struct {
	basePlugin
	valid string
}

func (p *sloppyPlugin) output(fr *request.FuzzableRequest) []*request.FuzzableRequest {
	if fr.URL.Path != "/" {
		return nil
	}
	return []*request.FuzzableRequest{nil, {Method: "GET"}, request.MustNew("GET", p.valid)}
}

func (p *sloppyPlugin) Discover(ctx context.Context, fr *request.FuzzableRequest) ([]*request.FuzzableRequest, error) {
	return p.output(fr), nil
}

func (p *sloppyPlugin) Bruteforce(ctx context.Context, fr *request.FuzzableRequest) ([]*request.FuzzableRequest, error) {
	return p.output(fr), nil
}

// fakeAuth tracks login calls
type fakeAuth struct {
	basePlugin
	logged  atomic.Bool
	logins  int32
	settles int32
	failErr error
	stay    bool // stay logged in after login
}

func (p *fakeAuth) IsLogged(ctx context.Context) (bool, error) {
	return p.logged.Load(), nil
}

func (p *fakeAuth) Login(ctx context.Context) error {
	atomic.AddInt32(&p.logins, 1)
	if p.failErr != nil {
		return p.failErr
	}
	if p.stay {
		p.logged.Store(true)
	}
	return nil
}

func (p *fakeAuth) Settle(ctx context.Context) error {
	atomic.AddInt32(&p.settles, 1)
	return nil
}

func (p *fakeAuth) Logins() int { return int(atomic.LoadInt32(&p.logins)) }

func (p *fakeAuth) Settles() int { return int(atomic.LoadInt32(&p.settles)) }

// fakeGrep records the URLs of observed responses
type fakeGrep struct {
	basePlugin
	mu   sync.Mutex
	seen []string
	fail bool
}

func (p *fakeGrep) Grep(ctx context.Context, fr *request.FuzzableRequest, resp *interfaces.Response) error {
	p.mu.Lock()
	p.seen = append(p.seen, fr.URI())
	p.mu.Unlock()
	if p.fail {
		return errBoom
	}
	return nil
}

func (p *fakeGrep) Seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.seen...)
}

func urisOf(requests []*request.FuzzableRequest) []string {
	out := make([]string, 0, len(requests))
	for _, fr := range requests {
		out = append(out, fr.URI())
	}
	return out
}

func requestsOf(urls ...string) []*request.FuzzableRequest {
	out := make([]*request.FuzzableRequest, 0, len(urls))
	for _, u := range urls {
		out = append(out, request.MustNew("GET", u))
	}
	return out
}
