/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: auth.go
Description: Auth consumer for the Akaylee Scanner. Keeps an authenticated session alive for the
whole scan: it wakes up every timeout, or when a force login message arrives, and runs the
login procedure over every auth plugin. Other phases can also run the procedure synchronously.
*/

package consumers

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kleascm/akaylee-scanner/pkg/core"
	"github.com/kleascm/akaylee-scanner/pkg/interfaces"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AuthConsumer maintains the logged in session
type AuthConsumer struct {
	scan    *core.ScanContext
	in      *core.WorkQueue
	plugins []interfaces.AuthPlugin
	ended   *roster
	logger  *logrus.Entry

	loginMu sync.Mutex // Serializes login procedures
	logins  int64      // Login calls made

	// State management
	mu       sync.Mutex
	started  bool
	stopped  bool
	done     chan struct{}
	stopOnce sync.Once
}

// NewAuthConsumer creates the auth consumer
func NewAuthConsumer(scan *core.ScanContext, plugins []interfaces.AuthPlugin) *AuthConsumer {
	return &AuthConsumer{
		scan:    scan,
		in:      core.NewWorkQueue(scan.Config.AuthQueue),
		plugins: append([]interfaces.AuthPlugin(nil), plugins...),
		ended:   newRoster(asPlugins(plugins)),
		logger:  scan.Logger.WithFields(logrus.Fields{"consumer": "auth", "phase": core.PhaseAuth}),
		done:    make(chan struct{}),
	}
}

// Start launches the consumer loop; calling it again, or after Stop, does nothing
func (a *AuthConsumer) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started || a.stopped {
		return
	}
	a.started = true
	go a.run(a.scan.Context())
}

// In returns the input queue
func (a *AuthConsumer) In() *core.WorkQueue {
	return a.in
}

// Done is closed when the consumer loop has terminated
func (a *AuthConsumer) Done() <-chan struct{} {
	return a.done
}

// Logins returns how many times Login was called
func (a *AuthConsumer) Logins() int64 {
	return atomic.LoadInt64(&a.logins)
}

// AsyncForceLogin asks the consumer loop to log in on its next iteration
// Never blocks; returns false when the request could not be queued
func (a *AuthConsumer) AsyncForceLogin() bool {
	return a.in.TryPut(core.ForceLoginItem())
}

// ForceLogin runs the login procedure in the caller's goroutine
func (a *AuthConsumer) ForceLogin(ctx context.Context) {
	a.login(ctx)
}

// Stop asks the consumer to finish and waits up to the grace period for it
// Safe to call many times and on a consumer that never started
func (a *AuthConsumer) Stop() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		started := a.started
		a.stopped = true
		a.mu.Unlock()

		if !started {
			a.ended.EndAll(a.scan, core.PhaseAuth)
			close(a.done)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), a.scan.Config.StopGracePeriod)
		defer cancel()
		if err := a.in.Put(ctx, core.FinishItem()); err != nil {
			a.logger.Debug("Input queue full, finish sentinel not queued")
		}
		select {
		case <-a.done:
		case <-ctx.Done():
			a.logger.Debug("Auth consumer still finishing after grace period")
		}
	})
}

func (a *AuthConsumer) run(ctx context.Context) {
	defer close(a.done)
	defer a.ended.EndAll(a.scan, core.PhaseAuth)

	for ctx.Err() == nil {
		item, ok := a.in.GetTimeout(a.scan.Config.AuthTimeout)
		if !ok {
			a.login(ctx)
			continue
		}
		switch item.Kind {
		case core.ItemFinish:
			return
		case core.ItemForceLogin:
			a.login(ctx)
		default:
			a.logger.WithField("kind", item.Kind).Debug("Ignoring unexpected work item")
		}
	}
}

// login checks every plugin session and logs in where needed
func (a *AuthConsumer) login(ctx context.Context) {
	a.loginMu.Lock()
	defer a.loginMu.Unlock()

	for _, plugin := range a.plugins {
		if ctx.Err() != nil {
			return
		}
		a.loginPlugin(ctx, plugin)
	}
}

func (a *AuthConsumer) loginPlugin(ctx context.Context, plugin interfaces.AuthPlugin) {
	name := plugin.Name()
	ctx, span := a.scan.Tracer.Start(ctx, "plugin.auth", trace.WithAttributes(attribute.String("plugin", name)))
	defer span.End()

	a.scan.Stats.IncrementInvocations()
	a.scan.Status.SetRunningPlugin(core.PhaseAuth, name)

	var logged bool
	stack, err := protect(func() error {
		var err error
		logged, err = plugin.IsLogged(ctx)
		return err
	})
	if err != nil {
		a.fail(span, name, err, stack)
		logged = false
	}

	if !logged {
		atomic.AddInt64(&a.logins, 1)
		a.scan.Stats.IncrementLogins()
		if stack, err := protect(func() error { return plugin.Login(ctx) }); err != nil {
			a.fail(span, name, err, stack)
		} else {
			a.logger.WithField("plugin", name).Debug("Logged in")
		}
	}

	if settler, ok := plugin.(interfaces.Settler); ok {
		if stack, err := protect(func() error { return settler.Settle(ctx) }); err != nil {
			a.fail(span, name, err, stack)
		}
	}
}

// fail records an auth error; a fatal one aborts the scan
func (a *AuthConsumer) fail(span trace.Span, plugin string, err error, stack []byte) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	a.scan.Stats.IncrementErrors()
	snapshot := core.StatusSnapshot{Phase: core.PhaseAuth, Plugin: plugin}
	if fatal := a.scan.Errors.Handle(snapshot, err, stack); fatal != nil {
		a.scan.Abort(fatal)
	}
}
