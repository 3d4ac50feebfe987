/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: auth_test.go
Description: Tests for the auth consumer: periodic logins on timeout, forced logins, session
checks, error recording and idempotent shutdown.
*/

package consumers_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kleascm/akaylee-scanner/pkg/consumers"
	"github.com/kleascm/akaylee-scanner/pkg/core"
	"github.com/kleascm/akaylee-scanner/pkg/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAuthPeriodicLogin tests a login happens once per timeout while logged out
func TestAuthPeriodicLogin(t *testing.T) {
	scan := newScan(t, func(cfg *core.ScanConfig) { cfg.AuthTimeout = 100 * time.Millisecond })
	plugin := &fakeAuth{basePlugin: basePlugin{name: "form"}}

	auth := consumers.NewAuthConsumer(scan, []interfaces.AuthPlugin{plugin})
	auth.Start()
	time.Sleep(350 * time.Millisecond)
	auth.Stop()

	logins := plugin.Logins()
	assert.GreaterOrEqual(t, logins, 2)
	assert.LessOrEqual(t, logins, 4)
	assert.Equal(t, int64(logins), auth.Logins())
	assert.Equal(t, 1, plugin.Ends())
	assert.GreaterOrEqual(t, plugin.Settles(), logins)
}

// TestAuthSkipsLoginWhenLogged tests IsLogged short circuits Login
func TestAuthSkipsLoginWhenLogged(t *testing.T) {
	scan := newScan(t, nil)
	plugin := &fakeAuth{basePlugin: basePlugin{name: "form"}, stay: true}

	auth := consumers.NewAuthConsumer(scan, []interfaces.AuthPlugin{plugin})
	auth.ForceLogin(context.Background())
	auth.ForceLogin(context.Background())
	auth.ForceLogin(context.Background())

	assert.Equal(t, 1, plugin.Logins())
	assert.Equal(t, int64(1), auth.Logins())
	assert.Equal(t, int64(1), scan.Stats.Snapshot().Logins)
}

// TestAuthAsyncForceLogin tests the loop handles queued force login messages
func TestAuthAsyncForceLogin(t *testing.T) {
	scan := newScan(t, func(cfg *core.ScanConfig) { cfg.AuthTimeout = time.Hour })
	plugin := &fakeAuth{basePlugin: basePlugin{name: "form"}}

	auth := consumers.NewAuthConsumer(scan, []interfaces.AuthPlugin{plugin})
	auth.Start()
	require.True(t, auth.AsyncForceLogin())
	assert.Eventually(t, func() bool { return plugin.Logins() == 1 }, time.Second, 5*time.Millisecond)

	auth.Stop()
	select {
	case <-auth.Done():
	case <-time.After(time.Second):
		t.Fatal("auth consumer did not stop")
	}
}

// TestAuthAsyncForceLoginQueueFull tests a full queue refuses without blocking
func TestAuthAsyncForceLoginQueueFull(t *testing.T) {
	scan := newScan(t, func(cfg *core.ScanConfig) { cfg.AuthQueue = 2 })
	plugin := &fakeAuth{basePlugin: basePlugin{name: "form"}}

	auth := consumers.NewAuthConsumer(scan, []interfaces.AuthPlugin{plugin})
	assert.True(t, auth.AsyncForceLogin())
	assert.True(t, auth.AsyncForceLogin())
	assert.False(t, auth.AsyncForceLogin())
	auth.Stop()
}

// TestAuthErrorsRecorded tests login failures are recorded under the auth phase
func TestAuthErrorsRecorded(t *testing.T) {
	scan := newScan(t, nil)
	failing := &fakeAuth{basePlugin: basePlugin{name: "broken"}, failErr: errors.New("bad password")}
	healthy := &fakeAuth{basePlugin: basePlugin{name: "healthy"}, stay: true}

	auth := consumers.NewAuthConsumer(scan, []interfaces.AuthPlugin{failing, healthy})
	auth.ForceLogin(context.Background())

	assert.Equal(t, 1, scan.Errors.Count("broken", core.PhaseAuth))
	assert.Equal(t, 1, healthy.Logins(), "a failing plugin does not block the others")
	assert.NoError(t, scan.Err())
}

// TestAuthFatalAborts tests a fatal login error aborts the scan
func TestAuthFatalAborts(t *testing.T) {
	scan := newScan(t, nil)
	scan.Begin()
	fatal := &fakeAuth{basePlugin: basePlugin{name: "fatal"}, failErr: core.ErrMemoryExhausted}

	auth := consumers.NewAuthConsumer(scan, []interfaces.AuthPlugin{fatal})
	auth.ForceLogin(scan.Context())

	assert.ErrorIs(t, scan.Err(), core.ErrMemoryExhausted)
	assert.Error(t, scan.Context().Err())
}

// TestAuthStopIdempotent tests Stop on running and never started consumers
func TestAuthStopIdempotent(t *testing.T) {
	scan := newScan(t, nil)
	plugin := &fakeAuth{basePlugin: basePlugin{name: "form"}}

	never := consumers.NewAuthConsumer(scan, []interfaces.AuthPlugin{plugin})
	never.Stop()
	never.Stop()
	never.Start()
	assert.Equal(t, 1, plugin.Ends())
	assert.Equal(t, 0, plugin.Logins())

	other := &fakeAuth{basePlugin: basePlugin{name: "other"}}
	running := consumers.NewAuthConsumer(scan, []interfaces.AuthPlugin{other})
	running.Start()
	running.Stop()
	running.Stop()
	<-running.Done()
	assert.Equal(t, 1, other.Ends())
}
