/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: plugins.go
Description: Shared plugin interfaces for the Akaylee Scanner. Defines the capability set of
discovery, bruteforce, audit, auth and grep plugins so that the engine, the consumers and the
built-in plugins can be developed without import cycles.
*/

package interfaces

import (
	"context"
	"errors"

	"github.com/kleascm/akaylee-scanner/pkg/request"
)

// ErrRunOnce is returned by a plugin that wants to be removed from the active list
// It is a control signal, never reported as a plugin error
var ErrRunOnce = errors.New("plugin requested to run once")

// Plugin is the capability every plugin provides regardless of its phase
// End must be idempotent; its errors are logged and never abort a scan
type Plugin interface {
	Name() string
	End() error
}

// DiscoveryPlugin finds new fuzzable requests starting from a known one
type DiscoveryPlugin interface {
	Plugin
	Discover(ctx context.Context, fr *request.FuzzableRequest) ([]*request.FuzzableRequest, error)
}

// BruteforcePlugin guesses credentials for a request
// Returns the requests that became reachable with the credentials found
type BruteforcePlugin interface {
	Plugin
	Bruteforce(ctx context.Context, fr *request.FuzzableRequest) ([]*request.FuzzableRequest, error)
}

// AuditPlugin tests a request for vulnerabilities
// Findings are written to the knowledge base
type AuditPlugin interface {
	Plugin
	Audit(ctx context.Context, fr *request.FuzzableRequest) error
}

// AuthPlugin keeps an authenticated session alive
type AuthPlugin interface {
	Plugin
	IsLogged(ctx context.Context) (bool, error)
	Login(ctx context.Context) error
}

// GrepPlugin passively inspects every response the scan receives
type GrepPlugin interface {
	Plugin
	Grep(ctx context.Context, fr *request.FuzzableRequest, resp *Response) error
}

// Settler is implemented by plugins that run background work
// Settle blocks until that work has finished
type Settler interface {
	Settle(ctx context.Context) error
}

// Describer is implemented by plugins that carry a human readable description
type Describer interface {
	Description() string
}
