/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: roster.go
Description: Plugin roster shared by the consumers and runners. Tracks which plugins are still
active, removes run-once plugins and guarantees End is called at most once per plugin.
*/

package consumers

import (
	"sync"

	"github.com/kleascm/akaylee-scanner/pkg/core"
	"github.com/kleascm/akaylee-scanner/pkg/interfaces"
)

type roster struct {
	mu     sync.Mutex
	all    []interfaces.Plugin
	active []interfaces.Plugin
	ended  map[string]bool
}

func newRoster(plugins []interfaces.Plugin) *roster {
	return &roster{
		all:    append([]interfaces.Plugin(nil), plugins...),
		active: append([]interfaces.Plugin(nil), plugins...),
		ended:  make(map[string]bool),
	}
}

// Active returns a copy of the active plugins in configured order
func (r *roster) Active() []interfaces.Plugin {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]interfaces.Plugin(nil), r.active...)
}

// IsActive reports whether the plugin has not been retired
func (r *roster) IsActive(p interfaces.Plugin) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.active {
		if a.Name() == p.Name() {
			return true
		}
	}
	return false
}

// Retire removes a plugin from the active list
// Returns false when it was already retired
func (r *roster) Retire(p interfaces.Plugin) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, a := range r.active {
		if a.Name() == p.Name() {
			r.active = append(r.active[:i:i], r.active[i+1:]...)
			return true
		}
	}
	return false
}

// End calls End on the plugin unless it was already ended
func (r *roster) End(scan *core.ScanContext, phase core.Phase, p interfaces.Plugin) {
	r.mu.Lock()
	if r.ended[p.Name()] {
		r.mu.Unlock()
		return
	}
	r.ended[p.Name()] = true
	r.mu.Unlock()

	endPlugin(scan, phase, p)
}

// Reopen marks a plugin as needing End again, for runners that end plugins after every pass
func (r *roster) Reopen(p interfaces.Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ended, p.Name())
}

// EndAll ends every plugin that was not ended yet
func (r *roster) EndAll(scan *core.ScanContext, phase core.Phase) {
	r.mu.Lock()
	all := append([]interfaces.Plugin(nil), r.all...)
	r.mu.Unlock()
	for _, p := range all {
		r.End(scan, phase, p)
	}
}

// Clear drops every plugin reference
func (r *roster) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = nil
	r.active = nil
}

func asPlugins[T interfaces.Plugin](plugins []T) []interfaces.Plugin {
	out := make([]interfaces.Plugin, 0, len(plugins))
	for _, p := range plugins {
		out = append(out, p)
	}
	return out
}
