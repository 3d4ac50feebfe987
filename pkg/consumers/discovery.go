/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: discovery.go
Description: Discovery runner for the Akaylee Scanner. Runs the discovery plugins inline over a
growing worklist until a pass yields no new in-scope requests. Newly found requests become the
next pass' worklist; the set of seen requests persists across runs so rediscovered requests are
never returned twice. Stop and the maximum discovery time end a run early with partial results.
*/

package consumers

import (
	"context"
	"sync"
	"time"

	"github.com/kleascm/akaylee-scanner/pkg/core"
	"github.com/kleascm/akaylee-scanner/pkg/interfaces"
	"github.com/kleascm/akaylee-scanner/pkg/request"
	"github.com/sirupsen/logrus"
)

// DiscoveryRunner drives discovery plugins to a fixed point
type DiscoveryRunner struct {
	scan    *core.ScanContext
	scope   *request.Scope
	plugins *roster
	seen    *request.Set
	logger  *logrus.Entry

	mu         sync.Mutex
	iterations int
	history    [][]*request.FuzzableRequest
	startTime  time.Time
	timeNotice sync.Once
}

// NewDiscoveryRunner creates a runner restricted to scope
func NewDiscoveryRunner(scan *core.ScanContext, scope *request.Scope, plugins []interfaces.DiscoveryPlugin) *DiscoveryRunner {
	return &DiscoveryRunner{
		scan:    scan,
		scope:   scope,
		plugins: newRoster(asPlugins(plugins)),
		seen:    request.NewSet(),
		logger:  scan.Logger.WithField("phase", core.PhaseDiscovery),
	}
}

// Run walks toWalk and every request found from it until no new request shows up
// The returned set holds only requests that were not known before; it is partial when the
// run was stopped. A non-nil error is always fatal.
func (d *DiscoveryRunner) Run(toWalk []*request.FuzzableRequest) (*request.Set, error) {
	ctx := d.scan.Context()
	result := request.NewSet()

	d.mu.Lock()
	if d.startTime.IsZero() {
		d.startTime = time.Now()
	}
	d.mu.Unlock()

	walk := make([]*request.FuzzableRequest, 0, len(toWalk))
	for _, fr := range toWalk {
		fr = fr.WithoutFragment()
		d.seen.Add(fr)
		walk = append(walk, fr)
	}

	for len(walk) > 0 {
		d.record(walk)

		if d.Iterations() >= d.scan.Config.MaxDiscoveryLoops {
			d.logger.WithField("limit", d.scan.Config.MaxDiscoveryLoops).Info("Maximum discovery loops reached")
			return result, nil
		}
		d.mu.Lock()
		d.iterations++
		d.mu.Unlock()

		active := d.plugins.Active()
		if len(active) == 0 {
			break
		}
		d.scan.Progress.SetTotalAmount(len(active) * len(walk))

		found, stopped, err := d.pass(ctx, active, walk)
		walk = d.filter(found, result)
		if err != nil {
			return result, err
		}
		if stopped {
			return result, nil
		}
	}

	if len(walk) == 0 {
		d.record(nil)
	}
	return result, nil
}

// pass runs every active plugin over every request of the worklist
func (d *DiscoveryRunner) pass(ctx context.Context, active []interfaces.Plugin, walk []*request.FuzzableRequest) (found []*request.FuzzableRequest, stopped bool, err error) {
	for _, plugin := range active {
		for _, fr := range walk {
			if d.shouldStop(ctx) {
				return found, true, nil
			}
			if !d.plugins.IsActive(plugin) {
				break
			}

			result := invoke(ctx, d.scan, core.PhaseDiscovery, plugin, fr, nil)
			d.scan.Progress.Inc()
			if err := d.scan.HandleResult(result); err != nil {
				return found, true, err
			}

			for _, child := range result.Found {
				if child == nil {
					continue
				}
				child = child.Clone()
				if child.DiscoveredBy == "" {
					child.DiscoveredBy = plugin.Name()
				}
				child.Depth = fr.Depth + 1
				found = append(found, child)
			}

			if result.Outcome == core.OutcomeStop && d.plugins.Retire(plugin) {
				d.logger.WithField("plugin", plugin.Name()).Debug("Plugin asked to run once, removing it")
				d.plugins.End(d.scan, core.PhaseDiscovery, plugin)
				break
			}
		}
	}
	return found, false, nil
}

// filter keeps new in-scope requests, adds them to result and returns them
func (d *DiscoveryRunner) filter(found []*request.FuzzableRequest, result *request.Set) []*request.FuzzableRequest {
	var fresh []*request.FuzzableRequest
	for _, fr := range found {
		fr = fr.WithoutFragment()
		if !d.scope.ContainsRequest(fr) {
			d.logger.WithField("url", fr.URLString()).Debug("Ignoring out of scope request")
			continue
		}
		if fr.Depth > d.scan.Config.MaxDepth {
			d.logger.WithField("url", fr.URLString()).Debug("Avoiding discovery loop, maximum depth reached")
			continue
		}
		if !d.seen.Add(fr) {
			continue
		}
		result.Add(fr)
		fresh = append(fresh, fr)
		d.logger.WithFields(logrus.Fields{
			"url":    fr.URLString(),
			"method": fr.Method,
			"plugin": fr.DiscoveredBy,
		}).Info("New URL found")
	}
	if len(fresh) > 0 {
		d.scan.AddRequests(fresh)
		d.scan.PublishInventory()
	}
	return fresh
}

// shouldStop blocks while paused and reports stop or time limit
func (d *DiscoveryRunner) shouldStop(ctx context.Context) bool {
	if d.scan.Status.WaitIfPaused(ctx) {
		return true
	}
	d.mu.Lock()
	elapsed := time.Since(d.startTime)
	d.mu.Unlock()
	if elapsed > d.scan.Config.MaxDiscoveryTime {
		d.timeNotice.Do(func() {
			d.logger.WithField("limit", d.scan.Config.MaxDiscoveryTime).
				Info("Maximum discovery time reached, continuing with the requests found so far")
		})
		return true
	}
	return false
}

func (d *DiscoveryRunner) record(walk []*request.FuzzableRequest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, append([]*request.FuzzableRequest{}, walk...))
}

// Iterations returns how many outer passes ran across all runs
func (d *DiscoveryRunner) Iterations() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.iterations
}

// WalkHistory returns the worklist of every pass followed by the final empty one
func (d *DiscoveryRunner) WalkHistory() [][]*request.FuzzableRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]*request.FuzzableRequest, len(d.history))
	copy(out, d.history)
	return out
}

// ActivePlugins returns the plugins that were not retired
func (d *DiscoveryRunner) ActivePlugins() []interfaces.Plugin {
	return d.plugins.Active()
}

// End calls End on every discovery plugin not ended yet and drops the references
func (d *DiscoveryRunner) End() {
	d.plugins.EndAll(d.scan, core.PhaseDiscovery)
	d.plugins.Clear()
}
