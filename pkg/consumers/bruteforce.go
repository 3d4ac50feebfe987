/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: bruteforce.go
Description: Bruteforce runner for the Akaylee Scanner. Runs the bruteforce plugins sequentially
over a set of requests and returns the union of the requests for which credentials were found.
Each plugin is ended after its pass; run-once plugins are removed for good.
*/

package consumers

import (
	"github.com/kleascm/akaylee-scanner/pkg/core"
	"github.com/kleascm/akaylee-scanner/pkg/interfaces"
	"github.com/kleascm/akaylee-scanner/pkg/request"
	"github.com/sirupsen/logrus"
)

// BruteforceRunner runs bruteforce plugins one request at a time
type BruteforceRunner struct {
	scan    *core.ScanContext
	plugins *roster
	logger  *logrus.Entry
}

// NewBruteforceRunner creates a bruteforce runner
func NewBruteforceRunner(scan *core.ScanContext, plugins []interfaces.BruteforcePlugin) *BruteforceRunner {
	return &BruteforceRunner{
		scan:    scan,
		plugins: newRoster(asPlugins(plugins)),
		logger:  scan.Logger.WithField("phase", core.PhaseBruteforce),
	}
}

// Run bruteforces every request with every active plugin
// The returned set is partial when the run was stopped. A non-nil error is always fatal.
func (b *BruteforceRunner) Run(requests []*request.FuzzableRequest) (*request.Set, error) {
	ctx := b.scan.Context()
	out := request.NewSet()

	active := b.plugins.Active()
	if len(active) == 0 || len(requests) == 0 {
		return out, nil
	}
	b.scan.Progress.SetTotalAmount(len(active) * len(requests))

	for _, plugin := range active {
		b.plugins.Reopen(plugin)
		for _, fr := range requests {
			if b.scan.Status.WaitIfPaused(ctx) {
				return out, nil
			}

			result := invoke(ctx, b.scan, core.PhaseBruteforce, plugin, fr, nil)
			b.scan.Progress.Inc()
			if err := b.scan.HandleResult(result); err != nil {
				return out, err
			}

			for _, found := range result.Found {
				if found == nil {
					continue
				}
				if out.Add(found) {
					b.logger.WithFields(logrus.Fields{
						"plugin": plugin.Name(),
						"url":    found.URLString(),
					}).Info("Credentials found")
				}
			}

			if result.Outcome == core.OutcomeStop {
				b.plugins.Retire(plugin)
				break
			}
		}
		b.plugins.End(b.scan, core.PhaseBruteforce, plugin)
	}
	return out, nil
}

// ActivePlugins returns the plugins that were not retired
func (b *BruteforceRunner) ActivePlugins() []interfaces.Plugin {
	return b.plugins.Active()
}

// HasPlugins reports whether any plugin is still active
func (b *BruteforceRunner) HasPlugins() bool {
	return len(b.plugins.Active()) > 0
}

// Clear drops the plugin references
func (b *BruteforceRunner) Clear() {
	b.plugins.Clear()
}

// End calls End on every plugin whose last pass did not finish, or that never ran,
// then drops the references
func (b *BruteforceRunner) End() {
	b.plugins.EndAll(b.scan, core.PhaseBruteforce)
	b.plugins.Clear()
}
