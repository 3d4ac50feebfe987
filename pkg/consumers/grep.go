/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: grep.go
Description: Grep consumer for the Akaylee Scanner. Receives every request/response pair the
HTTP client completes and fans them out to the passive grep plugins.
*/

package consumers

import (
	"github.com/kleascm/akaylee-scanner/pkg/core"
	"github.com/kleascm/akaylee-scanner/pkg/interfaces"
	"github.com/kleascm/akaylee-scanner/pkg/request"
)

// GrepConsumer is a PluginConsumer fed by the HTTP client
type GrepConsumer struct {
	*PluginConsumer
}

// NewGrepConsumer creates the grep consumer
func NewGrepConsumer(scan *core.ScanContext, plugins []interfaces.GrepPlugin) *GrepConsumer {
	return &GrepConsumer{
		PluginConsumer: NewPluginConsumer(scan, asPlugins(plugins), ConsumerConfig{
			Name:       "grep",
			Phase:      core.PhaseGrep,
			Accepts:    core.ItemResponse,
			InputSize:  scan.Config.GrepQueue,
			OutputSize: scan.Config.GrepQueue,
			Workers:    scan.Config.GrepWorkers,
		}),
	}
}

// Observe queues a request/response pair, blocking while the grep queue is full
// Pairs arriving after the consumer is gone are dropped
func (g *GrepConsumer) Observe(fr *request.FuzzableRequest, resp *interfaces.Response) {
	if fr == nil || resp == nil {
		return
	}
	g.mu.Lock()
	stopped := g.stopped
	g.mu.Unlock()
	if stopped {
		return
	}
	if err := g.in.Put(g.life, core.ResponseItem(fr, resp)); err != nil {
		g.logger.WithField("url", fr.URLString()).Debug("Grep consumer gone, response not queued")
	}
}
