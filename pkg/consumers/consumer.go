/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: consumer.go
Description: Generic plugin consumer for the Akaylee Scanner. A background loop pulls work items
from a bounded input queue, fans every (item, plugin) pair out to a worker pool and pushes the
resulting futures to a bounded output queue without waiting for them. A single finish sentinel
ends the loop, flushes the pool, ends the plugins and is forwarded downstream.
*/

package consumers

import (
	"context"
	"sync"

	"github.com/kleascm/akaylee-scanner/pkg/core"
	"github.com/kleascm/akaylee-scanner/pkg/interfaces"
	"github.com/sirupsen/logrus"
)

// ConsumerConfig sizes a PluginConsumer
type ConsumerConfig struct {
	Name          string        // Used in logs
	Phase         core.Phase    // Entry point used on every plugin
	Accepts       core.ItemKind // Item kind dispatched to plugins
	InputSize     int           // Input queue capacity
	OutputSize    int           // Output queue capacity
	Workers       int           // Pool size
	TrackProgress bool          // Inc the scan progress after each invocation
}

// PluginConsumer runs a fixed list of plugins over a stream of work items
type PluginConsumer struct {
	cfg     ConsumerConfig
	scan    *core.ScanContext
	in      *core.WorkQueue
	out     *core.WorkQueue
	pool    *Pool
	plugins *roster
	logger  *logrus.Entry

	// State management
	mu       sync.Mutex
	started  bool
	stopped  bool
	done     chan struct{}
	life     context.Context    // Cancelled once the loop is gone
	cancel   context.CancelFunc // Cancels life
	stopOnce sync.Once
}

// NewPluginConsumer creates a consumer; Start must be called to run it
func NewPluginConsumer(scan *core.ScanContext, plugins []interfaces.Plugin, cfg ConsumerConfig) *PluginConsumer {
	life, cancel := context.WithCancel(context.Background())
	return &PluginConsumer{
		cfg:     cfg,
		scan:    scan,
		in:      core.NewWorkQueue(cfg.InputSize),
		out:     core.NewWorkQueue(cfg.OutputSize),
		pool:    NewPool(cfg.Workers),
		plugins: newRoster(plugins),
		logger:  scan.Logger.WithFields(logrus.Fields{"consumer": cfg.Name, "phase": cfg.Phase}),
		done:    make(chan struct{}),
		life:    life,
		cancel:  cancel,
	}
}

// NewAuditConsumer creates the audit consumer
func NewAuditConsumer(scan *core.ScanContext, plugins []interfaces.AuditPlugin) *PluginConsumer {
	return NewPluginConsumer(scan, asPlugins(plugins), ConsumerConfig{
		Name:          "audit",
		Phase:         core.PhaseAudit,
		Accepts:       core.ItemRequest,
		InputSize:     scan.Config.AuditQueue,
		OutputSize:    scan.Config.AuditQueue,
		Workers:       scan.Config.AuditWorkers,
		TrackProgress: true,
	})
}

// Start launches the consumer loop; calling it again, or after Stop, does nothing
func (c *PluginConsumer) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.stopped {
		return
	}
	c.started = true
	c.logger.WithField("plugins", len(c.plugins.Active())).Debug("Starting consumer")
	go c.run(c.scan.Context())
}

// In returns the input queue
func (c *PluginConsumer) In() *core.WorkQueue {
	return c.in
}

// Out returns the output queue holding result futures and the final finish sentinel
func (c *PluginConsumer) Out() *core.WorkQueue {
	return c.out
}

// Done is closed when the consumer loop has terminated
func (c *PluginConsumer) Done() <-chan struct{} {
	return c.done
}

// ActivePlugins returns the plugins that are still being dispatched to
func (c *PluginConsumer) ActivePlugins() []interfaces.Plugin {
	return c.plugins.Active()
}

// Stop asks the consumer to finish and waits up to the grace period for it
// Safe to call many times and on a consumer that never started
func (c *PluginConsumer) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		started := c.started
		c.stopped = true
		c.mu.Unlock()

		if !started {
			c.plugins.EndAll(c.scan, c.cfg.Phase)
			c.out.TryPut(core.FinishItem())
			c.cancel()
			close(c.done)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.scan.Config.StopGracePeriod)
		defer cancel()
		if err := c.in.Put(ctx, core.FinishItem()); err != nil {
			c.logger.Debug("Input queue full, finish sentinel not queued")
		}
		select {
		case <-c.done:
		case <-ctx.Done():
			c.logger.Debug("Consumer still finishing after grace period")
		}
	})
}

func (c *PluginConsumer) run(ctx context.Context) {
	defer close(c.done)
	defer c.cancel()
	defer c.finish(ctx)

	for {
		item, err := c.in.Get(ctx)
		if err != nil {
			c.logger.Debug("Consumer cancelled")
			return
		}
		if item.IsFinish() {
			return
		}
		if item.Kind != c.cfg.Accepts {
			c.logger.WithField("kind", item.Kind).Debug("Ignoring unexpected work item")
			continue
		}
		c.dispatch(ctx, item)
	}
}

// dispatch submits the item to every active plugin and queues the futures in order
func (c *PluginConsumer) dispatch(ctx context.Context, item core.WorkItem) {
	for _, plugin := range c.plugins.Active() {
		plugin := plugin
		future, err := c.pool.Submit(ctx, func() *core.PluginResult {
			if !c.plugins.IsActive(plugin) {
				// retired while this task was queued
				return &core.PluginResult{Phase: c.cfg.Phase, Plugin: plugin.Name(), Request: item.Request, Outcome: core.OutcomeStop}
			}
			result := invoke(ctx, c.scan, c.cfg.Phase, plugin, item.Request, item.Response)
			if result.Outcome == core.OutcomeStop {
				c.retire(plugin)
			}
			if c.cfg.TrackProgress {
				c.scan.Progress.Inc()
			}
			return result
		})
		if err != nil {
			return
		}
		if err := c.out.Put(ctx, core.ResultItem(future)); err != nil {
			return
		}
	}
}

// retire removes a run-once plugin and ends it
func (c *PluginConsumer) retire(plugin interfaces.Plugin) {
	if c.plugins.Retire(plugin) {
		c.logger.WithField("plugin", plugin.Name()).Debug("Plugin asked to run once, removing it")
		c.plugins.End(c.scan, c.cfg.Phase, plugin)
	}
}

// finish flushes the pool, ends the plugins and forwards the sentinel
func (c *PluginConsumer) finish(ctx context.Context) {
	c.pool.Close()
	c.plugins.EndAll(c.scan, c.cfg.Phase)
	if c.out.TryPut(core.FinishItem()) {
		return
	}
	if err := c.out.Put(ctx, core.FinishItem()); err != nil {
		c.logger.Debug("Output queue abandoned before finish sentinel")
	}
}

// Drain resolves every future on the output queue in submission order until the finish sentinel
// Each result is reported and its error, if any, is handled with a snapshot built from that result.
// Returns a fatal error, or the context error when ctx ends first.
func (c *PluginConsumer) Drain(ctx context.Context, sink func(*core.PluginResult)) error {
	return drain(ctx, c.scan, c.out, sink)
}

func drain(ctx context.Context, scan *core.ScanContext, out *core.WorkQueue, sink func(*core.PluginResult)) error {
	for {
		item, err := out.Get(ctx)
		if err != nil {
			return err
		}
		switch item.Kind {
		case core.ItemFinish:
			return nil
		case core.ItemResult:
			result, err := item.Future.WaitContext(ctx)
			if err != nil {
				return err
			}
			scan.Stats.IncrementDrained()
			if err := scan.HandleResult(result); err != nil {
				return err
			}
			if sink != nil {
				sink(result)
			}
		}
	}
}
