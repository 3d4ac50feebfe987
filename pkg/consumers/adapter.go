/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: adapter.go
Description: Plugin invocation adapter for the Akaylee Scanner. Every call into plugin code goes
through here: the adapter picks the phase entry point, records status, opens a trace span and
turns returned errors, panics and the run-once signal into a PluginResult. Nothing raised by a
plugin escapes to the caller.
*/

package consumers

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/kleascm/akaylee-scanner/pkg/core"
	"github.com/kleascm/akaylee-scanner/pkg/interfaces"
	"github.com/kleascm/akaylee-scanner/pkg/request"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrMalformedRequest is recorded when a plugin returns requests without a URL
var ErrMalformedRequest = errors.New("plugin returned malformed requests")

// invoke runs one plugin against one item and never panics
func invoke(ctx context.Context, scan *core.ScanContext, phase core.Phase, plugin interfaces.Plugin,
	fr *request.FuzzableRequest, resp *interfaces.Response) *core.PluginResult {

	result := &core.PluginResult{
		Phase:    phase,
		Plugin:   plugin.Name(),
		Request:  fr,
		Response: resp,
	}

	attrs := []attribute.KeyValue{
		attribute.String("plugin", result.Plugin),
		attribute.String("phase", string(phase)),
	}
	if fr != nil {
		attrs = append(attrs, attribute.String("url", fr.URLString()), attribute.String("method", fr.Method))
	}
	ctx, span := scan.Tracer.Start(ctx, "plugin."+string(phase), trace.WithAttributes(attrs...))
	defer span.End()

	scan.Stats.IncrementInvocations()
	scan.Status.SetRunningPlugin(phase, result.Plugin)
	scan.Status.SetCurrentRequest(phase, fr)

	start := time.Now()
	stack, err := protect(func() error {
		var err error
		switch phase {
		case core.PhaseDiscovery:
			p, ok := plugin.(interfaces.DiscoveryPlugin)
			if !ok {
				return fmt.Errorf("plugin %s is not a discovery plugin", result.Plugin)
			}
			result.Found, err = p.Discover(ctx, fr)
		case core.PhaseBruteforce:
			p, ok := plugin.(interfaces.BruteforcePlugin)
			if !ok {
				return fmt.Errorf("plugin %s is not a bruteforce plugin", result.Plugin)
			}
			result.Found, err = p.Bruteforce(ctx, fr)
		case core.PhaseAudit:
			p, ok := plugin.(interfaces.AuditPlugin)
			if !ok {
				return fmt.Errorf("plugin %s is not an audit plugin", result.Plugin)
			}
			err = p.Audit(ctx, fr)
		case core.PhaseGrep:
			p, ok := plugin.(interfaces.GrepPlugin)
			if !ok {
				return fmt.Errorf("plugin %s is not a grep plugin", result.Plugin)
			}
			err = p.Grep(ctx, fr, resp)
		default:
			return fmt.Errorf("phase %q has no plugin entry point", phase)
		}
		return err
	})
	result.Duration = time.Since(start)

	switch {
	case err == nil:
	case errors.Is(err, interfaces.ErrRunOnce):
		result.Outcome = core.OutcomeStop
		span.AddEvent("run_once")
	default:
		result.Err = err
		result.Stack = stack
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	// Drop returned requests the engine cannot key or scope
	if dropped := sanitize(result); dropped > 0 && result.Err == nil {
		result.Err = fmt.Errorf("%w: dropped %d of %d", ErrMalformedRequest, dropped, dropped+len(result.Found))
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	}
	span.SetAttributes(attribute.Int("found", len(result.Found)))
	return result
}

// sanitize removes nil and URL-less requests from result.Found and returns how many it removed
func sanitize(result *core.PluginResult) int {
	if len(result.Found) == 0 {
		return 0
	}
	valid := make([]*request.FuzzableRequest, 0, len(result.Found))
	for _, fr := range result.Found {
		if fr == nil || fr.URL == nil {
			continue
		}
		valid = append(valid, fr)
	}
	dropped := len(result.Found) - len(valid)
	result.Found = valid
	return dropped
}

// protect calls fn, converting a panic into an error
// The stack is captured whenever fn fails
func protect(fn func() error) (stack []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("plugin panicked: %w", e)
			} else {
				err = fmt.Errorf("plugin panicked: %v", r)
			}
			stack = debug.Stack()
		}
	}()
	err = fn()
	if err != nil && !errors.Is(err, interfaces.ErrRunOnce) {
		stack = debug.Stack()
	}
	return stack, err
}

// endPlugin calls End on a plugin; failures are logged and never propagated
func endPlugin(scan *core.ScanContext, phase core.Phase, plugin interfaces.Plugin) {
	_, err := protect(plugin.End)
	if err != nil {
		scan.Logger.WithFields(logrus.Fields{
			"plugin": plugin.Name(),
			"phase":  phase,
		}).WithError(err).Warn("Plugin end() failed")
	}
}
