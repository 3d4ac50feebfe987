/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: reporter.go
Description: Reporter interface and implementations for Akaylee Scanner telemetry and live
reporting. Reporters are notified of new fuzzable requests, resolved plugin results and phase
changes. The logging reporter lives here; the Prometheus one lives in the monitoring package.
*/

package core

import (
	"github.com/kleascm/akaylee-scanner/pkg/request"
	"github.com/sirupsen/logrus"
)

// Reporter defines the interface for telemetry and reporting hooks.
// Allows the scanner to notify listeners of discovery, result and phase events.
type Reporter interface {
	// OnRequestAdded is called when a new fuzzable request enters the request registry.
	OnRequestAdded(fr *request.FuzzableRequest)
	// OnResult is called after a plugin result is resolved.
	OnResult(result *PluginResult)
	// OnPhase is called when the scan enters a new phase.
	OnPhase(phase Phase)
}

// LoggerReporter logs scan events using logrus.
type LoggerReporter struct {
	logger *logrus.Logger
}

// NewLoggerReporter creates a new LoggerReporter.
func NewLoggerReporter(logger *logrus.Logger) *LoggerReporter {
	return &LoggerReporter{logger: logger}
}

// OnRequestAdded logs a newly discovered request.
func (r *LoggerReporter) OnRequestAdded(fr *request.FuzzableRequest) {
	r.logger.WithFields(logrus.Fields{
		"url":           fr.URLString(),
		"method":        fr.Method,
		"depth":         fr.Depth,
		"discovered_by": fr.DiscoveredBy,
	}).Debug("New fuzzable request")
}

// OnResult logs plugin results that carry information.
func (r *LoggerReporter) OnResult(result *PluginResult) {
	fields := logrus.Fields{"plugin": result.Plugin, "phase": result.Phase}
	switch {
	case result.Failed():
		r.logger.WithFields(fields).WithError(result.Err).Debug("Plugin invocation failed")
	case result.Outcome == OutcomeStop:
		r.logger.WithFields(fields).Debug("Plugin asked to run once")
	case len(result.Found) > 0:
		r.logger.WithFields(fields).WithField("found", len(result.Found)).Debug("Plugin returned requests")
	}
}

// OnPhase logs phase transitions.
func (r *LoggerReporter) OnPhase(phase Phase) {
	r.logger.WithField("phase", phase).Info("Entering scan phase")
}
