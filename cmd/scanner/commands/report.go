/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: report.go
Description: YAML scan report for the Akaylee Scanner. Collects the request inventory, the
findings and credentials stored in the knowledge base, the scan counters and the exception
records into one document written at the end of a scan.
*/

package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kleascm/akaylee-scanner/pkg/core"
	"github.com/kleascm/akaylee-scanner/pkg/interfaces"
	"github.com/kleascm/akaylee-scanner/pkg/monitoring"
	"gopkg.in/yaml.v3"
)

// ScanReport is the document written by --report
type ScanReport struct {
	ScanID      string                     `yaml:"scan_id"`
	Targets     []string                   `yaml:"targets"`
	StartedAt   time.Time                  `yaml:"started_at"`
	Duration    string                     `yaml:"duration"`
	Status      string                     `yaml:"status"`
	Error       string                     `yaml:"error,omitempty"`
	Plugins     core.PluginSelection       `yaml:"plugins"`
	Stats       ReportStats                `yaml:"stats"`
	URLs        []string                   `yaml:"urls"`
	Requests    []ReportRequest            `yaml:"fuzzable_requests"`
	Findings    []interfaces.Finding       `yaml:"findings"`
	Credentials []interfaces.Credential    `yaml:"credentials,omitempty"`
	Exceptions  []core.ExceptionRecord     `yaml:"exceptions,omitempty"`
	Profiles    []monitoring.ProfileResult `yaml:"profiles,omitempty"`
}

// ReportStats holds the scan counters
type ReportStats struct {
	Requests          int   `yaml:"requests"`
	PluginInvocations int64 `yaml:"plugin_invocations"`
	PluginErrors      int64 `yaml:"plugin_errors"`
	ResultsDrained    int64 `yaml:"results_drained"`
	Logins            int64 `yaml:"logins"`
}

// ReportRequest is one fuzzable request of the inventory
type ReportRequest struct {
	Method       string   `yaml:"method"`
	URL          string   `yaml:"url"`
	Params       []string `yaml:"params,omitempty"`
	DiscoveredBy string   `yaml:"discovered_by,omitempty"`
	Depth        int      `yaml:"depth"`
}

// buildReport collects the outcome of a finished scan
func buildReport(scan *core.ScanContext, started time.Time, scanErr error) *ScanReport {
	stats := scan.Stats.Snapshot()
	report := &ScanReport{
		ScanID:    scan.Errors.ScanID(),
		Targets:   scan.Config.Targets,
		StartedAt: started,
		Duration:  time.Since(started).Round(time.Millisecond).String(),
		Status:    "completed",
		Plugins:   scan.Config.Plugins,
		Stats: ReportStats{
			Requests:          scan.Registry.Len(),
			PluginInvocations: stats.PluginInvocations,
			PluginErrors:      stats.PluginErrors,
			ResultsDrained:    stats.ResultsDrained,
			Logins:            stats.Logins,
		},
		URLs:        scan.Registry.URLs(),
		Findings:    collectFindings(scan.KB),
		Credentials: collectCredentials(scan.KB),
		Exceptions:  scan.Errors.Records(),
	}
	switch {
	case scanErr != nil:
		report.Status = "aborted"
		report.Error = scanErr.Error()
	case scan.Status.IsStopped():
		report.Status = "stopped"
	}

	for _, fr := range scan.Registry.List() {
		params := make([]string, 0, len(fr.Params))
		for name := range fr.Params {
			params = append(params, name)
		}
		sort.Strings(params)
		report.Requests = append(report.Requests, ReportRequest{
			Method:       fr.Method,
			URL:          fr.URLString(),
			Params:       params,
			DiscoveredBy: fr.DiscoveredBy,
			Depth:        fr.Depth,
		})
	}
	return report
}

// collectFindings gathers the findings of the vulns and info namespaces
// Vulnerabilities come first, each namespace ordered by plugin key
func collectFindings(kb interfaces.KnowledgeBase) []interfaces.Finding {
	var findings []interfaces.Finding
	for _, namespace := range []string{interfaces.NamespaceVulns, interfaces.NamespaceInformation} {
		for _, key := range keysOf(kb, namespace) {
			for _, v := range kb.GetData(namespace, key) {
				switch f := v.(type) {
				case interfaces.Finding:
					findings = append(findings, f)
				case *interfaces.Finding:
					findings = append(findings, *f)
				}
			}
		}
	}
	return findings
}

// collectCredentials gathers the credentials found by bruteforce plugins
func collectCredentials(kb interfaces.KnowledgeBase) []interfaces.Credential {
	var creds []interfaces.Credential
	for _, v := range kb.GetData(interfaces.NamespaceBasicAuth, interfaces.KeyAuth) {
		if c, ok := v.(interfaces.Credential); ok {
			creds = append(creds, c)
		}
	}
	return creds
}

func keysOf(kb interfaces.KnowledgeBase, namespace string) []string {
	if lister, ok := kb.(interface{ Keys(string) []string }); ok {
		return lister.Keys(namespace)
	}
	return nil
}

// writeReport writes the report as YAML, creating parent directories
func writeReport(path string, report *ScanReport) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	encoder := yaml.NewEncoder(file)
	encoder.SetIndent(2)
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return encoder.Close()
}
