/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: scan.go
Description: Scan command implementation for the Akaylee Scanner. Builds the HTTP client,
plugins, reporters and telemetry from the configuration, runs the scan strategy with signal
handling and prints the findings and summary once the scan ends.
*/

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kleascm/akaylee-scanner/pkg/core"
	"github.com/kleascm/akaylee-scanner/pkg/httpclient"
	"github.com/kleascm/akaylee-scanner/pkg/interfaces"
	"github.com/kleascm/akaylee-scanner/pkg/logging"
	"github.com/kleascm/akaylee-scanner/pkg/monitoring"
	"github.com/kleascm/akaylee-scanner/pkg/plugins"
	"github.com/kleascm/akaylee-scanner/pkg/strategy"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RunScan executes a scan of the configured targets
func RunScan(cmd *cobra.Command, args []string) error {
	fmt.Println("🚀 Akaylee Scanner - Starting Scan")
	fmt.Println("==================================")
	fmt.Println()

	if err := LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Positional arguments are targets too
	if len(args) > 0 {
		viper.Set("targets", append(viper.GetStringSlice("targets"), args...))
	}

	config := createScanConfig()
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if viper.GetBool("dry_run") {
		return performDryRun(config)
	}

	logger, err := SetupLogging()
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logger.Close()

	return runScan(config, logger)
}

// runScan wires the scan components and blocks until the scan ends
func runScan(config *core.ScanConfig, logger *logging.Logger) error {
	log := logger.GetLogger()

	clientConfig, err := createClientConfig()
	if err != nil {
		return fmt.Errorf("invalid HTTP configuration: %w", err)
	}
	client, err := httpclient.New(clientConfig, log)
	if err != nil {
		return fmt.Errorf("failed to create HTTP client: %w", err)
	}

	kb := core.NewKnowledgeBase()
	options := []core.ContextOption{
		core.WithLogger(log),
		core.WithKnowledgeBase(kb),
		core.WithReporter(core.NewLoggerReporter(log)),
	}

	var metrics *monitoring.PrometheusReporter
	if addr := viper.GetString("metrics.addr"); addr != "" {
		metrics, err = monitoring.NewPrometheusReporter(log)
		if err != nil {
			return fmt.Errorf("failed to create metrics reporter: %w", err)
		}
		if err := metrics.Serve(addr); err != nil {
			return err
		}
		defer metrics.Close()
		options = append(options, core.WithReporter(metrics))
	}

	if endpoint := viper.GetString("otel.endpoint"); endpoint != "" {
		tracing, err := monitoring.SetupTracing(context.Background(), monitoring.TracingOptions{
			Endpoint: endpoint,
			Insecure: viper.GetBool("otel.insecure"),
		})
		if err != nil {
			return fmt.Errorf("failed to setup tracing: %w", err)
		}
		defer func() {
			if err := tracing.Shutdown(); err != nil {
				log.WithError(err).Warn("Failed to flush traces")
			}
		}()
		options = append(options, core.WithTracer(tracing.Tracer(core.TracerName)))
	}

	scan := core.NewScanContext(config, client, options...)
	if metrics != nil {
		if err := metrics.Bind(scan); err != nil {
			return err
		}
	}

	pluginOptions := createPluginOptions()
	pluginOptions.Client = client
	pluginOptions.KB = kb
	pluginOptions.Logger = log
	enabled, err := plugins.Build(config.Plugins, pluginOptions)
	if err != nil {
		return fmt.Errorf("failed to create plugins: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if limit := viper.GetUint64("memory.hard_limit"); limit > 0 {
		watchdog := monitoring.NewMemoryWatchdog(&monitoring.MemoryConfig{
			HardLimit: limit,
			SoftLimit: limit / 10 * 8,
		}, scan, log)
		if err := watchdog.Start(ctx); err != nil {
			return err
		}
		defer watchdog.Stop()
	}

	var profiler *monitoring.Profiler
	if dir := viper.GetString("profile_dir"); dir != "" {
		profiler = monitoring.NewProfiler(dir, log)
		if err := profiler.Start(); err != nil {
			return err
		}
	}

	s := strategy.New(scan, enabled)
	stopSignals := handleSignals(ctx, s, log)
	defer stopSignals()

	started := time.Now()
	logger.LogScanStart(scan.Errors.ScanID(), config.Targets, selectionMap(config.Plugins))
	scanErr := s.Start()

	var profiles []monitoring.ProfileResult
	if profiler != nil {
		if profiles, err = profiler.Stop(); err != nil {
			log.WithError(err).Warn("Failed to write profiles")
		}
	}

	findings := collectFindings(kb)
	for _, f := range findings {
		logger.LogFinding(f.Plugin, f.Name, f.Severity, f.URL, f.Param)
	}
	stats := scan.Stats.Snapshot()
	logger.LogScanSummary(scan.Errors.ScanID(), time.Since(started), int64(scan.Registry.Len()),
		stats.PluginInvocations, stats.PluginErrors, len(findings))

	if path := viper.GetString("report"); path != "" {
		report := buildReport(scan, started, scanErr)
		report.Profiles = profiles
		if err := writeReport(path, report); err != nil {
			log.WithError(err).Error("Failed to write scan report")
		} else {
			fmt.Printf("📄 Report written to %s\n", path)
		}
	}

	printSummary(scan, findings, time.Since(started))

	if scanErr != nil {
		return fmt.Errorf("scan aborted: %w", scanErr)
	}
	return nil
}

// handleSignals stops the scan on the first interrupt and quits on the second
// SIGTERM quits immediately. The returned function unregisters the handler.
func handleSignals(ctx context.Context, s *strategy.ScanStrategy, log *logrus.Logger) func() {
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		interrupts := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case sig := <-sigChan:
				interrupts++
				if sig == syscall.SIGTERM || interrupts > 1 {
					fmt.Println("\n🛑 Aborting scan, cancelling in-flight work...")
					log.WithField("signal", sig.String()).Warn("Quitting scan")
					s.Quit()
					continue
				}
				fmt.Println("\n🛑 Stopping scan, press Ctrl+C again to abort...")
				log.WithField("signal", sig.String()).Info("Stopping scan")
				s.Stop()
			}
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

// performDryRun prints the effective configuration without scanning
func performDryRun(config *core.ScanConfig) error {
	fmt.Println("🔎 Dry run: configuration is valid")
	fmt.Printf("   Targets:            %v\n", config.Targets)
	fmt.Printf("   Discovery plugins:  %v\n", config.Plugins.Discovery)
	fmt.Printf("   Bruteforce plugins: %v\n", config.Plugins.Bruteforce)
	fmt.Printf("   Audit plugins:      %v\n", config.Plugins.Audit)
	fmt.Printf("   Auth plugins:       %v\n", config.Plugins.Auth)
	fmt.Printf("   Grep plugins:       %v\n", config.Plugins.Grep)
	fmt.Printf("   Max discovery:      %s / %d loops / depth %d\n",
		config.MaxDiscoveryTime, config.MaxDiscoveryLoops, config.MaxDepth)
	fmt.Printf("   Workers:            audit %d, grep %d\n", config.AuditWorkers, config.GrepWorkers)
	return nil
}

// printSummary prints the final scan statistics
func printSummary(scan *core.ScanContext, findings []interfaces.Finding, elapsed time.Duration) {
	stats := scan.Stats.Snapshot()

	fmt.Println()
	fmt.Println("📊 Scan Summary")
	fmt.Println("===============")
	fmt.Printf("Scan ID:            %s\n", scan.Errors.ScanID())
	fmt.Printf("Duration:           %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("Fuzzable requests:  %d\n", scan.Registry.Len())
	fmt.Printf("Plugin invocations: %d\n", stats.PluginInvocations)
	fmt.Printf("Plugin errors:      %d\n", stats.PluginErrors)
	fmt.Printf("Findings:           %d\n", len(findings))

	for _, f := range findings {
		target := f.URL
		if f.Param != "" {
			target += " [" + f.Param + "]"
		}
		fmt.Printf("  • %-8s %s: %s\n", f.Severity, f.Name, target)
	}
	if report := scan.Errors.SummaryString(); report != "" {
		fmt.Println()
		fmt.Println(report)
	}
	fmt.Println()
	fmt.Println("✨ Scan completed!")
}
