/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: main.go
Description: Main command-line interface for the Akaylee Scanner. Wires cobra commands and
flags to viper keys so every option can come from flags, a config file or AKAYLEE_*
environment variables.
*/

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/kleascm/akaylee-scanner/cmd/scanner/commands"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "akaylee-scanner",
		Short: "Akaylee Scanner - concurrent web application scan engine",
		Long: `Akaylee Scanner crawls a web application from its seed URLs, bruteforces the
credentials it finds, audits every discovered injection point and greps every response,
running each plugin phase in its own pool of workers.`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global configuration and logging flags
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Configuration file path (yaml, json or toml)")
	flags.String("log-level", "info", "Logging level (trace, debug, info, warn, error)")
	flags.String("log-format", "custom", "Log format (text, json, custom)")
	flags.String("log-dir", "./logs", "Log output directory, empty disables the log file")
	flags.Int("log-max-files", 10, "Maximum number of log files to keep")
	flags.Int64("log-max-size", 100*1024*1024, "Maximum log file size in bytes")
	flags.Bool("log-compress", false, "Compress rotated log files")
	flags.Bool("log-caller", false, "Include the caller in log lines")
	flags.Bool("no-color", false, "Disable colored console output")
	flags.String("syslog", "", "Also send logs to this syslog address (udp)")

	viper.BindPFlag("config", flags.Lookup("config"))
	viper.BindPFlag("log.level", flags.Lookup("log-level"))
	viper.BindPFlag("log.format", flags.Lookup("log-format"))
	viper.BindPFlag("log.dir", flags.Lookup("log-dir"))
	viper.BindPFlag("log.max_files", flags.Lookup("log-max-files"))
	viper.BindPFlag("log.max_size", flags.Lookup("log-max-size"))
	viper.BindPFlag("log.compress", flags.Lookup("log-compress"))
	viper.BindPFlag("log.caller", flags.Lookup("log-caller"))
	viper.BindPFlag("log.no_color", flags.Lookup("no-color"))
	viper.BindPFlag("log.syslog", flags.Lookup("syslog"))

	rootCmd.AddCommand(newScanCommand())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "list-plugins",
		Short: "List the built-in plugins of every phase",
		Long: `List every plugin the scanner can load, grouped by phase, with a short
description. Plugin names are what the --discovery, --audit, ... flags accept.`,
		Run: commands.ListPlugins,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and reach the targets",
		Long: `Validate the scan configuration and plugin selection, make sure the log directory
is writable and send one request to every target. Useful before long scans and in CI.`,
		RunE: commands.PerformSelfCheck,
	})

	rootCmd.AddCommand(newLogsCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newScanCommand builds the scan command and its flags
func newScanCommand() *cobra.Command {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan one or more web application targets",
		Long: `Seed the scan with the target URLs, run discovery and bruteforce until no new
requests are found, then audit every fuzzable request. Press Ctrl+C once to stop
gracefully and twice to abort in-flight work.`,
		RunE: commands.RunScan,
	}

	f := scanCmd.Flags()

	// Targets and plugins
	f.StringSlice("target", nil, "Target URL, repeatable; also defines the scan scope")
	f.StringSlice("discovery", []string{"web_spider"}, "Discovery plugins")
	f.StringSlice("bruteforce", nil, "Bruteforce plugins")
	f.StringSlice("audit", []string{"reflected_xss"}, "Audit plugins")
	f.StringSlice("auth", nil, "Auth plugins")
	f.StringSlice("grep", []string{"error_pages"}, "Grep plugins")

	// Engine limits
	f.Duration("max-discovery-time", 2*time.Hour, "Wall clock limit for discovery")
	f.Int("max-discovery-loops", 500, "Maximum discovery iterations")
	f.Int("max-depth", 25, "Maximum discovery depth")
	f.Int("audit-workers", 10, "Audit worker pool size")
	f.Int("grep-workers", 10, "Grep worker pool size")
	f.Duration("auth-timeout", 5*time.Second, "Interval between session checks")
	f.Int("max-exceptions", 5, "Exceptions recorded per plugin and phase")
	f.Bool("stop-on-first-exception", false, "Abort the scan on the first plugin error")

	// HTTP client
	f.Duration("http-timeout", 30*time.Second, "Per request timeout")
	f.Int("rate-limit", 0, "Requests per second, 0 disables limiting")
	f.String("user-agent", "akaylee-scanner/1.0", "User-Agent header")
	f.Int64("max-body-size", 2<<20, "Response body bytes kept per request")
	f.Bool("insecure", false, "Skip TLS certificate verification")
	f.StringSlice("header", nil, "Extra request header (Name: value), repeatable")

	// Plugin options
	f.StringSlice("users", nil, "Usernames for bruteforce plugins")
	f.StringSlice("passwords", nil, "Passwords for bruteforce plugins")
	f.String("login-url", "", "Form login URL for the form_login auth plugin")
	f.String("username", "", "Form login username")
	f.String("password", "", "Form login password")
	f.String("check-url", "", "URL whose body proves a logged in session")
	f.String("check-string", "", "Marker expected in the check URL body")
	f.Duration("browser-timeout", 30*time.Second, "Page load timeout of the headless spider")

	// Telemetry and output
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	f.String("otel-endpoint", "", "Export plugin spans to this OTLP/gRPC collector")
	f.Bool("otel-insecure", true, "Connect to the collector without TLS")
	f.Uint64("memory-limit", 0, "Abort the scan when the heap exceeds this many bytes")
	f.String("profile-dir", "", "Write CPU, heap and goroutine profiles into this directory")
	f.String("report", "", "Write a YAML scan report to this file")
	f.Bool("dry-run", false, "Validate the configuration and exit without scanning")

	for flag, key := range map[string]string{
		"target":                  "targets",
		"discovery":               "plugins.discovery",
		"bruteforce":              "plugins.bruteforce",
		"audit":                   "plugins.audit",
		"auth":                    "plugins.auth",
		"grep":                    "plugins.grep",
		"max-discovery-time":      "max_discovery_time",
		"max-discovery-loops":     "max_discovery_loops",
		"max-depth":               "max_depth",
		"audit-workers":           "audit_workers",
		"grep-workers":            "grep_workers",
		"auth-timeout":            "auth_timeout",
		"max-exceptions":          "max_exceptions_per_plugin",
		"stop-on-first-exception": "stop_on_first_exception",
		"http-timeout":            "http.timeout",
		"rate-limit":              "http.rate_limit",
		"user-agent":              "http.user_agent",
		"max-body-size":           "http.max_body_size",
		"insecure":                "http.insecure",
		"header":                  "http.headers",
		"users":                   "bruteforce.users",
		"passwords":               "bruteforce.passwords",
		"login-url":               "auth.login_url",
		"username":                "auth.username",
		"password":                "auth.password",
		"check-url":               "auth.check_url",
		"check-string":            "auth.check_string",
		"browser-timeout":         "discovery.browser_timeout",
		"metrics-addr":            "metrics.addr",
		"otel-endpoint":           "otel.endpoint",
		"otel-insecure":           "otel.insecure",
		"memory-limit":            "memory.hard_limit",
		"profile-dir":             "profile_dir",
		"report":                  "report",
		"dry-run":                 "dry_run",
	} {
		viper.BindPFlag(key, f.Lookup(flag))
	}
	return scanCmd
}

// newLogsCommand builds the log management commands
func newLogsCommand() *cobra.Command {
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Manage and analyze scan log files",
	}
	logsCmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show log file statistics",
			RunE:  commands.ShowLogStats,
		},
		&cobra.Command{
			Use:   "rotate",
			Short: "Rotate oversized log files and enforce retention",
			RunE:  commands.RotateLogs,
		},
		&cobra.Command{
			Use:   "analyze",
			Short: "Count scan events recorded in the log files",
			RunE:  commands.AnalyzeLogs,
		},
	)
	return logsCmd
}
