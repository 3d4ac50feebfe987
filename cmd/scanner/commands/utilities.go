/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: utilities.go
Description: Utility commands for the Akaylee Scanner. Provides list-plugins and the
self-check that validates configuration, plugin selection, log directory and target
reachability before a scan.
*/

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/kleascm/akaylee-scanner/pkg/core"
	"github.com/kleascm/akaylee-scanner/pkg/httpclient"
	"github.com/kleascm/akaylee-scanner/pkg/plugins"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ListPlugins lists all built-in plugins grouped by phase
func ListPlugins(cmd *cobra.Command, args []string) {
	printPlugins(cmd.OutOrStdout())
}

func printPlugins(w io.Writer) {
	fmt.Fprintln(w, "🧩 Akaylee Scanner - Available Plugins")
	fmt.Fprintln(w, "======================================")

	var phase core.Phase
	for _, info := range plugins.List() {
		if info.Phase != phase {
			phase = info.Phase
			fmt.Fprintf(w, "\n%s:\n", phase)
		}
		fmt.Fprintf(w, "  %-16s %s\n", info.Name, info.Description)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "✨ Enable plugins with --discovery, --bruteforce, --audit, --auth and --grep")
}

// PerformSelfCheck validates everything a scan needs before it starts
func PerformSelfCheck(cmd *cobra.Command, args []string) error {
	fmt.Println("🔍 Akaylee Scanner - Self-Check")
	fmt.Println("==============================")
	fmt.Println()

	if err := LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	config := createScanConfig()
	results := runChecks(context.Background(), config)

	passed := 0
	for _, r := range results {
		if r.err != nil {
			fmt.Printf("🔍 %s... ❌ FAILED: %v\n", r.name, r.err)
			continue
		}
		fmt.Printf("🔍 %s... ✅ PASSED\n", r.name)
		passed++
	}

	fmt.Println()
	fmt.Printf("📊 Results: %d/%d checks passed\n", passed, len(results))
	if passed == len(results) {
		fmt.Println("✨ All checks passed! Ready to scan.")
		return nil
	}
	fmt.Println("⚠️  Some checks failed. Please address the issues before scanning.")
	return fmt.Errorf("%d/%d checks failed", len(results)-passed, len(results))
}

type checkResult struct {
	name string
	err  error
}

// runChecks runs every check in order; target reachability needs a valid configuration
func runChecks(ctx context.Context, config *core.ScanConfig) []checkResult {
	configErr := config.Validate()
	results := []checkResult{
		{"Configuration Validation", configErr},
		{"Plugin Selection", checkPluginSelection(config)},
		{"Log Directory", checkLogDirectory(viper.GetString("log.dir"))},
	}

	if configErr != nil {
		return append(results, checkResult{"Target Reachability", fmt.Errorf("skipped, configuration is invalid")})
	}
	for _, target := range config.Targets {
		results = append(results, checkResult{"Target " + target, checkTarget(ctx, target)})
	}
	return results
}

// checkPluginSelection builds the selected plugins against a throwaway client
func checkPluginSelection(config *core.ScanConfig) error {
	clientConfig, err := createClientConfig()
	if err != nil {
		return err
	}
	client, err := httpclient.New(clientConfig, quietLogger())
	if err != nil {
		return err
	}
	defer client.Stop()

	opts := createPluginOptions()
	opts.Client = client
	opts.Logger = quietLogger()
	built, err := plugins.Build(config.Plugins, opts)
	if err != nil {
		return err
	}
	for _, p := range built.Discovery {
		p.End()
	}
	return nil
}

// checkLogDirectory makes sure log files can be created
func checkLogDirectory(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create log directory: %w", err)
	}
	probe := filepath.Join(dir, ".akaylee_write_test")
	if err := os.WriteFile(probe, []byte("test"), 0644); err != nil {
		return fmt.Errorf("cannot write to log directory: %w", err)
	}
	return os.Remove(probe)
}

// checkTarget sends one GET to the target; any HTTP answer counts as reachable
func checkTarget(ctx context.Context, target string) error {
	clientConfig, err := createClientConfig()
	if err != nil {
		return err
	}
	if clientConfig.Timeout <= 0 || clientConfig.Timeout > 10*time.Second {
		clientConfig.Timeout = 10 * time.Second
	}
	client, err := httpclient.New(clientConfig, quietLogger())
	if err != nil {
		return err
	}
	defer client.Stop()

	resp, err := client.GET(ctx, target, false)
	if err != nil {
		return fmt.Errorf("unreachable: %w", err)
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("server error: status %d", resp.StatusCode)
	}
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
