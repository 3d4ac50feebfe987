/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: logs.go
Description: Log management commands for the Akaylee Scanner. Shows log file statistics,
rotates and prunes log files and summarizes the scan events recorded in past logs.
*/

package commands

import (
	"fmt"
	"time"

	"github.com/kleascm/akaylee-scanner/pkg/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newLogManager() *logging.LogManager {
	return logging.NewLogManager(
		viper.GetString("log.dir"),
		viper.GetInt("log.max_files"),
		viper.GetInt64("log.max_size"),
		viper.GetBool("log.compress"),
	)
}

// ShowLogStats prints statistics about the log directory
func ShowLogStats(cmd *cobra.Command, args []string) error {
	if err := LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	stats, err := newLogManager().GetLogStats()
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "📁 Log directory: %s\n", viper.GetString("log.dir"))
	fmt.Fprintf(w, "   Files:        %d (%d compressed)\n", stats.TotalFiles, stats.CompressedFiles)
	fmt.Fprintf(w, "   Total size:   %.2f MB\n", float64(stats.TotalSize)/(1024*1024))
	if stats.TotalFiles > 0 {
		fmt.Fprintf(w, "   Oldest:       %s\n", stats.OldestFile.Format(time.RFC3339))
		fmt.Fprintf(w, "   Newest:       %s\n", stats.NewestFile.Format(time.RFC3339))
	}
	return nil
}

// RotateLogs rotates oversized log files and removes the ones beyond retention
func RotateLogs(cmd *cobra.Command, args []string) error {
	if err := LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	manager := newLogManager()
	rotated, err := manager.RotateLogs()
	if err != nil {
		return err
	}
	removed, err := manager.CleanupOldLogs()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "🔄 Rotated %d log files, removed %d old files\n", rotated, removed)
	return nil
}

// AnalyzeLogs summarizes the scan events found in the log files
func AnalyzeLogs(cmd *cobra.Command, args []string) error {
	if err := LoadConfig(); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	analysis, err := logging.NewLogAnalyzer(viper.GetString("log.dir")).AnalyzeLogs()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), analysis.GetLogSummary())
	return nil
}
