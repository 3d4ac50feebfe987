/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: utils.go
Description: Log file management for the Akaylee Scanner. Rotates and gzip-compresses large log
files, enforces the retention policy, reports log statistics and analyzes past scan logs for
scan level events such as new URLs, plugin exceptions and findings.
*/

package logging

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LogManager provides log management capabilities
type LogManager struct {
	logDir   string
	maxFiles int
	maxSize  int64
	compress bool
}

// NewLogManager creates a new log manager
func NewLogManager(logDir string, maxFiles int, maxSize int64, compress bool) *LogManager {
	return &LogManager{
		logDir:   logDir,
		maxFiles: maxFiles,
		maxSize:  maxSize,
		compress: compress,
	}
}

// RotateLogs rotates log files that exceed the size limit
// Returns the number of files rotated
func (lm *LogManager) RotateLogs() (int, error) {
	files, err := filepath.Glob(filepath.Join(lm.logDir, FilePrefix+"_*.log"))
	if err != nil {
		return 0, fmt.Errorf("failed to glob log files: %w", err)
	}

	rotated := 0
	for _, file := range files {
		ok, err := lm.rotateFile(file)
		if err != nil {
			return rotated, fmt.Errorf("failed to rotate file %s: %w", file, err)
		}
		if ok {
			rotated++
		}
	}
	return rotated, nil
}

// rotateFile renames a file over the limit, compressing it when enabled
func (lm *LogManager) rotateFile(path string) (bool, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if stat.Size() < lm.maxSize {
		return false, nil
	}

	// Create rotated filename
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	rotatedPath := fmt.Sprintf("%s.%s", path, timestamp)
	// Move current file to rotated name
	if err := os.Rename(path, rotatedPath); err != nil {
		return false, err
	}

	// Compress if enabled
	if lm.compress {
		if err := lm.compressFile(rotatedPath); err != nil {
			return false, err
		}
	}
	return true, nil
}

// compressFile gzips a log file and removes the original
func (lm *LogManager) compressFile(path string) error {
	// Open source file
	source, err := os.Open(path)
	if err != nil {
		return err
	}
	defer source.Close()

	// Create compressed file
	compressed, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer compressed.Close()

	// Create gzip writer and copy data
	gzipWriter := gzip.NewWriter(compressed)
	if _, err := io.Copy(gzipWriter, source); err != nil {
		gzipWriter.Close()
		return err
	}
	if err := gzipWriter.Close(); err != nil {
		return err
	}

	// Remove original file
	return os.Remove(path)
}

// CleanupOldLogs removes the oldest log files beyond the retention limit
// Returns the number of files removed
func (lm *LogManager) CleanupOldLogs() (int, error) {
	files, err := filepath.Glob(filepath.Join(lm.logDir, FilePrefix+"_*.log*"))
	if err != nil {
		return 0, fmt.Errorf("failed to glob log files: %w", err)
	}
	if len(files) <= lm.maxFiles {
		return 0, nil
	}

	// Sort files by modification time (oldest first)
	sort.Slice(files, func(i, j int) bool {
		statI, errI := os.Stat(files[i])
		statJ, errJ := os.Stat(files[j])
		if errI != nil || errJ != nil {
			return files[i] < files[j]
		}
		return statI.ModTime().Before(statJ.ModTime())
	})

	// Remove oldest files
	toRemove := files[:len(files)-lm.maxFiles]
	for _, file := range toRemove {
		if err := os.Remove(file); err != nil {
			return 0, fmt.Errorf("failed to remove file %s: %w", file, err)
		}
	}
	return len(toRemove), nil
}

// GetLogStats returns statistics about log files
func (lm *LogManager) GetLogStats() (*LogStats, error) {
	files, err := filepath.Glob(filepath.Join(lm.logDir, FilePrefix+"_*.log*"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob log files: %w", err)
	}

	stats := &LogStats{TotalFiles: len(files)}
	for _, file := range files {
		stat, err := os.Stat(file)
		if err != nil {
			continue
		}
		stats.TotalSize += stat.Size()
		if stats.OldestFile.IsZero() || stat.ModTime().Before(stats.OldestFile) {
			stats.OldestFile = stat.ModTime()
		}
		if stat.ModTime().After(stats.NewestFile) {
			stats.NewestFile = stat.ModTime()
		}
		if strings.HasSuffix(file, ".gz") {
			stats.CompressedFiles++
		} else {
			stats.UncompressedFiles++
		}
	}
	return stats, nil
}

// LogStats holds statistics about log files
type LogStats struct {
	TotalFiles        int       `json:"total_files"`
	TotalSize         int64     `json:"total_size"`
	CompressedFiles   int       `json:"compressed_files"`
	UncompressedFiles int       `json:"uncompressed_files"`
	OldestFile        time.Time `json:"oldest_file"`
	NewestFile        time.Time `json:"newest_file"`
}

// LogAnalyzer counts levels and scan events in plain text log files
type LogAnalyzer struct {
	logDir string
}

// NewLogAnalyzer creates a new log analyzer
func NewLogAnalyzer(logDir string) *LogAnalyzer {
	return &LogAnalyzer{logDir: logDir}
}

// AnalyzeLogs analyzes every uncompressed log file
func (la *LogAnalyzer) AnalyzeLogs() (*LogAnalysis, error) {
	files, err := filepath.Glob(filepath.Join(la.logDir, FilePrefix+"_*.log"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob log files: %w", err)
	}

	analysis := &LogAnalysis{
		StartTime: time.Now(),
		LogFiles:  len(files),
	}
	for _, file := range files {
		if err := la.analyzeFile(file, analysis); err != nil {
			return nil, fmt.Errorf("failed to analyze file %s: %w", file, err)
		}
	}
	return analysis, nil
}

// analyzeFile analyzes a single log file
func (la *LogAnalyzer) analyzeFile(path string, analysis *LogAnalysis) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	// Read file line by line
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		la.analyzeLine(scanner.Text(), analysis)
	}
	return scanner.Err()
}

// analyzeLine works for the custom and text formats; JSON lines carry the same words
func (la *LogAnalyzer) analyzeLine(line string, analysis *LogAnalysis) {
	analysis.TotalLines++

	// Count log levels
	switch {
	case strings.Contains(line, "DEBUG"), strings.Contains(line, "level=debug"):
		analysis.DebugCount++
	case strings.Contains(line, "INFO"), strings.Contains(line, "level=info"):
		analysis.InfoCount++
	case strings.Contains(line, "WARN"), strings.Contains(line, "level=warn"):
		analysis.WarningCount++
	case strings.Contains(line, "ERROR"), strings.Contains(line, "level=error"):
		analysis.ErrorCount++
	}

	// Count scan events
	switch {
	case strings.Contains(line, "New URL found"):
		analysis.URLCount++
	case strings.Contains(line, "An exception was found while running"):
		analysis.ExceptionCount++
	case strings.Contains(line, "Finding reported"):
		analysis.FindingCount++
	case strings.Contains(line, "Scan started"):
		analysis.ScanCount++
	case strings.Contains(line, "Scan aborted by fatal error"):
		analysis.AbortCount++
	}
}

// LogAnalysis holds the results of log analysis
type LogAnalysis struct {
	StartTime      time.Time `json:"start_time"`
	LogFiles       int       `json:"log_files"`
	TotalLines     int64     `json:"total_lines"`
	DebugCount     int64     `json:"debug_count"`
	InfoCount      int64     `json:"info_count"`
	WarningCount   int64     `json:"warning_count"`
	ErrorCount     int64     `json:"error_count"`
	ScanCount      int64     `json:"scan_count"`
	URLCount       int64     `json:"url_count"`
	ExceptionCount int64     `json:"exception_count"`
	FindingCount   int64     `json:"finding_count"`
	AbortCount     int64     `json:"abort_count"`
}

// GetLogSummary returns a summary of the log analysis
func (la *LogAnalysis) GetLogSummary() string {
	return fmt.Sprintf(
		"Log Analysis Summary:\n"+
			"  Files: %d\n"+
			"  Total Lines: %d\n"+
			"  Debug: %d\n"+
			"  Info: %d\n"+
			"  Warning: %d\n"+
			"  Error: %d\n"+
			"  Scans: %d\n"+
			"  URLs Found: %d\n"+
			"  Plugin Exceptions: %d\n"+
			"  Findings: %d\n"+
			"  Aborted Scans: %d",
		la.LogFiles, la.TotalLines, la.DebugCount, la.InfoCount,
		la.WarningCount, la.ErrorCount, la.ScanCount, la.URLCount,
		la.ExceptionCount, la.FindingCount, la.AbortCount,
	)
}
