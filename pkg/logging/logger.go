/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: logger.go
Description: Logging system for the Akaylee Scanner. Builds the logrus logger shared by every
scan component with timestamped log files, text/JSON/custom formats and an optional syslog
sink, plus helpers for the scan level events printed around a run.
*/

package logging

import (
	"fmt"
	"io"
	"log/syslog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// FilePrefix starts the name of every log file
const FilePrefix = "akaylee-scanner"

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelTrace   LogLevel = "trace"
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warn"
	LogLevelError   LogLevel = "error"
)

// LogFormat represents the logging format
type LogFormat string

const (
	LogFormatJSON   LogFormat = "json"
	LogFormatText   LogFormat = "text"
	LogFormatCustom LogFormat = "custom"
)

// LoggerConfig holds the configuration for the logger
type LoggerConfig struct {
	Level     LogLevel  `json:"level"`
	Format    LogFormat `json:"format"`
	OutputDir string    `json:"output_dir"` // Empty disables the log file
	MaxFiles  int       `json:"max_files"`
	MaxSize   int64     `json:"max_size"` // in bytes
	Timestamp bool      `json:"timestamp"`
	Caller    bool      `json:"caller"`
	Colors    bool      `json:"colors"`
	Compress  bool      `json:"compress"`

	SyslogEnabled bool   `json:"syslog_enabled"`
	SyslogNetwork string `json:"syslog_network"`
	SyslogAddress string `json:"syslog_address"`

	Console io.Writer `json:"-"` // Defaults to stdout
}

// DefaultLoggerConfig returns the configuration used by the CLI when nothing is set
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:     LogLevelInfo,
		Format:    LogFormatCustom,
		OutputDir: "./logs",
		MaxFiles:  10,
		MaxSize:   100 * 1024 * 1024, // 100MB
		Timestamp: true,
		Colors:    true,
	}
}

// Validate checks the LoggerConfig for invalid or missing values.
func (c *LoggerConfig) Validate() error {
	if c.OutputDir != "" {
		if c.MaxFiles <= 0 {
			return fmt.Errorf("max_files must be positive")
		}
		if c.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive")
		}
	}
	switch c.Format {
	case LogFormatJSON, LogFormatText, LogFormatCustom:
	default:
		return fmt.Errorf("unsupported log format: %s", c.Format)
	}
	if _, err := logrus.ParseLevel(string(c.Level)); err != nil {
		return fmt.Errorf("unsupported log level: %s", c.Level)
	}
	return nil
}

// Logger owns the logrus logger and its log file
type Logger struct {
	config     *LoggerConfig
	logger     *logrus.Logger
	fileHandle *os.File
	filePath   string
	startTime  time.Time
}

// NewLogger creates a new logger instance
func NewLogger(config *LoggerConfig) (*Logger, error) {
	if config == nil {
		config = DefaultLoggerConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	l := &Logger{
		config:    config,
		logger:    logrus.New(),
		startTime: time.Now(),
	}
	if err := l.setup(); err != nil {
		return nil, fmt.Errorf("failed to setup logger: %w", err)
	}
	return l, nil
}

// setup configures the logger with the given configuration
func (l *Logger) setup() error {
	level, err := logrus.ParseLevel(string(l.config.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.logger.SetLevel(level)
	l.logger.SetReportCaller(l.config.Caller)

	if err := l.setFormatter(); err != nil {
		return err
	}

	console := l.config.Console
	if console == nil {
		console = os.Stdout
	}
	writers := []io.Writer{console}

	if l.config.OutputDir != "" {
		file, err := l.openLogFile()
		if err != nil {
			return err
		}
		writers = append(writers, file)
	}

	if l.config.SyslogEnabled {
		writer, err := syslog.Dial(l.config.SyslogNetwork, l.config.SyslogAddress, syslog.LOG_INFO|syslog.LOG_USER, FilePrefix)
		if err != nil {
			return fmt.Errorf("failed to connect to syslog: %w", err)
		}
		writers = append(writers, writer)
	}

	l.logger.SetOutput(io.MultiWriter(writers...))

	if l.fileHandle != nil {
		l.logger.WithFields(logrus.Fields{
			"start_time": l.startTime.Format(time.RFC3339),
			"log_file":   l.filePath,
			"level":      l.config.Level,
			"format":     l.config.Format,
		}).Debug("Akaylee Scanner logging system initialized")
	}
	return nil
}

// setFormatter configures the log formatter
func (l *Logger) setFormatter() error {
	callerPrettyfier := func(f *runtime.Frame) (string, string) {
		return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
	}

	switch l.config.Format {
	case LogFormatJSON:
		l.logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: callerPrettyfier,
		})

	case LogFormatText:
		l.logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    l.config.Timestamp,
			TimestampFormat:  time.RFC3339,
			ForceColors:      l.config.Colors,
			DisableColors:    !l.config.Colors,
			CallerPrettyfier: callerPrettyfier,
		})

	case LogFormatCustom:
		l.logger.SetFormatter(&ScanFormatter{
			CustomFormatter: CustomFormatter{
				Timestamp: l.config.Timestamp,
				Caller:    l.config.Caller,
				Colors:    l.config.Colors,
			},
		})

	default:
		return fmt.Errorf("unsupported log format: %s", l.config.Format)
	}
	return nil
}

// openLogFile creates the timestamped log file of this run
func (l *Logger) openLogFile() (*os.File, error) {
	if err := os.MkdirAll(l.config.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05.000")
	path := filepath.Join(l.config.OutputDir, fmt.Sprintf("%s_%s.log", FilePrefix, timestamp))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	l.fileHandle = file
	l.filePath = path
	return file, nil
}

// cleanup removes the oldest log files beyond MaxFiles
func (l *Logger) cleanup() error {
	if l.config.OutputDir == "" {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(l.config.OutputDir, FilePrefix+"_*.log"))
	if err != nil {
		return err
	}
	if len(files) <= l.config.MaxFiles {
		return nil
	}

	sort.Slice(files, func(i, j int) bool {
		statI, errI := os.Stat(files[i])
		statJ, errJ := os.Stat(files[j])
		if errI != nil || errJ != nil {
			return files[i] < files[j]
		}
		return statI.ModTime().Before(statJ.ModTime())
	})

	for _, file := range files[:len(files)-l.config.MaxFiles] {
		if file == l.filePath {
			continue
		}
		if err := os.Remove(file); err != nil {
			return fmt.Errorf("failed to remove %s: %w", file, err)
		}
	}
	return nil
}

// Scan level events

// LogScanStart logs the targets and plugins of a scan
func (l *Logger) LogScanStart(scanID string, targets []string, plugins map[string][]string) {
	fields := logrus.Fields{
		"scan_id": scanID,
		"targets": targets,
	}
	for phase, names := range plugins {
		if len(names) > 0 {
			fields["plugins_"+phase] = names
		}
	}
	l.logger.WithFields(fields).Info("Scan started")
}

// LogFinding logs a vulnerability or informational finding
func (l *Logger) LogFinding(plugin, name, severity, url, param string) {
	entry := l.logger.WithFields(logrus.Fields{
		"plugin":   plugin,
		"finding":  name,
		"severity": severity,
		"url":      url,
	})
	if param != "" {
		entry = entry.WithField("param", param)
	}
	if severity == "info" {
		entry.Info("Finding reported")
		return
	}
	entry.Warn("Finding reported")
}

// LogScanSummary logs the totals of a finished scan
func (l *Logger) LogScanSummary(scanID string, duration time.Duration, requests, invocations, pluginErrors int64, findings int) {
	l.logger.WithFields(logrus.Fields{
		"scan_id":     scanID,
		"duration":    duration.Round(time.Millisecond),
		"requests":    requests,
		"invocations": invocations,
		"errors":      pluginErrors,
		"findings":    findings,
		"uptime":      time.Since(l.startTime).Round(time.Millisecond),
	}).Info("Scan summary")
}

// Close closes the log file and removes surplus files
func (l *Logger) Close() error {
	if l.fileHandle != nil {
		l.fileHandle.Close()
	}
	if err := l.cleanup(); err != nil {
		return fmt.Errorf("failed to cleanup log files: %w", err)
	}
	return nil
}

// GetLogger returns the underlying logrus logger
func (l *Logger) GetLogger() *logrus.Logger {
	return l.logger
}

// FilePath returns the log file of this run, empty when file logging is disabled
func (l *Logger) FilePath() string {
	return l.filePath
}
