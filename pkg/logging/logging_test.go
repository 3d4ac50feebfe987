/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: logging_test.go
Description: Tests for the logger, the scan formatter and log file management.
*/

package logging_test

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kleascm/akaylee-scanner/pkg/logging"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plainConfig(dir string, console io.Writer) *logging.LoggerConfig {
	return &logging.LoggerConfig{
		Level:     logging.LogLevelDebug,
		Format:    logging.LogFormatCustom,
		OutputDir: dir,
		MaxFiles:  2,
		MaxSize:   1024,
		Console:   console,
	}
}

func writeLog(t *testing.T, dir, name, content string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	mod := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mod, mod))
	return path
}

// TestLoggerConfigValidate tests invalid configurations are rejected
func TestLoggerConfigValidate(t *testing.T) {
	assert.NoError(t, logging.DefaultLoggerConfig().Validate())

	cfg := logging.DefaultLoggerConfig()
	cfg.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg = logging.DefaultLoggerConfig()
	cfg.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg = logging.DefaultLoggerConfig()
	cfg.MaxFiles = 0
	assert.Error(t, cfg.Validate())

	cfg.OutputDir = ""
	assert.NoError(t, cfg.Validate(), "retention only matters with a log file")
}

// TestLoggerWritesConsoleAndFile tests both sinks receive the scan events
func TestLoggerWritesConsoleAndFile(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer

	logger, err := logging.NewLogger(plainConfig(dir, &console))
	require.NoError(t, err)
	require.FileExists(t, logger.FilePath())
	assert.True(t, strings.HasPrefix(filepath.Base(logger.FilePath()), "akaylee-scanner_"))

	logger.LogScanStart("scan-1", []string{"http://a.test/"}, map[string][]string{"audit": {"reflected_xss"}, "grep": nil})
	logger.LogFinding("reflected_xss", "Reflected cross site scripting", "high", "http://a.test/search", "q")
	logger.LogScanSummary("scan-1", 2*time.Second, 12, 30, 1, 1)
	require.NoError(t, logger.Close())

	out := console.String()
	assert.Contains(t, out, "Scan started")
	assert.Contains(t, out, "plugins_audit=[reflected_xss]")
	assert.NotContains(t, out, "plugins_grep")
	assert.Contains(t, out, "WARNING [FINDING] Finding reported")
	assert.Contains(t, out, "param=q")
	assert.Contains(t, out, "requests=12")

	data, err := os.ReadFile(logger.FilePath())
	require.NoError(t, err)
	assert.Equal(t, out, string(data))
}

// TestLoggerJSONFormat tests the JSON formatter is selectable
func TestLoggerJSONFormat(t *testing.T) {
	var console bytes.Buffer
	cfg := plainConfig("", &console)
	cfg.Format = logging.LogFormatJSON

	logger, err := logging.NewLogger(cfg)
	require.NoError(t, err)
	assert.Empty(t, logger.FilePath())

	logger.GetLogger().WithField("phase", "audit").Info("hello")
	assert.Contains(t, console.String(), `"phase":"audit"`)
	assert.Contains(t, console.String(), `"msg":"hello"`)
	assert.NoError(t, logger.Close())
}

// TestLoggerCloseRemovesSurplusFiles tests retention keeps the newest files
func TestLoggerCloseRemovesSurplusFiles(t *testing.T) {
	dir := t.TempDir()
	oldest := writeLog(t, dir, "akaylee-scanner_2020-01-01_00-00-00.000.log", "old", 3*time.Hour)
	older := writeLog(t, dir, "akaylee-scanner_2020-01-02_00-00-00.000.log", "older", 2*time.Hour)

	logger, err := logging.NewLogger(plainConfig(dir, io.Discard))
	require.NoError(t, err)
	require.NoError(t, logger.Close())

	assert.NoFileExists(t, oldest)
	assert.FileExists(t, older)
	assert.FileExists(t, logger.FilePath())
}

// TestScanFormatter tests tags, sorted fields and truncation
func TestScanFormatter(t *testing.T) {
	f := &logging.ScanFormatter{}
	entry := &logrus.Entry{
		Logger:  logrus.New(),
		Level:   logrus.InfoLevel,
		Message: "Entering scan phase",
		Data: logrus.Fields{
			"phase":   "discovery",
			"url":     "http://a.test/" + strings.Repeat("x", 100),
			"note":    strings.Repeat("y", 100),
			"err":     errors.New("boom"),
			"elapsed": 1500 * time.Millisecond,
		},
	}
	out, err := f.Format(entry)
	require.NoError(t, err)
	line := string(out)

	assert.True(t, strings.HasPrefix(line, "INFO [DISCOVERY] Entering scan phase "))
	assert.Contains(t, line, "elapsed=1.5s err=boom note="+strings.Repeat("y", 80)+"... phase=discovery url=http://a.test/"+strings.Repeat("x", 100))
	assert.True(t, strings.HasSuffix(line, "\n"))

	entry.Data = logrus.Fields{"component": "strategy"}
	out, err = f.Format(entry)
	require.NoError(t, err)
	assert.Contains(t, string(out), "[STRATEGY]")

	entry.Data = logrus.Fields{}
	entry.Message = "plain"
	out, err = f.Format(entry)
	require.NoError(t, err)
	assert.Equal(t, "INFO plain\n", string(out))
}

// TestLogManagerRotateAndCleanup tests rotation, compression and retention
func TestLogManagerRotateAndCleanup(t *testing.T) {
	dir := t.TempDir()
	big := writeLog(t, dir, "akaylee-scanner_big.log", strings.Repeat("line\n", 100), time.Hour)
	writeLog(t, dir, "akaylee-scanner_small.log", "tiny", 2*time.Hour)
	writeLog(t, dir, "unrelated.log", strings.Repeat("z", 1000), time.Hour)

	manager := logging.NewLogManager(dir, 1, 100, true)
	rotated, err := manager.RotateLogs()
	require.NoError(t, err)
	assert.Equal(t, 1, rotated)
	assert.NoFileExists(t, big)

	archives, err := filepath.Glob(filepath.Join(dir, "akaylee-scanner_big.log.*.gz"))
	require.NoError(t, err)
	require.Len(t, archives, 1)

	file, err := os.Open(archives[0])
	require.NoError(t, err)
	reader, err := gzip.NewReader(file)
	require.NoError(t, err)
	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	file.Close()
	assert.Equal(t, strings.Repeat("line\n", 100), string(content))

	stats, err := manager.GetLogStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalFiles)
	assert.Equal(t, 1, stats.CompressedFiles)
	assert.Equal(t, 1, stats.UncompressedFiles)
	assert.True(t, stats.OldestFile.Before(stats.NewestFile))

	removed, err := manager.CleanupOldLogs()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, filepath.Join(dir, "akaylee-scanner_small.log"))
	assert.FileExists(t, filepath.Join(dir, "unrelated.log"))
}

// TestLogAnalyzer tests scan events are counted
func TestLogAnalyzer(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "akaylee-scanner_a.log", strings.Join([]string{
		"2026-01-01 10:00:00.000 INFO [SCAN] Scan started scan_id=1",
		"2026-01-01 10:00:01.000 INFO [DISCOVERY] New URL found url=http://a.test/x",
		"2026-01-01 10:00:01.500 INFO [DISCOVERY] New URL found url=http://a.test/y",
		`2026-01-01 10:00:02.000 INFO [AUDIT] An exception was found while running audit plugin "x": boom`,
		"2026-01-01 10:00:03.000 WARNING [FINDING] Finding reported plugin=reflected_xss",
		"2026-01-01 10:00:04.000 DEBUG detail",
	}, "\n")+"\n", time.Minute)
	writeLog(t, dir, "akaylee-scanner_b.log", `time="2026" level=error msg="Scan aborted by fatal error"`+"\n", time.Minute)

	analysis, err := logging.NewLogAnalyzer(dir).AnalyzeLogs()
	require.NoError(t, err)
	assert.Equal(t, 2, analysis.LogFiles)
	assert.Equal(t, int64(7), analysis.TotalLines)
	assert.Equal(t, int64(4), analysis.InfoCount)
	assert.Equal(t, int64(1), analysis.WarningCount)
	assert.Equal(t, int64(1), analysis.DebugCount)
	assert.Equal(t, int64(1), analysis.ErrorCount)
	assert.Equal(t, int64(2), analysis.URLCount)
	assert.Equal(t, int64(1), analysis.ExceptionCount)
	assert.Equal(t, int64(1), analysis.FindingCount)
	assert.Equal(t, int64(1), analysis.ScanCount)
	assert.Equal(t, int64(1), analysis.AbortCount)
	assert.Contains(t, analysis.GetLogSummary(), "URLs Found: 2")
}
