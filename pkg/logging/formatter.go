/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: formatter.go
Description: Custom log formatters for the Akaylee Scanner. CustomFormatter prints
timestamp, level, caller, message and sorted key=value fields; ScanFormatter adds a
phase tag so discovery, audit and auth lines can be told apart at a glance.
*/

package logging

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// CustomFormatter provides structured single line output
type CustomFormatter struct {
	Timestamp bool
	Caller    bool
	Colors    bool
}

// Format formats a log entry
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return f.format(entry, ""), nil
}

// format builds one line; tag is the optional bracketed prefix after the level
func (f *CustomFormatter) format(entry *logrus.Entry, tag string) []byte {
	var output strings.Builder

	// Add timestamp
	if f.Timestamp {
		timestamp := entry.Time.Format("2006-01-02 15:04:05.000")
		f.write(&output, 36, timestamp) // Cyan
	}

	// Add log level with color
	level := strings.ToUpper(entry.Level.String())
	f.write(&output, f.getLevelColor(entry.Level), level)

	// Add phase tag
	if tag != "" {
		f.write(&output, 35, "["+tag+"]") // Magenta
	}

	// Add caller information
	if f.Caller && entry.HasCaller() {
		f.write(&output, 33, fmt.Sprintf("[%s:%d]", entry.Caller.File, entry.Caller.Line)) // Yellow
	}

	// Add message
	output.WriteString(entry.Message)

	// Add structured fields
	if len(entry.Data) > 0 {
		output.WriteString(" ")
		output.WriteString(f.formatFields(entry.Data))
	}

	output.WriteString("\n")
	return []byte(output.String())
}

// write appends one colored or plain token followed by a space
func (f *CustomFormatter) write(b *strings.Builder, color int, s string) {
	if f.Colors {
		fmt.Fprintf(b, "\033[%dm%s\033[0m ", color, s)
		return
	}
	b.WriteString(s)
	b.WriteString(" ")
}

// getLevelColor returns the ANSI color code for a log level
func (f *CustomFormatter) getLevelColor(level logrus.Level) int {
	switch level {
	case logrus.TraceLevel, logrus.DebugLevel:
		return 37 // White
	case logrus.InfoLevel:
		return 32 // Green
	case logrus.WarnLevel:
		return 33 // Yellow
	case logrus.ErrorLevel:
		return 31 // Red
	case logrus.FatalLevel, logrus.PanicLevel:
		return 35 // Magenta
	default:
		return 37
	}
}

// formatFields formats structured fields sorted by key
func (f *CustomFormatter) formatFields(fields logrus.Fields) string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys) // Stable output

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		value := f.formatValue(key, fields[key])
		if f.Colors {
			parts = append(parts, fmt.Sprintf("\033[34m%s\033[0m=\033[32m%s\033[0m", key, value)) // Blue key, Green value
		} else {
			parts = append(parts, fmt.Sprintf("%s=%s", key, value))
		}
	}
	return strings.Join(parts, " ")
}

// formatValue formats a field value appropriately
func (f *CustomFormatter) formatValue(key string, value interface{}) string {
	switch v := value.(type) {
	case time.Duration:
		return v.String()
	case time.Time:
		return v.Format("15:04:05.000")
	case error:
		return v.Error()
	case string:
		// URLs and ids are kept whole
		if key == "url" || key == "request" || key == "scan_id" || len(v) <= 80 {
			return v
		}
		return v[:80] + "..."
	case []byte:
		if len(v) > 20 {
			return fmt.Sprintf("[%d bytes]", len(v))
		}
		return fmt.Sprintf("%x", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// ScanFormatter tags lines with the scan phase or component they belong to
type ScanFormatter struct {
	CustomFormatter
}

// Format formats a log entry with its phase tag
func (f *ScanFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return f.format(entry, f.tag(entry)), nil
}

// tag picks the phase field, then the component field
func (f *ScanFormatter) tag(entry *logrus.Entry) string {
	for _, key := range []string{"phase", "component"} {
		if v, ok := entry.Data[key]; ok {
			if s := fmt.Sprint(v); s != "" {
				return strings.ToUpper(s)
			}
		}
	}
	switch {
	case strings.Contains(entry.Message, "Finding"):
		return "FINDING"
	case strings.Contains(entry.Message, "Scan"):
		return "SCAN"
	default:
		return ""
	}
}
