/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: error_pages.go
Description: Error page grep plugin. Passively matches every response against patterns of
database errors, stack traces and framework debug output and stores one informational finding
per URL and pattern.
*/

package plugins

import (
	"context"
	"regexp"
	"sync"

	"github.com/kleascm/akaylee-scanner/pkg/interfaces"
	"github.com/kleascm/akaylee-scanner/pkg/request"
	"github.com/sirupsen/logrus"
)

type errorPattern struct {
	name string
	re   *regexp.Regexp
}

var errorPatterns = []errorPattern{
	{"SQL syntax error", regexp.MustCompile(`(?i)you have an error in your sql syntax|sql syntax.*mysql|unclosed quotation mark`)},
	{"PostgreSQL error", regexp.MustCompile(`(?i)pg_query\(\)|postgresql.*error|syntax error at or near`)},
	{"Oracle error", regexp.MustCompile(`\bORA-\d{5}\b`)},
	{"Python traceback", regexp.MustCompile(`Traceback \(most recent call last\)`)},
	{"Java stack trace", regexp.MustCompile(`(?m)^\s*at [\w$.]+\([\w]+\.java:\d+\)`)},
	{"PHP error", regexp.MustCompile(`(?i)<b>(fatal error|warning|parse error)</b>:`)},
	{"ASP.NET error", regexp.MustCompile(`(?i)server error in '.*' application`)},
	{"Go panic", regexp.MustCompile(`goroutine \d+ \[running\]`)},
}

// ErrorPages greps responses for leaked error messages
type ErrorPages struct {
	kb     interfaces.KnowledgeBase
	logger *logrus.Logger

	mu   sync.Mutex
	seen map[string]bool // url pattern
}

// NewErrorPages creates the plugin
func NewErrorPages(kb interfaces.KnowledgeBase, logger *logrus.Logger) *ErrorPages {
	return &ErrorPages{kb: kb, logger: logger, seen: make(map[string]bool)}
}

func (e *ErrorPages) Name() string { return "error_pages" }

func (e *ErrorPages) Description() string {
	return "Flags responses that leak errors, stack traces or database messages"
}

// Grep checks resp against every pattern
func (e *ErrorPages) Grep(ctx context.Context, fr *request.FuzzableRequest, resp *interfaces.Response) error {
	if len(resp.Body) == 0 {
		return nil
	}
	for _, p := range errorPatterns {
		match := p.re.Find(resp.Body)
		if match == nil {
			continue
		}
		key := fr.URLString() + " " + p.name
		e.mu.Lock()
		dup := e.seen[key]
		e.seen[key] = true
		e.mu.Unlock()
		if dup {
			continue
		}

		e.kb.Append(interfaces.NamespaceInformation, e.Name(), interfaces.Finding{
			Plugin:   e.Name(),
			Name:     p.name,
			Severity: "info",
			URL:      fr.URLString(),
			Method:   fr.Method,
			Evidence: string(match),
		})
		e.logger.WithFields(logrus.Fields{
			"plugin": e.Name(),
			"url":    fr.URLString(),
			"error":  p.name,
		}).Info("Error page found")
	}
	return nil
}

// End has nothing to release
func (e *ErrorPages) End() error { return nil }
