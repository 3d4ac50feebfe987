/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: reflected_xss.go
Description: Reflected XSS audit plugin. Injects marked script payloads into every parameter of
a request and reports the parameters whose payload comes back unencoded in the response.
*/

package plugins

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/kleascm/akaylee-scanner/pkg/interfaces"
	"github.com/kleascm/akaylee-scanner/pkg/request"
	"github.com/sirupsen/logrus"
)

var xssPayloads = []string{
	"<script>alert(1)</script>",
	"\"'><img src=x onerror=alert(2)>",
	"<svg/onload=alert(3)>",
}

// ReflectedXSS audits parameters for reflected script injection
type ReflectedXSS struct {
	client interfaces.HTTPClient
	kb     interfaces.KnowledgeBase
	logger *logrus.Logger

	mu       sync.Mutex
	reported map[string]bool // method url param
}

// NewReflectedXSS creates the plugin
func NewReflectedXSS(client interfaces.HTTPClient, kb interfaces.KnowledgeBase, logger *logrus.Logger) *ReflectedXSS {
	return &ReflectedXSS{
		client:   client,
		kb:       kb,
		logger:   logger,
		reported: make(map[string]bool),
	}
}

func (x *ReflectedXSS) Name() string { return "reflected_xss" }

func (x *ReflectedXSS) Description() string {
	return "Injects script payloads into parameters and looks for them in the response"
}

// Audit tries every payload on every parameter of fr
func (x *ReflectedXSS) Audit(ctx context.Context, fr *request.FuzzableRequest) error {
	for param := range fr.Params {
		key := fr.Method + " " + fr.URLString() + " " + param
		if x.isReported(key) {
			continue
		}
		for _, payload := range xssPayloads {
			if err := ctx.Err(); err != nil {
				return err
			}
			marked := marker() + payload

			mutant := fr.Clone()
			mutant.Params.Set(param, marked)
			resp, err := x.client.Send(ctx, mutant)
			if err != nil {
				return err
			}
			if !strings.Contains(string(resp.Body), marked) {
				continue
			}

			x.report(key, interfaces.Finding{
				Plugin:   x.Name(),
				Name:     "Reflected cross site scripting",
				Severity: "high",
				URL:      fr.URLString(),
				Method:   fr.Method,
				Param:    param,
				Evidence: payload,
			})
			break
		}
	}
	return nil
}

func (x *ReflectedXSS) isReported(key string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.reported[key]
}

func (x *ReflectedXSS) report(key string, finding interfaces.Finding) {
	x.mu.Lock()
	if x.reported[key] {
		x.mu.Unlock()
		return
	}
	x.reported[key] = true
	x.mu.Unlock()

	x.kb.Append(interfaces.NamespaceVulns, x.Name(), finding)
	x.logger.WithFields(logrus.Fields{
		"plugin": x.Name(),
		"url":    finding.URL,
		"param":  finding.Param,
	}).Warn("Reflected XSS found")
}

// marker returns a unique prefix so reflections of earlier probes never match
func marker() string {
	return "akx" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// End has nothing to release
func (x *ReflectedXSS) End() error { return nil }
