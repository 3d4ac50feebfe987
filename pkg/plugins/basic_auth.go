/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: basic_auth.go
Description: HTTP basic auth bruteforce plugin. Requests protected by basic auth are retried with
every user/password pair; the first pair accepted by the server is stored in the knowledge base
under basic_auth_brute/auth and the request is returned so discovery can continue behind it.
*/

package plugins

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/kleascm/akaylee-scanner/pkg/interfaces"
	"github.com/kleascm/akaylee-scanner/pkg/request"
	"github.com/sirupsen/logrus"
)

// BasicAuth guesses basic auth credentials
type BasicAuth struct {
	client    interfaces.HTTPClient
	kb        interfaces.KnowledgeBase
	users     []string
	passwords []string
	logger    *logrus.Logger

	mu      sync.Mutex
	cracked map[string]bool // base URL
}

// NewBasicAuth creates the plugin; both wordlists must be non-empty
func NewBasicAuth(client interfaces.HTTPClient, kb interfaces.KnowledgeBase, users, passwords []string, logger *logrus.Logger) (*BasicAuth, error) {
	if len(users) == 0 || len(passwords) == 0 {
		return nil, errors.New("basic_auth needs at least one user and one password")
	}
	return &BasicAuth{
		client:    client,
		kb:        kb,
		users:     users,
		passwords: passwords,
		logger:    logger,
		cracked:   make(map[string]bool),
	}, nil
}

func (b *BasicAuth) Name() string { return "basic_auth" }

func (b *BasicAuth) Description() string {
	return "Guesses HTTP basic auth credentials from user and password lists"
}

// Bruteforce returns fr when credentials for it were found
func (b *BasicAuth) Bruteforce(ctx context.Context, fr *request.FuzzableRequest) ([]*request.FuzzableRequest, error) {
	base := fr.BaseURL()
	b.mu.Lock()
	done := b.cracked[base]
	b.mu.Unlock()
	if done {
		return nil, nil
	}

	probe := fr.Clone()
	probe.Method = http.MethodGet
	probe.Body = ""
	resp, err := b.client.Send(ctx, probe)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return nil, nil
	}
	if challenge := resp.Header.Get("WWW-Authenticate"); challenge != "" && !isBasicChallenge(challenge) {
		return nil, nil
	}

	for _, user := range b.users {
		for _, password := range b.passwords {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			attempt := probe.Clone()
			attempt.Headers.Set("Authorization", basicAuthHeader(user, password))

			resp, err := b.client.Send(ctx, attempt)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				continue
			}

			b.mu.Lock()
			b.cracked[base] = true
			b.mu.Unlock()

			b.kb.Append(interfaces.NamespaceBasicAuth, interfaces.KeyAuth, interfaces.Credential{
				URL:      fr.URLString(),
				Username: user,
				Password: password,
			})
			b.logger.WithFields(logrus.Fields{
				"plugin": b.Name(),
				"url":    fr.URLString(),
				"user":   user,
			}).Warn("Basic auth credentials found")
			return []*request.FuzzableRequest{fr.Clone()}, nil
		}
	}
	return nil, nil
}

func isBasicChallenge(challenge string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(challenge)), "basic")
}

func basicAuthHeader(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}

// End has nothing to release
func (b *BasicAuth) End() error { return nil }
