/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: client.go
Description: HTTP client for the Akaylee Scanner. Shared by every plugin and phase: rate limited
with golang.org/x/time/rate, keeps cookies in a public suffix aware jar, caches GET responses on
request, applies basic auth credentials per base URL, can be paused and stopped mid-scan and
publishes every completed request/response pair to an observer such as the grep consumer.
*/

package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kleascm/akaylee-scanner/pkg/interfaces"
	"github.com/kleascm/akaylee-scanner/pkg/request"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// ErrClientStopped is returned for requests made after Stop
var ErrClientStopped = errors.New("http client stopped")

var (
	_ interfaces.HTTPClient        = (*Client)(nil)
	_ interfaces.ResponsePublisher = (*Client)(nil)
)

// Config holds HTTP client configuration
type Config struct {
	Timeout         time.Duration     `json:"timeout"`          // Per request timeout
	RateLimit       int               `json:"rate_limit"`       // Requests per second, 0 disables limiting
	UserAgent       string            `json:"user_agent"`       // User-Agent header
	MaxBodySize     int64             `json:"max_body_size"`    // Bytes of body kept per response
	FollowRedirects bool              `json:"follow_redirects"` // Follow 3xx responses
	VerifySSL       bool              `json:"verify_ssl"`       // Verify TLS certificates
	Headers         map[string]string `json:"headers"`          // Extra headers sent with every request
}

// DefaultConfig returns the client defaults
func DefaultConfig() *Config {
	return &Config{
		Timeout:         30 * time.Second,
		UserAgent:       "akaylee-scanner/1.0",
		MaxBodySize:     2 << 20,
		FollowRedirects: true,
	}
}

type credentials struct {
	username string
	password string
}

// Client implements interfaces.HTTPClient
type Client struct {
	client  *http.Client
	limiter *rate.Limiter
	config  *Config
	logger  *logrus.Logger

	authMu sync.RWMutex
	auth   map[string]credentials // base URL -> credentials

	cacheMu sync.RWMutex
	cache   map[string]*interfaces.Response

	observerMu sync.RWMutex
	observer   interfaces.ResponseObserver

	pauseMu sync.Mutex
	resume  chan struct{} // Non-nil while paused, closed on resume

	ctx    context.Context // Cancelled by Stop
	cancel context.CancelFunc

	requests atomic.Int64
	failures atomic.Int64
}

// New creates a client; a nil config uses DefaultConfig
func New(config *Config, logger *logrus.Logger) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logrus.New()
	}
	if config.MaxBodySize <= 0 {
		config.MaxBodySize = DefaultConfig().MaxBodySize
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !config.VerifySSL,
		},
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   config.Timeout,
		Jar:       jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if !config.FollowRedirects || len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.RateLimit)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		client:  client,
		limiter: limiter,
		config:  config,
		logger:  logger,
		auth:    make(map[string]credentials),
		cache:   make(map[string]*interfaces.Response),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// GET fetches rawURL; with useCache a previous response for the same URL is reused
func (c *Client) GET(ctx context.Context, rawURL string, useCache bool) (*interfaces.Response, error) {
	if useCache {
		c.cacheMu.RLock()
		cached, ok := c.cache[rawURL]
		c.cacheMu.RUnlock()
		if ok {
			resp := *cached
			resp.FromCache = true
			return &resp, nil
		}
	}

	fr, err := request.New(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Send(ctx, fr)
	if err != nil {
		return nil, err
	}
	if useCache {
		c.cacheMu.Lock()
		c.cache[rawURL] = resp
		c.cacheMu.Unlock()
	}
	return resp, nil
}

// Send performs the request described by fr
func (c *Client) Send(ctx context.Context, fr *request.FuzzableRequest) (*interfaces.Response, error) {
	if c.ctx.Err() != nil {
		return nil, ErrClientStopped
	}
	if err := c.waitIfPaused(ctx); err != nil {
		return nil, err
	}

	// Stop cancels requests in flight
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unhook := context.AfterFunc(c.ctx, cancel)
	defer unhook()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	httpReq, err := c.createHTTPRequest(ctx, fr)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	c.requests.Add(1)
	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		c.failures.Add(1)
		if c.ctx.Err() != nil {
			return nil, ErrClientStopped
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, c.config.MaxBodySize))
	if err != nil {
		c.failures.Add(1)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	resp := &interfaces.Response{
		URL:        httpResp.Request.URL,
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
		Duration:   time.Since(start),
	}

	c.logger.WithFields(logrus.Fields{
		"method": fr.Method,
		"url":    fr.URI(),
		"status": resp.StatusCode,
	}).Trace("HTTP request completed")

	c.observerMu.RLock()
	observer := c.observer
	c.observerMu.RUnlock()
	if observer != nil {
		observer.Observe(fr, resp)
	}
	return resp, nil
}

// createHTTPRequest builds the net/http request; GET style methods carry params in the query,
// others in a form encoded body unless the request has its own body
func (c *Client) createHTTPRequest(ctx context.Context, fr *request.FuzzableRequest) (*http.Request, error) {
	u := *fr.URL
	u.Fragment = ""

	var body io.Reader
	formBody := false
	switch fr.Method {
	case http.MethodGet, http.MethodHead, http.MethodDelete, http.MethodOptions:
		if len(fr.Params) > 0 {
			u.RawQuery = fr.Params.Encode()
		}
	default:
		switch {
		case fr.Body != "":
			body = strings.NewReader(fr.Body)
		case len(fr.Params) > 0:
			body = strings.NewReader(fr.Params.Encode())
			formBody = true
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, fr.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	for key, value := range c.config.Headers {
		httpReq.Header.Set(key, value)
	}
	for key, values := range fr.Headers {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if formBody && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.config.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.authMu.RLock()
	cred, ok := c.auth[request.BaseURL(&u)]
	c.authMu.RUnlock()
	if ok {
		httpReq.SetBasicAuth(cred.username, cred.password)
	}
	return httpReq, nil
}

// SetBasicAuth uses the credentials for every later request to the base URL of rawURL
func (c *Client) SetBasicAuth(rawURL, username, password string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid URL %q: scheme and host are required", rawURL)
	}

	base := request.BaseURL(u)
	c.authMu.Lock()
	c.auth[base] = credentials{username: username, password: password}
	c.authMu.Unlock()

	// cached responses were fetched without the credentials
	c.cacheMu.Lock()
	c.cache = make(map[string]*interfaces.Response)
	c.cacheMu.Unlock()

	c.logger.WithFields(logrus.Fields{"url": base, "user": username}).Debug("Basic auth credentials configured")
	return nil
}

// SetResponseObserver sets the observer of completed requests; nil detaches it
func (c *Client) SetResponseObserver(observer interfaces.ResponseObserver) {
	c.observerMu.Lock()
	defer c.observerMu.Unlock()
	c.observer = observer
}

// Pause blocks new requests until resumed
func (c *Client) Pause(paused bool) {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	switch {
	case paused && c.resume == nil:
		c.resume = make(chan struct{})
	case !paused && c.resume != nil:
		close(c.resume)
		c.resume = nil
	}
}

func (c *Client) waitIfPaused(ctx context.Context) error {
	c.pauseMu.Lock()
	resume := c.resume
	c.pauseMu.Unlock()
	if resume == nil {
		return nil
	}
	select {
	case <-resume:
		return nil
	case <-c.ctx.Done():
		return ErrClientStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels requests in flight and refuses new ones
func (c *Client) Stop() {
	c.cancel()
	c.client.CloseIdleConnections()
}

// GetStats returns request counters
func (c *Client) GetStats() map[string]interface{} {
	c.cacheMu.RLock()
	cached := len(c.cache)
	c.cacheMu.RUnlock()
	return map[string]interface{}{
		"requests":       c.requests.Load(),
		"failures":       c.failures.Load(),
		"cached_entries": cached,
	}
}
