/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: headless_spider.go
Description: Headless spider discovery plugin using chromedp. Renders each page in a browser tab,
records the requests the page makes through network events and extracts anchors and forms from
the rendered DOM, finding links that only exist after JavaScript runs.
*/

package plugins

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/kleascm/akaylee-scanner/pkg/request"
	"github.com/sirupsen/logrus"
)

// anchorsJS collects the absolute href of every anchor in the rendered page
const anchorsJS = `Array.from(document.querySelectorAll('a[href]')).map(a => a.href)`

// HeadlessSpider drives a headless Chrome instance, one tab per page
type HeadlessSpider struct {
	timeout time.Duration
	logger  *logrus.Logger

	mu      sync.Mutex
	browser context.Context
	cancel  context.CancelFunc
	alloc   context.CancelFunc
}

// NewHeadlessSpider creates a headless spider; the browser starts on first use
func NewHeadlessSpider(timeout time.Duration, logger *logrus.Logger) *HeadlessSpider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HeadlessSpider{timeout: timeout, logger: logger}
}

func (s *HeadlessSpider) Name() string { return "headless_spider" }

func (s *HeadlessSpider) Description() string {
	return "Renders pages in headless Chrome and records the requests they make"
}

// start launches the browser once
func (s *HeadlessSpider) start() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser != nil {
		return s.browser, nil
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), chromedp.DefaultExecAllocatorOptions[:]...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	s.browser = browserCtx
	s.cancel = browserCancel
	s.alloc = allocCancel
	return browserCtx, nil
}

// Discover renders fr and returns the requests seen on the network plus the page links
func (s *HeadlessSpider) Discover(ctx context.Context, fr *request.FuzzableRequest) ([]*request.FuzzableRequest, error) {
	if fr.Method != http.MethodGet {
		return nil, nil
	}
	browser, err := s.start()
	if err != nil {
		return nil, err
	}

	tab, cancelTab := chromedp.NewContext(browser)
	defer cancelTab()
	tab, cancelTimeout := context.WithTimeout(tab, s.timeout)
	defer cancelTimeout()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var (
		netMu  sync.Mutex
		netlog []string
	)
	chromedp.ListenTarget(tab, func(ev interface{}) {
		if e, ok := ev.(*network.EventRequestWillBeSent); ok {
			netMu.Lock()
			netlog = append(netlog, e.Request.URL)
			netMu.Unlock()
		}
	})

	var (
		anchors []string
		dom     string
	)
	err = chromedp.Run(tab,
		network.Enable(),
		chromedp.Navigate(fr.URI()),
		chromedp.Evaluate(anchorsJS, &anchors),
		chromedp.OuterHTML("html", &dom),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", fr.URI(), err)
	}

	netMu.Lock()
	seen := append(append([]string(nil), netlog...), anchors...)
	netMu.Unlock()

	found := requestsFromURLs(seen)
	if extracted, err := request.FromHTML(fr.URL, []byte(dom)); err == nil {
		found = append(found, extracted...)
	}
	s.logger.WithFields(logrus.Fields{
		"plugin":  s.Name(),
		"url":     fr.URLString(),
		"network": len(seen) - len(anchors),
		"anchors": len(anchors),
		"found":   len(found),
	}).Trace("Page rendered")
	return found, nil
}

// requestsFromURLs turns absolute http(s) URLs into GET requests, skipping data:, blob: and friends
func requestsFromURLs(urls []string) []*request.FuzzableRequest {
	var out []*request.FuzzableRequest
	for _, raw := range urls {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || u.Host == "" {
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			continue
		}
		out = append(out, request.FromURL(http.MethodGet, u, nil))
	}
	return out
}

// End closes the browser
func (s *HeadlessSpider) End() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.alloc != nil {
		s.alloc()
	}
	s.browser, s.cancel, s.alloc = nil, nil, nil
	return nil
}
