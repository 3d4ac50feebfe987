/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: web_spider.go
Description: Web spider discovery plugin. Fetches a request through the shared HTTP client and
extracts the links, frames and forms of HTML responses with goquery.
*/

package plugins

import (
	"context"
	"net/http"

	"github.com/kleascm/akaylee-scanner/pkg/interfaces"
	"github.com/kleascm/akaylee-scanner/pkg/request"
	"github.com/sirupsen/logrus"
)

// WebSpider follows links of HTML pages
type WebSpider struct {
	client interfaces.HTTPClient
	logger *logrus.Logger
}

// NewWebSpider creates a web spider
func NewWebSpider(client interfaces.HTTPClient, logger *logrus.Logger) *WebSpider {
	return &WebSpider{client: client, logger: logger}
}

func (s *WebSpider) Name() string { return "web_spider" }

func (s *WebSpider) Description() string {
	return "Follows links and forms of HTML pages"
}

// Discover fetches fr and returns the requests found in the page
func (s *WebSpider) Discover(ctx context.Context, fr *request.FuzzableRequest) ([]*request.FuzzableRequest, error) {
	var (
		resp *interfaces.Response
		err  error
	)
	if fr.Method == http.MethodGet {
		resp, err = s.client.GET(ctx, fr.URI(), true)
	} else {
		resp, err = s.client.Send(ctx, fr)
	}
	if err != nil {
		return nil, err
	}
	if !resp.IsHTML() || len(resp.Body) == 0 {
		return nil, nil
	}

	found, err := request.FromHTML(resp.URL, resp.Body)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"plugin": s.Name(),
		"url":    fr.URLString(),
		"found":  len(found),
	}).Trace("Page spidered")
	return found, nil
}

// End has nothing to release
func (s *WebSpider) End() error { return nil }
