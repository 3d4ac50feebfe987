/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: http.go
Description: HTTP collaborator interfaces for the Akaylee Scanner. Defines the uri opener every
plugin and phase shares, the response value it returns and the observer hook used to feed
responses to the grep phase.
*/

package interfaces

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kleascm/akaylee-scanner/pkg/request"
)

// Response represents an HTTP response received during the scan
type Response struct {
	URL        *url.URL      `json:"url"`         // Final URL after redirects
	StatusCode int           `json:"status_code"` // HTTP status code
	Header     http.Header   `json:"header"`      // Response headers
	Body       []byte        `json:"body"`        // Response body (possibly truncated)
	Duration   time.Duration `json:"duration"`    // Round-trip time
	FromCache  bool          `json:"from_cache"`  // Served from the response cache
}

// ContentType returns the media type without parameters
func (r *Response) ContentType() string {
	ct := r.Header.Get("Content-Type")
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// IsHTML reports whether the response carries an HTML document
func (r *Response) IsHTML() bool {
	ct := r.ContentType()
	return ct == "text/html" || ct == "application/xhtml+xml" || ct == ""
}

// HTTPClient is the uri opener shared by every plugin and consumer
// Implementations must be safe for concurrent use and allow credentials to change mid-scan
type HTTPClient interface {
	GET(ctx context.Context, rawURL string, useCache bool) (*Response, error)
	Send(ctx context.Context, fr *request.FuzzableRequest) (*Response, error)
	SetBasicAuth(rawURL, username, password string) error
	Pause(paused bool)
	Stop()
}

// ResponseObserver receives every request/response pair an HTTP client completes
type ResponseObserver interface {
	Observe(fr *request.FuzzableRequest, resp *Response)
}

// ResponsePublisher is implemented by clients that can feed a ResponseObserver
type ResponsePublisher interface {
	SetResponseObserver(observer ResponseObserver)
}
