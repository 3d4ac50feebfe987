/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: request.go
Description: FuzzableRequest type for the Akaylee Scanner. A fuzzable request is the unit of
work every scan phase operates on: a URL, an HTTP method and the set of parameters plugins may
mutate. Identity is structural (method, URL without query and the parameter names) so that
requests which only differ in parameter values collapse into one entry.
*/

package request

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
)

// FuzzableRequest represents a request template with mutable parameters
// Once a request is inserted into a Set it must be treated as read-only
type FuzzableRequest struct {
	ID           string      `json:"id"`             // Unique identifier
	Method       string      `json:"method"`         // HTTP method
	URL          *url.URL    `json:"url"`            // Full URL (query included)
	Params       url.Values  `json:"params"`         // Parameter name -> values (query or body)
	Headers      http.Header `json:"headers"`        // Extra headers to send
	Body         string      `json:"body,omitempty"` // Raw body for non-form payloads
	DiscoveredBy string      `json:"discovered_by"`  // Plugin that found this request
	Depth        int         `json:"depth"`          // Discovery depth (seed = 0)
	CreatedAt    time.Time   `json:"created_at"`     // When this request was created
}

// New creates a fuzzable request for the given method and URL
// When params is nil the query string of the URL is used as the parameter set
func New(method, rawURL string, params url.Values) (*FuzzableRequest, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("url %q must be absolute", rawURL)
	}
	return FromURL(method, u, params), nil
}

// MustNew is like New but panics on invalid input. Intended for tests and literals.
func MustNew(method, rawURL string) *FuzzableRequest {
	fr, err := New(method, rawURL, nil)
	if err != nil {
		panic(err)
	}
	return fr
}

// FromURL creates a fuzzable request from an already parsed URL
func FromURL(method string, u *url.URL, params url.Values) *FuzzableRequest {
	if method == "" {
		method = http.MethodGet
	}
	if params == nil {
		params = u.Query()
	}
	copied := *u
	return &FuzzableRequest{
		ID:        uuid.New().String(),
		Method:    strings.ToUpper(method),
		URL:       &copied,
		Params:    cloneValues(params),
		Headers:   make(http.Header),
		CreatedAt: time.Now(),
	}
}

// Clone returns a deep copy with a fresh ID
func (fr *FuzzableRequest) Clone() *FuzzableRequest {
	u := *fr.URL
	return &FuzzableRequest{
		ID:           uuid.New().String(),
		Method:       fr.Method,
		URL:          &u,
		Params:       cloneValues(fr.Params),
		Headers:      fr.Headers.Clone(),
		Body:         fr.Body,
		DiscoveredBy: fr.DiscoveredBy,
		Depth:        fr.Depth,
		CreatedAt:    fr.CreatedAt,
	}
}

// WithoutFragment returns the request itself when its URL has no fragment,
// otherwise a copy with the fragment removed
func (fr *FuzzableRequest) WithoutFragment() *FuzzableRequest {
	if fr.URL.Fragment == "" && fr.URL.RawFragment == "" {
		return fr
	}
	c := fr.Clone()
	c.URL.Fragment = ""
	c.URL.RawFragment = ""
	return c
}

// Key returns the structural identity of the request
// The key covers the method, the URL without query/fragment and the sorted parameter names
func (fr *FuzzableRequest) Key() string {
	names := make([]string, 0, len(fr.Params))
	for name := range fr.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(fr.Method)
	b.WriteByte(' ')
	b.WriteString(strings.ToLower(fr.URL.Scheme))
	b.WriteString("://")
	b.WriteString(strings.ToLower(fr.URL.Host))
	b.WriteString(fr.URL.EscapedPath())
	b.WriteByte('?')
	b.WriteString(strings.Join(names, "&"))

	h1, h2 := murmur3.Sum128([]byte(b.String()))
	sum := make([]byte, 16)
	for i := 0; i < 8; i++ {
		sum[i] = byte(h1 >> (56 - 8*i))
		sum[8+i] = byte(h2 >> (56 - 8*i))
	}
	return hex.EncodeToString(sum)
}

// Equal reports whether two requests are structurally identical
func (fr *FuzzableRequest) Equal(other *FuzzableRequest) bool {
	if other == nil {
		return false
	}
	return fr.Key() == other.Key()
}

// BaseURL returns scheme://host/ for the request URL
func (fr *FuzzableRequest) BaseURL() string {
	return BaseURL(fr.URL)
}

// URI returns the URL without the fragment
func (fr *FuzzableRequest) URI() string {
	u := *fr.URL
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// URLString returns the URL without query and fragment
func (fr *FuzzableRequest) URLString() string {
	u := *fr.URL
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

func (fr *FuzzableRequest) String() string {
	names := make([]string, 0, len(fr.Params))
	for name := range fr.Params {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return fmt.Sprintf("Method: %s | %s", fr.Method, fr.URLString())
	}
	return fmt.Sprintf("Method: %s | %s | Parameters: (%s)", fr.Method, fr.URLString(), strings.Join(names, ", "))
}

// BaseURL returns scheme://host/ for any URL
func BaseURL(u *url.URL) string {
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + "/"
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
