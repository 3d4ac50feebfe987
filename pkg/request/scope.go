/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: scope.go
Description: Scan scope for the Akaylee Scanner. The scope is derived once from the seed
targets and answers whether a URL belongs to one of their base URLs (scheme://host[:port]/).
*/

package request

import (
	"fmt"
	"net/url"
	"strings"
)

// Scope is the set of base URLs a scan may request
type Scope struct {
	bases map[string]struct{}
	order []string
}

// NewScope builds a scope from the seed target URLs
func NewScope(targets []string) (*Scope, error) {
	s := &Scope{bases: make(map[string]struct{})}
	for _, target := range targets {
		u, err := url.Parse(strings.TrimSpace(target))
		if err != nil {
			return nil, fmt.Errorf("invalid target %q: %w", target, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("target %q must use http or https", target)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("target %q has no host", target)
		}
		s.add(BaseURL(u))
	}
	return s, nil
}

func (s *Scope) add(base string) {
	if _, ok := s.bases[base]; ok {
		return
	}
	s.bases[base] = struct{}{}
	s.order = append(s.order, base)
}

// Contains reports whether the URL's base URL is one of the targets
func (s *Scope) Contains(u *url.URL) bool {
	if s == nil || u == nil {
		return false
	}
	_, ok := s.bases[BaseURL(u)]
	return ok
}

// ContainsRequest reports whether the request is in scope
func (s *Scope) ContainsRequest(fr *FuzzableRequest) bool {
	if fr == nil {
		return false
	}
	return s.Contains(fr.URL)
}

// BaseURLs returns the in-scope base URLs in target order
func (s *Scope) BaseURLs() []string {
	return append([]string(nil), s.order...)
}
