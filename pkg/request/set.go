/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: set.go
Description: FuzzableRequest set for the Akaylee Scanner. Stores discovered requests keyed by
their structural identity, remembers insertion order for stable reporting and never shrinks.
All operations are safe for concurrent use.
*/

package request

import (
	"sync"
)

// Set is a deduplicating collection of fuzzable requests
// Insert-if-absent is the only mutating operation
type Set struct {
	items map[string]*FuzzableRequest // Structural key -> request
	order []string                    // Keys in insertion order
	mu    sync.RWMutex                // Read-write mutex for thread safety
}

// NewSet creates a set, optionally pre-populated
func NewSet(requests ...*FuzzableRequest) *Set {
	s := &Set{
		items: make(map[string]*FuzzableRequest),
	}
	s.AddAll(requests)
	return s
}

// Add inserts a request unless a structurally equal one is already present
// Returns true when the request was inserted
func (s *Set) Add(fr *FuzzableRequest) bool {
	if fr == nil {
		return false
	}
	key := fr.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[key]; exists {
		return false
	}
	s.items[key] = fr
	s.order = append(s.order, key)
	return true
}

// AddAll inserts every request and returns how many were new
func (s *Set) AddAll(requests []*FuzzableRequest) int {
	added := 0
	for _, fr := range requests {
		if s.Add(fr) {
			added++
		}
	}
	return added
}

// Contains reports whether a structurally equal request is present
func (s *Set) Contains(fr *FuzzableRequest) bool {
	if fr == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[fr.Key()]
	return ok
}

// Len returns the number of distinct requests
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// List returns the requests in insertion order
func (s *Set) List() []*FuzzableRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*FuzzableRequest, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.items[key])
	}
	return out
}

// Union returns a new set holding the requests of both sets
// Elements of s come first
func (s *Set) Union(other *Set) *Set {
	out := NewSet(s.List()...)
	if other != nil {
		out.AddAll(other.List())
	}
	return out
}

// Merge adds all requests of other into s and returns how many were new
func (s *Set) Merge(other *Set) int {
	if other == nil {
		return 0
	}
	return s.AddAll(other.List())
}

// URLs returns the unique URLs (without query) of the requests in insertion order
func (s *Set) URLs() []string {
	seen := make(map[string]struct{})
	var urls []string
	for _, fr := range s.List() {
		u := fr.URLString()
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		urls = append(urls, u)
	}
	return urls
}
