/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: knowledge.go
Description: In-memory knowledge base for the Akaylee Scanner. Namespaced append-only storage
shared by plugins and the engine, safe for concurrent access.
*/

package core

import (
	"sort"
	"sync"
)

// KnowledgeBase stores scan results by namespace and key
type KnowledgeBase struct {
	data map[string]map[string][]interface{}
	mu   sync.RWMutex
}

// NewKnowledgeBase creates an empty knowledge base
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		data: make(map[string]map[string][]interface{}),
	}
}

// Append adds a value under namespace/key
func (kb *KnowledgeBase) Append(namespace, key string, value interface{}) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	ns := kb.namespace(namespace)
	ns[key] = append(ns[key], value)
}

// Set replaces the values under namespace/key
func (kb *KnowledgeBase) Set(namespace, key string, values []interface{}) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.namespace(namespace)[key] = append([]interface{}(nil), values...)
}

// GetData returns a copy of the values under namespace/key
func (kb *KnowledgeBase) GetData(namespace, key string) []interface{} {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	ns, ok := kb.data[namespace]
	if !ok {
		return nil
	}
	return append([]interface{}(nil), ns[key]...)
}

// Namespaces returns the sorted namespace names
func (kb *KnowledgeBase) Namespaces() []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	names := make([]string, 0, len(kb.data))
	for name := range kb.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Keys returns the sorted keys of a namespace
func (kb *KnowledgeBase) Keys(namespace string) []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	keys := make([]string, 0, len(kb.data[namespace]))
	for key := range kb.data[namespace] {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Clear removes everything
func (kb *KnowledgeBase) Clear() {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.data = make(map[string]map[string][]interface{})
}

func (kb *KnowledgeBase) namespace(name string) map[string][]interface{} {
	ns, ok := kb.data[name]
	if !ok {
		ns = make(map[string][]interface{})
		kb.data[name] = ns
	}
	return ns
}
