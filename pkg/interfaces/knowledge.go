/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: knowledge.go
Description: Knowledge base interface for the Akaylee Scanner. The knowledge base is the shared
result store plugins write findings and credentials into and the engine publishes its request
inventory through. From the engine's point of view it is append-only per key.
*/

package interfaces

// Well-known knowledge base namespaces and keys
const (
	NamespaceURLs        = "urls"
	KeyURLList           = "url_list"
	KeyFuzzableRequests  = "fuzzable_requests"
	NamespaceBasicAuth   = "basic_auth_brute"
	KeyAuth              = "auth"
	NamespaceVulns       = "vulns"
	NamespaceInformation = "info"
)

// Credential is stored by bruteforce plugins under basic_auth_brute/auth
type Credential struct {
	URL      string `json:"url" yaml:"url"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// Finding is stored by audit and grep plugins
type Finding struct {
	Plugin   string `json:"plugin" yaml:"plugin"`
	Name     string `json:"name" yaml:"name"`
	Severity string `json:"severity" yaml:"severity"`
	URL      string `json:"url" yaml:"url"`
	Method   string `json:"method" yaml:"method"`
	Param    string `json:"param,omitempty" yaml:"param,omitempty"`
	Evidence string `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

// KnowledgeBase is the shared result store
type KnowledgeBase interface {
	Append(namespace, key string, value interface{})
	Set(namespace, key string, values []interface{})
	GetData(namespace, key string) []interface{}
	Namespaces() []string
}
