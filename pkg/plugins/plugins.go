/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: plugins.go
Description: Plugin factory for the Akaylee Scanner. Maps plugin names to constructors per phase,
builds the plugin set of a scan from the configured selection and lists the built-in plugins
with their descriptions.
*/

package plugins

import (
	"fmt"
	"sort"
	"time"

	"github.com/kleascm/akaylee-scanner/pkg/core"
	"github.com/kleascm/akaylee-scanner/pkg/interfaces"
	"github.com/kleascm/akaylee-scanner/pkg/strategy"
	"github.com/sirupsen/logrus"
)

// Options carries everything plugin constructors may need
type Options struct {
	Client interfaces.HTTPClient
	KB     interfaces.KnowledgeBase
	Logger *logrus.Logger

	// basic_auth
	Users     []string `json:"users"`
	Passwords []string `json:"passwords"`

	// form_login
	LoginURL      string `json:"login_url"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	UserField     string `json:"user_field"`
	PasswordField string `json:"password_field"`
	CheckURL      string `json:"check_url"`
	CheckString   string `json:"check_string"`

	// headless_spider
	BrowserTimeout time.Duration `json:"browser_timeout"`
}

// DefaultOptions returns plugin options with built-in wordlists
func DefaultOptions() *Options {
	return &Options{
		Users:          []string{"admin", "root", "test", "guest", "user"},
		Passwords:      []string{"admin", "password", "123456", "test", "guest", "root", "changeme"},
		UserField:      "username",
		PasswordField:  "password",
		BrowserTimeout: 30 * time.Second,
	}
}

// Info describes a built-in plugin
type Info struct {
	Name        string     `json:"name" yaml:"name"`
	Phase       core.Phase `json:"phase" yaml:"phase"`
	Description string     `json:"description" yaml:"description"`
}

type constructor func(opts *Options) (interfaces.Plugin, error)

type entry struct {
	phase       core.Phase
	description string
	needsClient bool
	build       constructor
}

var registry = map[string]entry{
	"web_spider": {
		phase:       core.PhaseDiscovery,
		description: "Follows links and forms of HTML pages",
		needsClient: true,
		build:       func(opts *Options) (interfaces.Plugin, error) { return NewWebSpider(opts.Client, opts.Logger), nil },
	},
	"headless_spider": {
		phase:       core.PhaseDiscovery,
		description: "Renders pages in headless Chrome and records the requests they make",
		build: func(opts *Options) (interfaces.Plugin, error) {
			return NewHeadlessSpider(opts.BrowserTimeout, opts.Logger), nil
		},
	},
	"basic_auth": {
		phase:       core.PhaseBruteforce,
		description: "Guesses HTTP basic auth credentials from user and password lists",
		needsClient: true,
		build: func(opts *Options) (interfaces.Plugin, error) {
			return NewBasicAuth(opts.Client, opts.KB, opts.Users, opts.Passwords, opts.Logger)
		},
	},
	"reflected_xss": {
		phase:       core.PhaseAudit,
		description: "Injects script payloads into parameters and looks for them in the response",
		needsClient: true,
		build: func(opts *Options) (interfaces.Plugin, error) {
			return NewReflectedXSS(opts.Client, opts.KB, opts.Logger), nil
		},
	},
	"form_login": {
		phase:       core.PhaseAuth,
		description: "Keeps a session alive by submitting a login form",
		needsClient: true,
		build: func(opts *Options) (interfaces.Plugin, error) {
			return NewFormLogin(opts.Client, FormLoginConfig{
				LoginURL:      opts.LoginURL,
				Username:      opts.Username,
				Password:      opts.Password,
				UserField:     opts.UserField,
				PasswordField: opts.PasswordField,
				CheckURL:      opts.CheckURL,
				CheckString:   opts.CheckString,
			}, opts.Logger)
		},
	},
	"error_pages": {
		phase:       core.PhaseGrep,
		description: "Flags responses that leak errors, stack traces or database messages",
		build:       func(opts *Options) (interfaces.Plugin, error) { return NewErrorPages(opts.KB, opts.Logger), nil },
	},
}

// List returns the built-in plugins sorted by phase and name
func List() []Info {
	infos := make([]Info, 0, len(registry))
	for name, e := range registry {
		infos = append(infos, Info{Name: name, Phase: e.phase, Description: e.description})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Phase != infos[j].Phase {
			return phaseOrder(infos[i].Phase) < phaseOrder(infos[j].Phase)
		}
		return infos[i].Name < infos[j].Name
	})
	return infos
}

func phaseOrder(p core.Phase) int {
	switch p {
	case core.PhaseDiscovery:
		return 0
	case core.PhaseBruteforce:
		return 1
	case core.PhaseAudit:
		return 2
	case core.PhaseAuth:
		return 3
	default:
		return 4
	}
}

// Build instantiates the selected plugins of every phase
func Build(selection core.PluginSelection, opts *Options) (strategy.Plugins, error) {
	var out strategy.Plugins
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.KB == nil {
		opts.KB = core.NewKnowledgeBase()
	}

	for _, name := range selection.Discovery {
		p, err := create(name, core.PhaseDiscovery, opts)
		if err != nil {
			return out, err
		}
		out.Discovery = append(out.Discovery, p.(interfaces.DiscoveryPlugin))
	}
	for _, name := range selection.Bruteforce {
		p, err := create(name, core.PhaseBruteforce, opts)
		if err != nil {
			return out, err
		}
		out.Bruteforce = append(out.Bruteforce, p.(interfaces.BruteforcePlugin))
	}
	for _, name := range selection.Audit {
		p, err := create(name, core.PhaseAudit, opts)
		if err != nil {
			return out, err
		}
		out.Audit = append(out.Audit, p.(interfaces.AuditPlugin))
	}
	for _, name := range selection.Auth {
		p, err := create(name, core.PhaseAuth, opts)
		if err != nil {
			return out, err
		}
		out.Auth = append(out.Auth, p.(interfaces.AuthPlugin))
	}
	for _, name := range selection.Grep {
		p, err := create(name, core.PhaseGrep, opts)
		if err != nil {
			return out, err
		}
		out.Grep = append(out.Grep, p.(interfaces.GrepPlugin))
	}
	return out, nil
}

func create(name string, phase core.Phase, opts *Options) (interfaces.Plugin, error) {
	e, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown %s plugin %q", phase, name)
	}
	if e.phase != phase {
		return nil, fmt.Errorf("plugin %q is a %s plugin, not %s", name, e.phase, phase)
	}
	if e.needsClient && opts.Client == nil {
		return nil, fmt.Errorf("plugin %q requires an HTTP client", name)
	}
	p, err := e.build(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create plugin %q: %w", name, err)
	}
	return p, nil
}
