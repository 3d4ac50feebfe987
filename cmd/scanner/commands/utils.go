/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: utils.go
Description: Shared utilities for the Akaylee Scanner commands. Loads configuration from flags,
files and the environment, builds the logger and turns viper keys into the scan, HTTP client
and plugin configurations.
*/

package commands

import (
	"fmt"
	"strings"

	"github.com/kleascm/akaylee-scanner/pkg/core"
	"github.com/kleascm/akaylee-scanner/pkg/httpclient"
	"github.com/kleascm/akaylee-scanner/pkg/logging"
	"github.com/kleascm/akaylee-scanner/pkg/plugins"
	"github.com/spf13/viper"
)

// LoadConfig loads configuration from files and environment
func LoadConfig() error {
	SetDefaults()

	// Set config file if specified
	if configFile := viper.GetString("config"); configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// AKAYLEE_HTTP_TIMEOUT overrides http.timeout
	viper.SetEnvPrefix("AKAYLEE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	return nil
}

// SetDefaults registers the default of every configuration key
func SetDefaults() {
	scan := core.DefaultScanConfig()
	viper.SetDefault("max_discovery_time", scan.MaxDiscoveryTime)
	viper.SetDefault("max_discovery_loops", scan.MaxDiscoveryLoops)
	viper.SetDefault("max_depth", scan.MaxDepth)
	viper.SetDefault("discovery_queue_size", scan.DiscoveryQueue)
	viper.SetDefault("audit_queue_size", scan.AuditQueue)
	viper.SetDefault("audit_workers", scan.AuditWorkers)
	viper.SetDefault("auth_queue_size", scan.AuthQueue)
	viper.SetDefault("auth_timeout", scan.AuthTimeout)
	viper.SetDefault("grep_queue_size", scan.GrepQueue)
	viper.SetDefault("grep_workers", scan.GrepWorkers)
	viper.SetDefault("max_exceptions_per_plugin", scan.MaxExceptionsPerPlugin)
	viper.SetDefault("stop_on_first_exception", scan.StopOnFirstException)
	viper.SetDefault("audit_poll_interval", scan.AuditPollInterval)
	viper.SetDefault("stop_grace_period", scan.StopGracePeriod)
	viper.SetDefault("pause_poll_interval", scan.PausePollInterval)
	viper.SetDefault("plugins.discovery", []string{"web_spider"})
	viper.SetDefault("plugins.audit", []string{"reflected_xss"})
	viper.SetDefault("plugins.grep", []string{"error_pages"})

	client := httpclient.DefaultConfig()
	viper.SetDefault("http.timeout", client.Timeout)
	viper.SetDefault("http.rate_limit", client.RateLimit)
	viper.SetDefault("http.user_agent", client.UserAgent)
	viper.SetDefault("http.max_body_size", client.MaxBodySize)
	viper.SetDefault("http.follow_redirects", client.FollowRedirects)

	opts := plugins.DefaultOptions()
	viper.SetDefault("bruteforce.users", opts.Users)
	viper.SetDefault("bruteforce.passwords", opts.Passwords)
	viper.SetDefault("auth.user_field", opts.UserField)
	viper.SetDefault("auth.password_field", opts.PasswordField)
	viper.SetDefault("discovery.browser_timeout", opts.BrowserTimeout)

	logs := logging.DefaultLoggerConfig()
	viper.SetDefault("log.level", string(logs.Level))
	viper.SetDefault("log.format", string(logs.Format))
	viper.SetDefault("log.dir", logs.OutputDir)
	viper.SetDefault("log.max_files", logs.MaxFiles)
	viper.SetDefault("log.max_size", logs.MaxSize)

	viper.SetDefault("otel.insecure", true)
}

// SetupLogging builds the scan logger from the log.* keys
func SetupLogging() (*logging.Logger, error) {
	config := &logging.LoggerConfig{
		Level:     logging.LogLevel(viper.GetString("log.level")),
		Format:    logging.LogFormat(viper.GetString("log.format")),
		OutputDir: viper.GetString("log.dir"),
		MaxFiles:  viper.GetInt("log.max_files"),
		MaxSize:   viper.GetInt64("log.max_size"),
		Timestamp: true,
		Caller:    viper.GetBool("log.caller"),
		Colors:    !viper.GetBool("log.no_color"),
		Compress:  viper.GetBool("log.compress"),
	}
	if addr := viper.GetString("log.syslog"); addr != "" {
		config.SyslogEnabled = true
		config.SyslogNetwork = "udp"
		config.SyslogAddress = addr
	}

	logger, err := logging.NewLogger(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// createScanConfig builds the scan configuration from viper keys
func createScanConfig() *core.ScanConfig {
	return &core.ScanConfig{
		Targets:                cleanList(viper.GetStringSlice("targets")),
		MaxDiscoveryTime:       viper.GetDuration("max_discovery_time"),
		MaxDiscoveryLoops:      viper.GetInt("max_discovery_loops"),
		MaxDepth:               viper.GetInt("max_depth"),
		DiscoveryQueue:         viper.GetInt("discovery_queue_size"),
		AuditQueue:             viper.GetInt("audit_queue_size"),
		AuditWorkers:           viper.GetInt("audit_workers"),
		AuthQueue:              viper.GetInt("auth_queue_size"),
		AuthTimeout:            viper.GetDuration("auth_timeout"),
		GrepQueue:              viper.GetInt("grep_queue_size"),
		GrepWorkers:            viper.GetInt("grep_workers"),
		MaxExceptionsPerPlugin: viper.GetInt("max_exceptions_per_plugin"),
		StopOnFirstException:   viper.GetBool("stop_on_first_exception"),
		AuditPollInterval:      viper.GetDuration("audit_poll_interval"),
		StopGracePeriod:        viper.GetDuration("stop_grace_period"),
		PausePollInterval:      viper.GetDuration("pause_poll_interval"),
		Plugins: core.PluginSelection{
			Discovery:  cleanList(viper.GetStringSlice("plugins.discovery")),
			Bruteforce: cleanList(viper.GetStringSlice("plugins.bruteforce")),
			Audit:      cleanList(viper.GetStringSlice("plugins.audit")),
			Auth:       cleanList(viper.GetStringSlice("plugins.auth")),
			Grep:       cleanList(viper.GetStringSlice("plugins.grep")),
		},
	}
}

// createClientConfig builds the HTTP client configuration from the http.* keys
func createClientConfig() (*httpclient.Config, error) {
	headers, err := parseHeaders(viper.GetStringSlice("http.headers"))
	if err != nil {
		return nil, err
	}
	return &httpclient.Config{
		Timeout:         viper.GetDuration("http.timeout"),
		RateLimit:       viper.GetInt("http.rate_limit"),
		UserAgent:       viper.GetString("http.user_agent"),
		MaxBodySize:     viper.GetInt64("http.max_body_size"),
		FollowRedirects: viper.GetBool("http.follow_redirects"),
		VerifySSL:       !viper.GetBool("http.insecure"),
		Headers:         headers,
	}, nil
}

// createPluginOptions builds the plugin options from the bruteforce.*, auth.* and discovery.* keys
func createPluginOptions() *plugins.Options {
	return &plugins.Options{
		Users:          cleanList(viper.GetStringSlice("bruteforce.users")),
		Passwords:      cleanList(viper.GetStringSlice("bruteforce.passwords")),
		LoginURL:       viper.GetString("auth.login_url"),
		Username:       viper.GetString("auth.username"),
		Password:       viper.GetString("auth.password"),
		UserField:      viper.GetString("auth.user_field"),
		PasswordField:  viper.GetString("auth.password_field"),
		CheckURL:       viper.GetString("auth.check_url"),
		CheckString:    viper.GetString("auth.check_string"),
		BrowserTimeout: viper.GetDuration("discovery.browser_timeout"),
	}
}

// parseHeaders turns "Name: value" entries into a header map
func parseHeaders(entries []string) (map[string]string, error) {
	headers := make(map[string]string, len(entries))
	for _, entry := range entries {
		name, value, ok := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, expected \"Name: value\"", entry)
		}
		headers[name] = strings.TrimSpace(value)
	}
	return headers, nil
}

// cleanList trims entries and drops empty ones
func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// selectionMap lists the enabled plugins by phase name for logging
func selectionMap(s core.PluginSelection) map[string][]string {
	return map[string][]string{
		string(core.PhaseDiscovery):  s.Discovery,
		string(core.PhaseBruteforce): s.Bruteforce,
		string(core.PhaseAudit):      s.Audit,
		string(core.PhaseAuth):       s.Auth,
		string(core.PhaseGrep):       s.Grep,
	}
}
