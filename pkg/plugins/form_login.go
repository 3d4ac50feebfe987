/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: form_login.go
Description: Form login auth plugin. Checks the session by looking for a marker string on a
page that is only shown to logged in users and submits the login form when it is missing.
Session cookies are kept by the shared HTTP client.
*/

package plugins

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/kleascm/akaylee-scanner/pkg/interfaces"
	"github.com/kleascm/akaylee-scanner/pkg/request"
	"github.com/sirupsen/logrus"
)

// FormLoginConfig configures the login form and the session check
type FormLoginConfig struct {
	LoginURL      string `json:"login_url"`      // Form action
	Username      string `json:"username"`       // Submitted user
	Password      string `json:"password"`       // Submitted password
	UserField     string `json:"user_field"`     // Form field holding the user
	PasswordField string `json:"password_field"` // Form field holding the password
	CheckURL      string `json:"check_url"`      // Page fetched to check the session
	CheckString   string `json:"check_string"`   // Present on CheckURL while logged in
}

// FormLogin keeps a form based session alive
type FormLogin struct {
	client interfaces.HTTPClient
	config FormLoginConfig
	logger *logrus.Logger

	attempts atomic.Int64
}

// NewFormLogin creates the plugin
func NewFormLogin(client interfaces.HTTPClient, config FormLoginConfig, logger *logrus.Logger) (*FormLogin, error) {
	if config.LoginURL == "" || config.CheckURL == "" || config.CheckString == "" {
		return nil, errors.New("form_login needs login_url, check_url and check_string")
	}
	if _, err := url.ParseRequestURI(config.LoginURL); err != nil {
		return nil, fmt.Errorf("invalid login_url: %w", err)
	}
	if config.UserField == "" {
		config.UserField = "username"
	}
	if config.PasswordField == "" {
		config.PasswordField = "password"
	}
	return &FormLogin{client: client, config: config, logger: logger}, nil
}

func (f *FormLogin) Name() string { return "form_login" }

func (f *FormLogin) Description() string {
	return "Keeps a session alive by submitting a login form"
}

// IsLogged fetches the check page and looks for the marker
func (f *FormLogin) IsLogged(ctx context.Context) (bool, error) {
	resp, err := f.client.GET(ctx, f.config.CheckURL, false)
	if err != nil {
		return false, err
	}
	return strings.Contains(string(resp.Body), f.config.CheckString), nil
}

// Login submits the form and verifies the session
func (f *FormLogin) Login(ctx context.Context) error {
	f.attempts.Add(1)
	fr, err := request.New(http.MethodPost, f.config.LoginURL, url.Values{
		f.config.UserField:     {f.config.Username},
		f.config.PasswordField: {f.config.Password},
	})
	if err != nil {
		return err
	}
	resp, err := f.client.Send(ctx, fr)
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("login rejected with status %d", resp.StatusCode)
	}

	logged, err := f.IsLogged(ctx)
	if err != nil {
		return err
	}
	if !logged {
		return fmt.Errorf("login as %q did not create a session", f.config.Username)
	}
	f.logger.WithFields(logrus.Fields{
		"plugin": f.Name(),
		"url":    f.config.LoginURL,
		"user":   f.config.Username,
	}).Info("Logged in")
	return nil
}

// Attempts returns the number of logins tried
func (f *FormLogin) Attempts() int64 {
	return f.attempts.Load()
}

// End has nothing to release
func (f *FormLogin) End() error { return nil }
