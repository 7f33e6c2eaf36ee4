// Package shop implements the authenticated storefront session campaign pages
// are fetched through. Login posts JSON credentials and keeps the returned
// cookies; Reauthenticate replaces the whole client so a stale cookie jar is
// never reused.
package shop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/onnwee/dropwatch/catalog"
)

// DefaultUserAgent mimics a desktop browser; the storefront rejects bare clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// ErrNotAuthenticated is returned by Fetch before the first successful login.
var ErrNotAuthenticated = errors.New("shop session not authenticated")

type Config struct {
	BaseURL   string
	Email     string
	Password  string
	UserAgent string
	Timeout   time.Duration
	// Transport overrides the HTTP transport (tests).
	Transport http.RoundTripper
}

// Session satisfies catalog.Session.
type Session struct {
	cfg Config

	mu     sync.RWMutex
	client *resty.Client
}

func New(cfg Config) *Session {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Session{cfg: cfg}
}

func (s *Session) newClient() *resty.Client {
	c := resty.New().
		SetTimeout(s.cfg.Timeout).
		SetHeader("User-Agent", s.cfg.UserAgent)
	if jar, err := cookiejar.New(nil); err == nil {
		c.SetCookieJar(jar)
	}
	if s.cfg.Transport != nil {
		c.SetTransport(s.cfg.Transport)
	}
	return c
}

type loginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	IsPersistent bool   `json:"isPersistent"`
}

// Reauthenticate logs in on a fresh client and swaps it in on success.
func (s *Session) Reauthenticate(ctx context.Context) error {
	if s.cfg.Email == "" || s.cfg.Password == "" {
		return &catalog.AuthError{Err: errors.New("missing shop email/password")}
	}
	c := s.newClient()
	resp, err := c.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(loginRequest{Email: s.cfg.Email, Password: s.cfg.Password, IsPersistent: true}).
		Post(s.cfg.BaseURL + "/api/user/login")
	if err != nil {
		return &catalog.AuthError{Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		slog.Warn("shop login rejected", slog.Int("status", resp.StatusCode()), slog.String("body", snippet(resp.Body())))
		return &catalog.AuthError{Status: resp.StatusCode()}
	}

	s.mu.Lock()
	s.client = c
	s.mu.Unlock()
	slog.Info("shop login successful", slog.String("component", "shop"))
	return nil
}

// Fetch GETs url with the session cookies and returns the body.
func (s *Session) Fetch(ctx context.Context, url string) (string, error) {
	s.mu.RLock()
	c := s.client
	s.mu.RUnlock()
	if c == nil {
		return "", &catalog.FetchError{URL: url, Err: ErrNotAuthenticated}
	}
	resp, err := c.R().SetContext(ctx).Get(url)
	if err != nil {
		return "", &catalog.FetchError{URL: url, Err: err}
	}
	if !resp.IsSuccess() {
		return "", &catalog.FetchError{URL: url, Status: resp.StatusCode(), Err: fmt.Errorf("%s", snippet(resp.Body()))}
	}
	return resp.String(), nil
}

func snippet(body []byte) string {
	if len(body) > 256 {
		body = body[:256]
	}
	return strings.TrimSpace(string(body))
}
