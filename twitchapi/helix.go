// Package twitchapi contains minimal helpers for the Twitch Helix API: an app
// access token source, a stream lookup used for liveness, and the user OAuth
// code/refresh grants the chat bot token comes from.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultHelixURL is the Helix API root.
const DefaultHelixURL = "https://api.twitch.tv"

// HelixClient provides the Helix calls needed for live detection.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	// BaseURL overrides DefaultHelixURL.
	BaseURL string
	// MaxAttempts bounds retries on 429/5xx (default 3).
	MaxAttempts int
	// RetryBackoff is the base delay between attempts (default 500ms).
	RetryBackoff time.Duration
}

// Stream is a live broadcast as reported by /helix/streams.
type Stream struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	UserLogin string    `json:"user_login"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	StartedAt time.Time `json:"started_at"`
}

// StatusError is a non-2xx Helix response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("helix: status %d: %s", e.Status, e.Body)
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return strings.TrimRight(hc.BaseURL, "/")
	}
	return DefaultHelixURL
}

// GetStreams returns the live streams of login; an empty slice means offline.
func (hc *HelixClient) GetStreams(ctx context.Context, login string) ([]Stream, error) {
	if login == "" {
		return nil, errors.New("login empty")
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.get(ctx, "/helix/streams?user_login="+url.QueryEscape(login), &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// get performs an authenticated GET. A 401 drops the cached app token and is
// retried once with a new one; 429 and 5xx are retried with linear backoff.
func (hc *HelixClient) get(ctx context.Context, path string, out any) error {
	if hc.AppTokenSource == nil {
		return errors.New("helix client has no token source")
	}
	attempts := hc.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := hc.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	refreshed := false
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		tok, err := hc.AppTokenSource.Get(ctx)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.baseURL()+path, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := hc.http().Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusOK {
			err = json.NewDecoder(resp.Body).Decode(out)
			closeBody(resp)
			return err
		}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		closeBody(resp)
		lastErr = &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}

		switch {
		case resp.StatusCode == http.StatusUnauthorized && !refreshed:
			slog.Debug("helix token rejected; refreshing", slog.String("path", path))
			hc.AppTokenSource.Invalidate()
			refreshed = true
			attempt--
			continue
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			if attempt == attempts {
				return lastErr
			}
			slog.Warn("helix request retrying", slog.String("path", path), slog.Int("status", resp.StatusCode), slog.Int("attempt", attempt))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * backoff):
			}
		default:
			return lastErr
		}
	}
	return lastErr
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}

// LiveProbe reports whether one channel is live. Chat is per channel, so the
// channel login is the session id.
type LiveProbe struct {
	Client *HelixClient
	Login  string
}

// LiveID returns the channel login while it is live, or "" when offline.
func (p *LiveProbe) LiveID(ctx context.Context) (string, error) {
	streams, err := p.Client.GetStreams(ctx, p.Login)
	if err != nil {
		return "", err
	}
	for _, s := range streams {
		if s.Type == "" || s.Type == "live" {
			return p.Login, nil
		}
	}
	return "", nil
}
