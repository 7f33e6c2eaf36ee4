// Package oauth keeps persisted user tokens fresh. A Refresher wakes on a
// jittered interval and refreshes a provider's token once its remaining
// lifetime falls inside a window.
package oauth

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/dropwatch/db"
)

// TokenStore is where tokens live between refreshes. *db.Store implements it.
type TokenStore interface {
	GetToken(ctx context.Context, provider string) (db.Token, error)
	UpsertToken(ctx context.Context, t db.Token) error
}

// RefreshFunc exchanges a refresh token for a new token. An empty
// RefreshToken or Scope in the result keeps the previous value.
type RefreshFunc func(ctx context.Context, refreshToken string) (db.Token, error)

// Refresher refreshes one provider's token.
type Refresher struct {
	Store    TokenStore
	Provider string
	Refresh  RefreshFunc
	// Interval between checks; default 5m.
	Interval time.Duration
	// Window is how close to expiry a token must be to refresh; default 15m.
	Window time.Duration
	// OnRefresh, if set, is called with every newly stored token.
	OnRefresh func(db.Token)

	now func() time.Time
}

func (r *Refresher) defaults() {
	if r.Interval <= 0 {
		r.Interval = 5 * time.Minute
	}
	if r.Window <= 0 {
		r.Window = 15 * time.Minute
	}
	if r.now == nil {
		r.now = time.Now
	}
}

// Check refreshes the token if it is inside the window. It reports whether a
// refresh happened. A missing token or one without a refresh token is
// skipped.
func (r *Refresher) Check(ctx context.Context) (bool, error) {
	r.defaults()
	cur, err := r.Store.GetToken(ctx, r.Provider)
	if err != nil {
		return false, err
	}
	if cur.RefreshToken == "" {
		return false, nil
	}
	if !cur.Expiry.IsZero() && cur.Expiry.Sub(r.now()) > r.Window {
		return false, nil
	}

	rctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	next, err := r.Refresh(rctx, cur.RefreshToken)
	cancel()
	if err != nil {
		return false, err
	}
	if next.AccessToken == "" {
		return false, errors.New("refresh returned empty access token")
	}
	next.Provider = r.Provider
	if next.RefreshToken == "" {
		next.RefreshToken = cur.RefreshToken
	}
	if next.Scope == "" {
		next.Scope = cur.Scope
	}
	next.Scope = strings.TrimSpace(next.Scope)
	if err := r.Store.UpsertToken(ctx, next); err != nil {
		return false, err
	}
	if r.OnRefresh != nil {
		r.OnRefresh(next)
	}
	return true, nil
}

// Run checks once immediately, then on a jittered interval (±20%) until ctx
// ends.
func (r *Refresher) Run(ctx context.Context) {
	r.defaults()
	log := slog.With(slog.String("component", "oauth_refresh"), slog.String("provider", r.Provider))
	for {
		refreshed, err := r.Check(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("token refresh failed", slog.Any("err", err))
		case refreshed:
			log.Info("token refreshed")
		}

		//nolint:gosec // G404: scheduling jitter only
		jitter := time.Duration(rand.Int63n(int64(r.Interval/5)*2+1)) - r.Interval/5
		t := time.NewTimer(r.Interval + jitter)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// MemoryStore is a TokenStore for deployments without a database.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]db.Token
}

func NewMemoryStore(seed ...db.Token) *MemoryStore {
	m := &MemoryStore{tokens: make(map[string]db.Token)}
	for _, t := range seed {
		m.tokens[t.Provider] = t
	}
	return m
}

func (m *MemoryStore) GetToken(_ context.Context, provider string) (db.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[provider]
	if !ok {
		return db.Token{Provider: provider}, nil
	}
	return t, nil
}

func (m *MemoryStore) UpsertToken(_ context.Context, t db.Token) error {
	m.mu.Lock()
	m.tokens[t.Provider] = t
	m.mu.Unlock()
	return nil
}

// UpsertOAuthToken and GetOAuthToken let a MemoryStore back the YouTube client.
func (m *MemoryStore) UpsertOAuthToken(ctx context.Context, provider, access, refresh string, expiry time.Time, raw string) error {
	return m.UpsertToken(ctx, db.Token{Provider: provider, AccessToken: access, RefreshToken: refresh, Expiry: expiry, Scope: raw})
}

func (m *MemoryStore) GetOAuthToken(ctx context.Context, provider string) (string, string, time.Time, string, error) {
	t, err := m.GetToken(ctx, provider)
	return t.AccessToken, t.RefreshToken, t.Expiry, t.Scope, err
}
