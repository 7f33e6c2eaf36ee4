package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func tokenServer(t *testing.T, calls *int32, token string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %q", r.PostForm.Get("grant_type"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": token,
			"expires_in":   3600,
			"token_type":   "bearer",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenSource_GetCached(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls, "test-token-123")
	ts := &TokenSource{ClientID: "test-client", ClientSecret: "test-secret", TokenURL: srv.URL}

	ctx := context.Background()
	token1, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token1 != "test-token-123" {
		t.Errorf("Get() = %s, want test-token-123", token1)
	}
	token2, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token2 != token1 {
		t.Errorf("cached token = %s, want %s", token2, token1)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected 1 token request, got %d", n)
	}
}

func TestTokenSource_RefreshesNearExpiry(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls, "new-token")
	ts := &TokenSource{ClientID: "c", ClientSecret: "s", TokenURL: srv.URL}
	ts.SetToken("old-token", time.Now().Add(30*time.Second))

	tok, err := ts.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if tok != "new-token" {
		t.Errorf("Get() = %s, want new-token", tok)
	}
}

func TestTokenSource_Invalidate(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls, "fresh")
	ts := &TokenSource{ClientID: "c", ClientSecret: "s", TokenURL: srv.URL}
	ts.SetToken("cached", time.Now().Add(time.Hour))

	if tok, _ := ts.Get(context.Background()); tok != "cached" {
		t.Fatalf("Get() = %s, want cached", tok)
	}
	ts.Invalidate()
	if tok, _ := ts.Get(context.Background()); tok != "fresh" {
		t.Fatalf("Get() after Invalidate = %s, want fresh", tok)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected 1 token request, got %d", n)
	}
}

func TestTokenSource_GetMissingCredentials(t *testing.T) {
	ts := &TokenSource{}
	_, err := ts.Get(context.Background())
	if err == nil || !strings.Contains(err.Error(), "missing client id/secret") {
		t.Errorf("Get() error = %v, want error about missing credentials", err)
	}
}

func TestTokenSource_GetServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer srv.Close()

	ts := &TokenSource{ClientID: "bad-client", ClientSecret: "bad-secret", TokenURL: srv.URL}
	_, err := ts.Get(context.Background())
	if err == nil || !strings.Contains(err.Error(), "invalid_client") {
		t.Errorf("Get() error = %v, want server error body", err)
	}
}

func TestTokenSource_GetEmptyToken(t *testing.T) {
	var calls int32
	srv := tokenServer(t, &calls, "")
	ts := &TokenSource{ClientID: "c", ClientSecret: "s", TokenURL: srv.URL}

	_, err := ts.Get(context.Background())
	if err == nil || !strings.Contains(err.Error(), "empty access_token") {
		t.Errorf("Get() error = %v, want error about empty access_token", err)
	}
}

func TestTokenSource_ConcurrentAccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "test-token", "expires_in": 3600})
	}))
	defer srv.Close()
	ts := &TokenSource{ClientID: "c", ClientSecret: "s", TokenURL: srv.URL}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tok, err := ts.Get(context.Background()); err != nil || tok != "test-token" {
				t.Errorf("Get() = %q, %v", tok, err)
			}
		}()
	}
	wg.Wait()
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("expected 1 token request under concurrency, got %d", n)
	}
}
