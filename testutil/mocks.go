package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// MockTwitchServer serves the Helix streams endpoint and the OAuth token
// endpoint. Point HelixClient.BaseURL and TokenSource.TokenURL at it.
type MockTwitchServer struct {
	*httptest.Server

	mu       sync.Mutex
	live     map[string]bool
	handlers map[string]http.HandlerFunc
}

func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{live: make(map[string]bool), handlers: make(map[string]http.HandlerFunc)}
	m.handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"access_token": "app-token", "expires_in": 3600, "token_type": "bearer"})
	}
	m.handlers["/helix/streams"] = m.streams
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		h, ok := m.handlers[r.URL.Path]
		m.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h(w, r)
	}))
	t.Cleanup(m.Close)
	return m
}

// TokenURL is the mock OAuth token endpoint.
func (m *MockTwitchServer) TokenURL() string { return m.URL + "/oauth2/token" }

// SetLive flips whether login is currently streaming.
func (m *MockTwitchServer) SetLive(login string, live bool) {
	m.mu.Lock()
	m.live[strings.ToLower(login)] = live
	m.mu.Unlock()
}

// Handle overrides the handler for path.
func (m *MockTwitchServer) Handle(path string, h http.HandlerFunc) {
	m.mu.Lock()
	m.handlers[path] = h
	m.mu.Unlock()
}

func (m *MockTwitchServer) streams(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer app-token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	login := strings.ToLower(r.URL.Query().Get("user_login"))
	m.mu.Lock()
	live := m.live[login]
	m.mu.Unlock()
	data := []map[string]any{}
	if live {
		data = append(data, map[string]any{
			"id": "stream-" + login, "user_login": login, "type": "live",
			"title": "drops", "started_at": "2026-03-01T18:00:00Z",
		})
	}
	writeJSON(w, map[string]any{"data": data})
}

// MockShop is a storefront with the login endpoint and campaign pages.
type MockShop struct {
	*httptest.Server

	mu     sync.Mutex
	pages  map[string]string
	logins int
	// RejectLogin makes the login endpoint answer 401.
	RejectLogin bool
}

func NewMockShop(t *testing.T) *MockShop {
	t.Helper()
	s := &MockShop{pages: make(map[string]string)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/user/login", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.logins++
		reject := s.RejectLogin
		s.mu.Unlock()
		if reject {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "ok", Path: "/"})
		writeJSON(w, map[string]any{})
	})
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err != nil || c.Value != "ok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.mu.Lock()
		body, ok := s.pages[r.URL.Path]
		s.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// SetPage serves html at path.
func (s *MockShop) SetPage(path, html string) {
	s.mu.Lock()
	s.pages[path] = html
	s.mu.Unlock()
}

func (s *MockShop) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// CampaignItem renders one product in the storefront's primary listing markup.
// Empty prices are omitted.
func CampaignItem(id, name, oldPrice, newPrice string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<li data-test-id="search_product_%s"><a href="/produkt/%s"><h3 class="h1x">%s</h3></a><img src="/img/%s.jpg">`, id, id, name, id)
	if oldPrice != "" {
		fmt.Fprintf(&b, `<s role="deletion">%s</s>`, oldPrice)
	}
	if newPrice != "" {
		fmt.Fprintf(&b, `<span data-test-is-discounted-price="true">%s</span>`, newPrice)
	}
	b.WriteString(`<svg fill="green"></svg></li>`)
	return b.String()
}

// CampaignPage wraps items in a listing document.
func CampaignPage(items ...string) string {
	return "<html><body><ul>" + strings.Join(items, "") + "</ul></body></html>"
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}
