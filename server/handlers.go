// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/dropwatch/catalog"
	"github.com/onnwee/dropwatch/chat"
	"github.com/onnwee/dropwatch/config"
	"github.com/onnwee/dropwatch/monitor"
	"github.com/onnwee/dropwatch/oauth"
	"github.com/onnwee/dropwatch/storage"
	"github.com/onnwee/dropwatch/youtubeapi"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
	stateTTL       = 10 * time.Minute
)

// Monitor is the part of *monitor.Orchestrator the API drives.
type Monitor interface {
	Status() monitor.Status
	Running() bool
	AddSession(ctx context.Context, p chat.Platform, sourceID string) error
	Resend(ctx context.Context) (int, error)
	Resume() bool
	Trigger(reason string)
}

// Catalog is the read side of the product catalog plus manual page adds.
type Catalog interface {
	Pages() []string
	All() map[string]catalog.Product
	AddPage(url string) bool
	CurrentDate() string
}

// Deps are the collaborators the handlers need. Subscribers, Tokens,
// YouTube and DB are optional; endpoints depending on a missing one answer
// 503.
type Deps struct {
	Config      *config.Config
	Monitor     Monitor
	Catalog     Catalog
	Subscribers storage.Subscribers
	Tokens      oauth.TokenStore
	YouTube     *youtubeapi.Service
	DB          *sql.DB
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	Deps
	stateStore map[string]time.Time
	stateMu    sync.Mutex
	now        func() time.Time
}

func NewHandlers(deps Deps) *Handlers {
	if deps.Config == nil {
		deps.Config = &config.Config{}
	}
	return &Handlers{
		Deps:       deps,
		stateStore: make(map[string]time.Time),
		now:        time.Now,
	}
}

// cleanExpiredStates must be called with stateMu held.
func (h *Handlers) cleanExpiredStates() {
	now := h.now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState records state until expiry. It reports false when the store
// is full, which fails that OAuth attempt instead of growing without bound.
func (h *Handlers) addOAuthState(state string, expiry time.Time) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	if len(h.stateStore) >= maxOAuthStates {
		return false
	}
	h.stateStore[state] = expiry
	return true
}

// consumeOAuthState reports whether state was issued and unexpired. A state
// is usable once.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	exp, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return !h.now().After(exp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
