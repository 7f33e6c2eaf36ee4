package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/onnwee/dropwatch/db"
	"github.com/onnwee/dropwatch/telemetry"
	"github.com/onnwee/dropwatch/twitchapi"
)

// TwitchProvider is the token store key for the chat bot's user token.
const TwitchProvider = "twitch"

func (h *Handlers) newState(w http.ResponseWriter) (string, bool) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		http.Error(w, "state gen error", http.StatusInternalServerError)
		return "", false
	}
	st := hex.EncodeToString(b)
	if !h.addOAuthState(st, h.now().Add(stateTTL)) {
		http.Error(w, "too many pending authorizations", http.StatusServiceUnavailable)
		return "", false
	}
	return st, true
}

// callbackParams validates code and state and consumes the state.
func (h *Handlers) callbackParams(w http.ResponseWriter, r *http.Request) (string, bool) {
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		http.Error(w, "missing code/state", http.StatusBadRequest)
		return "", false
	}
	if !h.consumeOAuthState(st) {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return "", false
	}
	return code, true
}

// HandleTwitchOAuthStart redirects the bot account to the Twitch consent page.
func (h *Handlers) HandleTwitchOAuthStart(w http.ResponseWriter, r *http.Request) {
	cfg := h.Config
	if cfg.TwitchClientID == "" || cfg.TwitchRedirectURI == "" {
		http.Error(w, "oauth not configured (need TWITCH_CLIENT_ID + TWITCH_REDIRECT_URI)", http.StatusBadRequest)
		return
	}
	st, ok := h.newState(w)
	if !ok {
		return
	}
	authURL, err := twitchapi.BuildAuthorizeURL(cfg.TwitchClientID, cfg.TwitchRedirectURI, cfg.TwitchScopes, st)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchOAuthCallback exchanges the code and stores the chat token.
func (h *Handlers) HandleTwitchOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.Tokens == nil {
		http.Error(w, "token storage not configured", http.StatusServiceUnavailable)
		return
	}
	code, ok := h.callbackParams(w, r)
	if !ok {
		return
	}
	cfg := h.Config
	ctx := r.Context()
	tok, err := twitchapi.ExchangeAuthCode(ctx, cfg.TwitchClientID, cfg.TwitchClientSecret, code, cfg.TwitchRedirectURI)
	if err != nil {
		telemetry.LoggerWithCorr(ctx).Warn("twitch code exchange failed", slog.Any("err", err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	err = h.Tokens.UpsertToken(ctx, db.Token{
		Provider:     TwitchProvider,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Scope:        tok.Scope,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	telemetry.LoggerWithCorr(ctx).Info("twitch token stored", slog.String("scope", tok.Scope))
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "scope": tok.Scope, "expiry": tok.Expiry})
}

// HandleYouTubeOAuthStart redirects to Google consent for YouTube read access.
func (h *Handlers) HandleYouTubeOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.YouTube == nil || h.Config.YTClientID == "" || h.Config.YTRedirectURI == "" {
		http.Error(w, "youtube oauth not configured", http.StatusBadRequest)
		return
	}
	st, ok := h.newState(w)
	if !ok {
		return
	}
	http.Redirect(w, r, h.YouTube.AuthCodeURL(st), http.StatusFound)
}

// HandleYouTubeOAuthCallback exchanges the code; the service persists the token.
func (h *Handlers) HandleYouTubeOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h.YouTube == nil {
		http.Error(w, "youtube oauth not configured", http.StatusBadRequest)
		return
	}
	code, ok := h.callbackParams(w, r)
	if !ok {
		return
	}
	tok, err := h.YouTube.Exchange(r.Context(), code)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("youtube code exchange failed", slog.Any("err", err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                "ok",
		"expiry":                tok.Expiry,
		"access_token_present":  tok.AccessToken != "",
		"refresh_token_present": tok.RefreshToken != "",
	})
}
