package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/onnwee/dropwatch/chat"
	"github.com/onnwee/dropwatch/monitor"
	"github.com/onnwee/dropwatch/telemetry"
)

const maxBodyBytes = 1 << 16

type addSessionRequest struct {
	Platform string `json:"platform"`
	URL      string `json:"url"`
	VideoID  string `json:"video_id"`
	Channel  string `json:"channel"`
}

// HandleAdminAddSession starts watching a chat the trackers have not found.
// YouTube streams are given as a watch/share/live URL or a bare video id;
// Twitch streams by channel login.
func (h *Handlers) HandleAdminAddSession(w http.ResponseWriter, r *http.Request) {
	var req addSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var platform chat.Platform
	var sourceID string
	switch strings.ToLower(strings.TrimSpace(req.Platform)) {
	case "", string(chat.PlatformYouTube):
		platform = chat.PlatformYouTube
		in := req.VideoID
		if in == "" {
			in = req.URL
		}
		id, ok := parseYouTubeVideoID(in)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid YouTube URL or video id")
			return
		}
		sourceID = id
	case string(chat.PlatformTwitch):
		platform = chat.PlatformTwitch
		sourceID = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(req.Channel), "#"))
		if sourceID == "" {
			writeError(w, http.StatusBadRequest, "channel is required for twitch")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown platform")
		return
	}

	log := telemetry.LoggerWithCorr(r.Context()).With(slog.String("component", "http"))
	if err := h.Monitor.AddSession(r.Context(), platform, sourceID); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, monitor.ErrNotRunning) {
			status = http.StatusServiceUnavailable
		}
		log.Warn("manual session add failed", slog.String("platform", string(platform)), slog.String("source_id", sourceID), slog.Any("err", err))
		writeError(w, status, err.Error())
		return
	}
	log.Info("manual session added", slog.String("platform", string(platform)), slog.String("source_id", sourceID))
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "accepted",
		"platform":  string(platform),
		"source_id": sourceID,
	})
}

// HandleAdminAddLink tracks a campaign page by hand and schedules a scrape.
func (h *Handlers) HandleAdminAddLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	added := h.Catalog.AddPage(req.URL)
	if added {
		h.Monitor.Trigger("manual link")
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": added, "pages": len(h.Catalog.Pages())})
}

// HandleAdminResend delivers every product tracked today again.
func (h *Handlers) HandleAdminResend(w http.ResponseWriter, r *http.Request) {
	n, err := h.Monitor.Resend(r.Context())
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Warn("resend had failures", slog.Int("products", n), slog.Any("err", err))
		writeJSON(w, http.StatusBadGateway, map[string]any{"status": "partial", "products": n, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "products": n})
}

// HandleAdminResume clears an authentication halt.
func (h *Handlers) HandleAdminResume(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"resumed": h.Monitor.Resume()})
}

// HandleAdminSubscribersList returns the Telegram chats that receive alerts.
func (h *Handlers) HandleAdminSubscribersList(w http.ResponseWriter, r *http.Request) {
	if h.Subscribers == nil {
		writeError(w, http.StatusServiceUnavailable, "subscriber storage not configured")
		return
	}
	ids, err := h.Subscribers.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(ids), "subscribers": ids})
}

// HandleAdminSubscriberAdd subscribes {"chat_id": n}.
func (h *Handlers) HandleAdminSubscriberAdd(w http.ResponseWriter, r *http.Request) {
	if h.Subscribers == nil {
		writeError(w, http.StatusServiceUnavailable, "subscriber storage not configured")
		return
	}
	var req struct {
		ChatID *int64 `json:"chat_id"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil || req.ChatID == nil {
		writeError(w, http.StatusBadRequest, "chat_id is required")
		return
	}
	added, err := h.Subscribers.Add(r.Context(), *req.ChatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"chat_id": *req.ChatID, "added": added})
}

// HandleAdminSubscriberRemove unsubscribes the chat id in the path.
func (h *Handlers) HandleAdminSubscriberRemove(w http.ResponseWriter, r *http.Request) {
	if h.Subscribers == nil {
		writeError(w, http.StatusServiceUnavailable, "subscriber storage not configured")
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chat id")
		return
	}
	removed, err := h.Subscribers.Remove(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "not subscribed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat_id": id, "removed": true})
}
