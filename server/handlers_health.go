package server

import (
	"errors"
	"net/http"
)

// HandleHealthz is the liveness probe; the process answering is enough.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz reports ready once the monitor loop runs and, when a database
// is configured, it answers a ping.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"monitor", func() error {
			if h.Monitor == nil || !h.Monitor.Running() {
				return errors.New("monitor not running")
			}
			return nil
		}},
		{"scraping", func() error {
			if st := h.Monitor.Status(); st.Halted {
				return errors.New("scraping halted: " + st.HaltReason)
			}
			return nil
		}},
		{"database", func() error {
			if h.DB == nil {
				return nil
			}
			return h.DB.PingContext(r.Context())
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
