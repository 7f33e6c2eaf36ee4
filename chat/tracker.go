package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/onnwee/dropwatch/telemetry"
)

// LiveProbe reports the id of the current live session, or "" when offline.
// An error means the state is unknown.
type LiveProbe interface {
	LiveID(ctx context.Context) (string, error)
}

// ProbeFunc adapts a function to LiveProbe.
type ProbeFunc func(ctx context.Context) (string, error)

func (f ProbeFunc) LiveID(ctx context.Context) (string, error) { return f(ctx) }

// TrackerStatus is a point-in-time view for status reporting.
type TrackerStatus struct {
	Platform   Platform  `json:"platform"`
	Live       bool      `json:"live"`
	SourceID   string    `json:"source_id,omitempty"`
	LiveSince  time.Time `json:"live_since,omitzero"`
	LastOnline time.Time `json:"last_online,omitzero"`
	LastCheck  time.Time `json:"last_check,omitzero"`
	LastError  string    `json:"last_error,omitempty"`
}

// Tracker polls a LiveProbe on a fixed interval and emits transitions.
type Tracker struct {
	platform Platform
	probe    LiveProbe
	interval time.Duration
	now      func() time.Time

	mu         sync.Mutex
	current    string
	liveSince  time.Time
	lastOnline time.Time
	lastCheck  time.Time
	lastErr    string
}

func NewTracker(platform Platform, probe LiveProbe, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Tracker{platform: platform, probe: probe, interval: interval, now: time.Now}
}

func (t *Tracker) Platform() Platform { return t.platform }

// Run checks immediately, then on every tick, until ctx is done.
func (t *Tracker) Run(ctx context.Context, out chan<- Event) {
	slog.Info("liveness tracker started", slog.String("platform", string(t.platform)), slog.Duration("interval", t.interval))
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		for _, ev := range t.Observe(ctx) {
			if !emit(ctx, out, ev) {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Observe probes once and returns the transitions it caused. A live session
// replaced by another without an offline poll in between yields StreamEnded
// for the old id followed by StreamStarted for the new one.
func (t *Tracker) Observe(ctx context.Context) []Event {
	id, err := t.probe.LiveID(ctx)
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastCheck = now
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("liveness probe failed; state unchanged", slog.String("platform", string(t.platform)), slog.String("source_id", t.current), slog.Any("err", err))
		}
		t.lastErr = err.Error()
		return nil
	}
	t.lastErr = ""
	if id != "" {
		t.lastOnline = now
	}
	if id == t.current {
		return nil
	}

	var events []Event
	if t.current != "" {
		slog.Info("stream went offline", slog.String("platform", string(t.platform)), slog.String("source_id", t.current))
		events = append(events, Event{Kind: StreamEnded, Platform: t.platform, SourceID: t.current, At: now})
		telemetry.RecordTransition(string(t.platform), StreamEnded.String())
		t.liveSince = time.Time{}
	}
	if id != "" {
		slog.Info("stream went live", slog.String("platform", string(t.platform)), slog.String("source_id", id))
		events = append(events, Event{Kind: StreamStarted, Platform: t.platform, SourceID: id, At: now})
		telemetry.RecordTransition(string(t.platform), StreamStarted.String())
		t.liveSince = now
	}
	t.current = id
	telemetry.SetStreamLive(string(t.platform), id != "")
	return events
}

func (t *Tracker) Status() TrackerStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return TrackerStatus{
		Platform:   t.platform,
		Live:       t.current != "",
		SourceID:   t.current,
		LiveSince:  t.liveSince,
		LastOnline: t.lastOnline,
		LastCheck:  t.lastCheck,
		LastError:  t.lastErr,
	}
}
