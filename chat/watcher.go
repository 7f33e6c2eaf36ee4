package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/onnwee/dropwatch/linkmatch"
	"github.com/onnwee/dropwatch/telemetry"
)

// Message is one chat line.
type Message struct {
	Author string
	Text   string
}

// Batch is what one poll returned. Cursor is passed to the next poll;
// RetryAfter, when set, is the minimum wait the platform asked for.
type Batch struct {
	Messages   []Message
	Cursor     string
	RetryAfter time.Duration
}

// Source opens chat connections for a platform.
type Source interface {
	Open(ctx context.Context, sourceID string) (Conn, error)
}

// Conn is an open chat session. Poll returns messages since cursor in
// arrival order; it fails with *InvalidSessionError once the session can no
// longer be read, and with ErrDisconnected when the connection dropped and
// should be reopened.
type Conn interface {
	Poll(ctx context.Context, cursor string) (Batch, error)
	Close() error
}

// ErrDisconnected signals a lost connection worth reopening.
var ErrDisconnected = errors.New("chat connection lost")

// InvalidSessionError means the broadcast ended or the id is unknown.
type InvalidSessionError struct {
	SourceID string
	Err      error
}

func (e *InvalidSessionError) Error() string {
	return fmt.Sprintf("chat session %s invalid: %v", e.SourceID, e.Err)
}

func (e *InvalidSessionError) Unwrap() error { return e.Err }

type State int32

const (
	StateStarting State = iota
	StateActive
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "STARTING"
	case StateActive:
		return "ACTIVE"
	case StateStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// WatcherConfig controls cadence and link detection.
type WatcherConfig struct {
	Matcher *linkmatch.Matcher
	// ActiveInterval is the wait between polls while chat is busy.
	ActiveInterval time.Duration
	// InactiveInterval is used once no message arrived for InactiveThreshold.
	InactiveInterval  time.Duration
	InactiveThreshold time.Duration
	// SeenCapacity bounds the per-day seen-link set.
	SeenCapacity int
	// Today returns the current day key; seen links reset when it changes.
	Today func() string
	Now   func() time.Time
}

func (c *WatcherConfig) defaults() {
	if c.ActiveInterval <= 0 {
		c.ActiveInterval = 5 * time.Second
	}
	if c.InactiveInterval <= 0 {
		c.InactiveInterval = 30 * time.Second
	}
	if c.InactiveThreshold <= 0 {
		c.InactiveThreshold = 2 * time.Minute
	}
	if c.SeenCapacity <= 0 {
		c.SeenCapacity = 1024
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Today == nil {
		now := c.Now
		c.Today = func() string { return now().Format("2006-01-02") }
	}
}

// Watcher follows the chat of one live session.
type Watcher struct {
	platform Platform
	sourceID string
	src      Source
	cfg      WatcherConfig

	state atomic.Int32

	mu           sync.Mutex
	lastActivity time.Time
	seen         *lru.Cache[string, struct{}]
	seenDay      string
}

func NewWatcher(platform Platform, sourceID string, src Source, cfg WatcherConfig) *Watcher {
	cfg.defaults()
	seen, _ := lru.New[string, struct{}](cfg.SeenCapacity)
	w := &Watcher{platform: platform, sourceID: sourceID, src: src, cfg: cfg, seen: seen}
	w.state.Store(int32(StateStarting))
	return w
}

func (w *Watcher) Platform() Platform { return w.platform }
func (w *Watcher) SourceID() string   { return w.sourceID }
func (w *Watcher) State() State       { return State(w.state.Load()) }

func (w *Watcher) LastActivity() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActivity
}

func (w *Watcher) log() *slog.Logger {
	return slog.With(slog.String("component", "chat"), slog.String("platform", string(w.platform)), slog.String("source_id", w.sourceID))
}

// Run polls until ctx is cancelled (nil) or the session turns invalid
// (*InvalidSessionError, after emitting SessionInvalid). Other poll errors are
// logged and retried on the normal cadence.
func (w *Watcher) Run(ctx context.Context, out chan<- Event) error {
	log := w.log()
	defer w.state.Store(int32(StateStopping))

	w.mu.Lock()
	w.lastActivity = w.cfg.Now()
	w.mu.Unlock()

	var conn Conn
	defer func() {
		if conn != nil {
			if err := conn.Close(); err != nil {
				log.Debug("chat close", slog.Any("err", err))
			}
		}
	}()

	cursor := ""
	for {
		if conn == nil {
			c, err := w.src.Open(ctx, w.sourceID)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if w.invalid(ctx, out, err) {
					return err
				}
				log.Warn("chat open failed; retrying", slog.Any("err", err))
				if !sleep(ctx, w.cfg.InactiveInterval) {
					return nil
				}
				continue
			}
			conn = c
			cursor = ""
			w.state.Store(int32(StateActive))
			log.Info("chat watcher active")
		}

		batch, err := conn.Poll(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if w.invalid(ctx, out, err) {
				return err
			}
			if errors.Is(err, ErrDisconnected) {
				log.Warn("chat disconnected; reopening", slog.Any("err", err))
				_ = conn.Close()
				conn = nil
			} else {
				log.Warn("chat poll failed", slog.Any("err", err))
			}
			if !sleep(ctx, w.cfg.InactiveInterval) {
				return nil
			}
			continue
		}
		cursor = batch.Cursor
		if !w.handle(ctx, out, batch.Messages) {
			return nil
		}
		if !sleep(ctx, w.nextDelay(batch.RetryAfter)) {
			return nil
		}
	}
}

// invalid emits SessionInvalid when err says the session is gone.
func (w *Watcher) invalid(ctx context.Context, out chan<- Event, err error) bool {
	var ise *InvalidSessionError
	if !errors.As(err, &ise) {
		return false
	}
	w.state.Store(int32(StateStopping))
	w.log().Warn("chat session invalid; stopping", slog.Any("err", err))
	emit(ctx, out, Event{Kind: SessionInvalid, Platform: w.platform, SourceID: w.sourceID, At: w.cfg.Now(), Err: err})
	return true
}

// handle scans messages in arrival order. Every match is emitted; Repost
// marks links already seen today.
func (w *Watcher) handle(ctx context.Context, out chan<- Event, msgs []Message) bool {
	if len(msgs) == 0 {
		return true
	}
	now := w.cfg.Now()
	w.mu.Lock()
	w.lastActivity = now
	w.mu.Unlock()

	for _, m := range msgs {
		for _, link := range w.cfg.Matcher.Extract(m.Text) {
			repost := w.markSeen(link)
			telemetry.RecordLink(string(w.platform), repost)
			w.log().Info("campaign link observed", slog.String("link", link), slog.String("author", m.Author), slog.Bool("repost", repost))
			ev := Event{Kind: LinkObserved, Platform: w.platform, SourceID: w.sourceID, Link: link, Repost: repost, At: now}
			if !emit(ctx, out, ev) {
				return false
			}
		}
	}
	return true
}

// markSeen records link for today and reports whether it was already there.
func (w *Watcher) markSeen(link string) bool {
	day := w.cfg.Today()
	w.mu.Lock()
	defer w.mu.Unlock()
	if day != w.seenDay {
		w.seen.Purge()
		w.seenDay = day
	}
	found, _ := w.seen.ContainsOrAdd(link, struct{}{})
	return found
}

func (w *Watcher) nextDelay(retryAfter time.Duration) time.Duration {
	d := w.cfg.ActiveInterval
	if w.cfg.Now().Sub(w.LastActivity()) > w.cfg.InactiveThreshold {
		d = w.cfg.InactiveInterval
	}
	if retryAfter > d {
		d = retryAfter
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
