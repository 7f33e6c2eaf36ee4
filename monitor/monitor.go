// Package monitor wires liveness trackers, chat watchers and the product
// catalog together. One event loop owns the chat sessions; one worker runs
// catalog scrapes so at most one is in flight, and triggers that arrive
// while it runs collapse into a single follow-up scrape.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/dropwatch/catalog"
	"github.com/onnwee/dropwatch/chat"
	"github.com/onnwee/dropwatch/telemetry"
)

// Catalog is the subset of *catalog.Catalog the orchestrator drives.
type Catalog interface {
	AddPage(url string) bool
	HasPages() bool
	Pages() []string
	All() map[string]catalog.Product
	Count() int
	CurrentDate() string
	Today() string
	Scrape(ctx context.Context) (map[string]catalog.Product, error)
}

// Sink receives newly discovered products.
type Sink interface {
	Send(ctx context.Context, products map[string]catalog.Product) error
}

// ErrNotRunning is returned by AddSession before Run starts or after it ends.
var ErrNotRunning = errors.New("orchestrator not running")

type Config struct {
	// ScrapeInterval is the periodic re-scrape cadence while pages are tracked.
	ScrapeInterval time.Duration
	// ShutdownGrace bounds how long Run waits for an in-flight scrape.
	ShutdownGrace time.Duration
	// Sources open chat connections per platform.
	Sources map[chat.Platform]chat.Source
	// Watcher is the template for every chat watcher. Today defaults to the
	// catalog's day.
	Watcher chat.WatcherConfig
}

type session struct {
	id        uuid.UUID
	watcher   *chat.Watcher
	cancel    context.CancelFunc
	startedAt time.Time
}

type sessionExit struct {
	id  uuid.UUID
	err error
}

// Orchestrator consumes chat events and schedules scrapes.
type Orchestrator struct {
	catalog  Catalog
	sink     Sink
	trackers []*chat.Tracker
	cfg      Config

	events  chan chat.Event
	exits   chan sessionExit
	trigger chan struct{}
	running chan struct{}
	stopped chan struct{}
	wg      sync.WaitGroup

	mu         sync.RWMutex
	sessions   map[uuid.UUID]*session
	halted     bool
	haltErr    error
	lastScrape time.Time
	lastNew    int
	scrapes    int
}

func New(cat Catalog, sink Sink, cfg Config, trackers ...*chat.Tracker) *Orchestrator {
	if cfg.ScrapeInterval <= 0 {
		cfg.ScrapeInterval = 2 * time.Minute
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 10 * time.Second
	}
	if cfg.Watcher.Today == nil {
		cfg.Watcher.Today = cat.Today
	}
	return &Orchestrator{
		catalog:  cat,
		sink:     sink,
		trackers: trackers,
		cfg:      cfg,
		events:   make(chan chat.Event, 64),
		exits:    make(chan sessionExit, 8),
		trigger:  make(chan struct{}, 1),
		running:  make(chan struct{}),
		stopped:  make(chan struct{}),
		sessions: make(map[uuid.UUID]*session),
	}
}

// Trigger requests a scrape. It never blocks; a pending request absorbs it.
func (o *Orchestrator) Trigger(reason string) {
	select {
	case o.trigger <- struct{}{}:
		slog.Debug("scrape requested", slog.String("component", "monitor"), slog.String("reason", reason))
	default:
		slog.Debug("scrape already pending", slog.String("component", "monitor"), slog.String("reason", reason))
	}
}

// Run blocks until ctx is cancelled. On return every tracker and watcher has
// stopped and the in-flight scrape has finished or been cancelled after
// ShutdownGrace.
func (o *Orchestrator) Run(ctx context.Context) error {
	log := slog.With(slog.String("component", "monitor"))
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	scrapeCtx, cancelScrape := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelScrape()
	stopWorker := make(chan struct{})
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		o.worker(scrapeCtx, stopWorker)
	}()

	for _, t := range o.trackers {
		o.wg.Add(1)
		go func(t *chat.Tracker) {
			defer o.wg.Done()
			t.Run(runCtx, o.events)
		}(t)
	}

	ticker := time.NewTicker(o.cfg.ScrapeInterval)
	defer ticker.Stop()
	close(o.running)
	log.Info("monitor started", slog.Int("trackers", len(o.trackers)), slog.Duration("scrape_interval", o.cfg.ScrapeInterval))

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev := <-o.events:
			o.handle(runCtx, ev)
		case ex := <-o.exits:
			o.reap(ex)
		case <-ticker.C:
			if o.catalog.HasPages() {
				o.Trigger("timer")
			}
		}
	}

	log.Info("monitor stopping")
	close(o.stopped)
	cancelRun()
	o.mu.Lock()
	for id, s := range o.sessions {
		s.cancel()
		delete(o.sessions, id)
	}
	o.mu.Unlock()
	telemetry.SetChatSessions(0)
	o.wg.Wait()

	close(stopWorker)
	select {
	case <-workerDone:
	case <-time.After(o.cfg.ShutdownGrace):
		log.Warn("in-flight scrape exceeded shutdown grace; cancelling", slog.Duration("grace", o.cfg.ShutdownGrace))
		cancelScrape()
		<-workerDone
	}
	log.Info("monitor stopped")
	return nil
}

func (o *Orchestrator) handle(ctx context.Context, ev chat.Event) {
	log := slog.With(slog.String("component", "monitor"), slog.String("platform", string(ev.Platform)), slog.String("source_id", ev.SourceID))
	switch ev.Kind {
	case chat.LinkObserved:
		added := o.catalog.AddPage(ev.Link)
		log.Info("campaign link", slog.String("link", ev.Link), slog.Bool("repost", ev.Repost), slog.Bool("new_page", added))
		o.Trigger("link")
	case chat.StreamStarted:
		if o.findSession(ev.Platform, ev.SourceID) != nil {
			log.Debug("session already active")
			break
		}
		if err := o.spawn(ctx, ev.Platform, ev.SourceID); err != nil {
			log.Warn("cannot start chat session", slog.Any("err", err))
			break
		}
		if o.catalog.HasPages() {
			o.Trigger("stream_started")
		}
	case chat.StreamEnded:
		o.mu.Lock()
		for id, s := range o.sessions {
			if s.watcher.Platform() == ev.Platform && s.watcher.SourceID() == ev.SourceID {
				s.cancel()
				delete(o.sessions, id)
				log.Info("chat session ended", slog.String("session", id.String()))
			}
		}
		n := len(o.sessions)
		o.mu.Unlock()
		telemetry.SetChatSessions(n)
	case chat.SessionInvalid:
		log.Warn("chat session invalid", slog.Any("err", ev.Err))
	}
}

func (o *Orchestrator) findSession(p chat.Platform, sourceID string) *session {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, s := range o.sessions {
		if s.watcher.Platform() == p && s.watcher.SourceID() == sourceID {
			return s
		}
	}
	return nil
}

func (o *Orchestrator) spawn(ctx context.Context, p chat.Platform, sourceID string) error {
	src, ok := o.cfg.Sources[p]
	if !ok || src == nil {
		return fmt.Errorf("no chat source for %s", p)
	}
	w := chat.NewWatcher(p, sourceID, src, o.cfg.Watcher)
	wctx, cancel := context.WithCancel(ctx)
	s := &session{id: uuid.New(), watcher: w, cancel: cancel, startedAt: time.Now()}

	o.mu.Lock()
	o.sessions[s.id] = s
	n := len(o.sessions)
	o.mu.Unlock()
	telemetry.SetChatSessions(n)
	slog.Info("chat session started", slog.String("component", "monitor"), slog.String("platform", string(p)),
		slog.String("source_id", sourceID), slog.String("session", s.id.String()))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		err := w.Run(wctx, o.events)
		select {
		case o.exits <- sessionExit{id: s.id, err: err}:
		case <-ctx.Done():
		}
	}()
	return nil
}

// reap removes the session a watcher belonged to. Sessions already removed by
// StreamEnded are ignored, and a newer session for the same source is left
// alone.
func (o *Orchestrator) reap(ex sessionExit) {
	o.mu.Lock()
	s, ok := o.sessions[ex.id]
	if ok {
		s.cancel()
		delete(o.sessions, ex.id)
	}
	n := len(o.sessions)
	o.mu.Unlock()
	if !ok {
		return
	}
	telemetry.SetChatSessions(n)
	slog.Info("chat session removed", slog.String("component", "monitor"), slog.String("platform", string(s.watcher.Platform())),
		slog.String("source_id", s.watcher.SourceID()), slog.String("session", ex.id.String()), slog.Any("err", ex.err))
}

func (o *Orchestrator) worker(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-o.trigger:
		}
		select {
		case <-stop:
			return
		default:
		}
		if o.Halted() {
			slog.Debug("scrape skipped; halted", slog.String("component", "monitor"))
			continue
		}
		o.scrapeOnce(ctx)
	}
}

func (o *Orchestrator) scrapeOnce(ctx context.Context) {
	ctx = telemetry.WithCorrelation(ctx, uuid.NewString())
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "monitor"))
	start := time.Now()

	fresh, err := o.catalog.Scrape(ctx)
	if catalog.IsAuthError(err) {
		log.Warn("scrape auth failed; retrying once", slog.Any("err", err))
		fresh, err = o.catalog.Scrape(ctx)
		if catalog.IsAuthError(err) {
			o.halt(err)
			return
		}
	}
	telemetry.RecordScrapeCycle()
	telemetry.Observe(telemetry.ScrapeDuration, time.Since(start))
	if err != nil {
		log.Warn("scrape aborted", slog.Any("err", err))
		return
	}

	o.mu.Lock()
	o.lastScrape = time.Now()
	o.lastNew = len(fresh)
	o.scrapes++
	o.mu.Unlock()
	log.Info("scrape finished", slog.Int("new_products", len(fresh)), slog.Duration("took", time.Since(start)))

	if len(fresh) == 0 || o.sink == nil {
		return
	}
	if err := o.sink.Send(ctx, fresh); err != nil {
		log.Warn("product delivery incomplete", slog.Int("products", len(fresh)), slog.Any("err", err))
	}
}

func (o *Orchestrator) halt(err error) {
	o.mu.Lock()
	o.halted = true
	o.haltErr = err
	o.mu.Unlock()
	telemetry.UpdateHaltedGauge(true)
	slog.Error("shop login failed twice; scraping halted until resumed", slog.String("component", "monitor"), slog.Any("err", err))
}

// Halted reports whether scraping is paused after repeated login failures.
func (o *Orchestrator) Halted() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.halted
}

// Resume clears a halt and schedules a scrape. It reports whether scraping
// was halted.
func (o *Orchestrator) Resume() bool {
	o.mu.Lock()
	was := o.halted
	o.halted = false
	o.haltErr = nil
	o.mu.Unlock()
	if !was {
		return false
	}
	telemetry.UpdateHaltedGauge(false)
	slog.Info("scraping resumed", slog.String("component", "monitor"))
	o.Trigger("resume")
	return true
}

// AddSession starts watching a chat the trackers did not discover, as if its
// stream had just started.
func (o *Orchestrator) AddSession(ctx context.Context, p chat.Platform, sourceID string) error {
	if sourceID == "" {
		return errors.New("empty source id")
	}
	if _, ok := o.cfg.Sources[p]; !ok {
		return fmt.Errorf("no chat source for %s", p)
	}
	if !o.Running() {
		return ErrNotRunning
	}
	ev := chat.Event{Kind: chat.StreamStarted, Platform: p, SourceID: sourceID, At: time.Now()}
	select {
	case o.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether Run has started and not begun shutting down.
func (o *Orchestrator) Running() bool {
	select {
	case <-o.stopped:
		return false
	default:
	}
	select {
	case <-o.running:
		return true
	default:
		return false
	}
}

// Resend delivers every product tracked today. It returns how many were sent.
func (o *Orchestrator) Resend(ctx context.Context) (int, error) {
	all := o.catalog.All()
	if len(all) == 0 || o.sink == nil {
		return 0, nil
	}
	return len(all), o.sink.Send(ctx, all)
}

// SessionInfo describes one active chat session.
type SessionInfo struct {
	ID           string        `json:"id"`
	Platform     chat.Platform `json:"platform"`
	SourceID     string        `json:"source_id"`
	State        string        `json:"state"`
	StartedAt    time.Time     `json:"started_at"`
	LastActivity time.Time     `json:"last_activity,omitzero"`
}

// Status is the operator report.
type Status struct {
	Trackers      []chat.TrackerStatus `json:"trackers"`
	Sessions      []SessionInfo        `json:"sessions"`
	Pages         []string             `json:"pages"`
	Products      int                  `json:"products"`
	Date          string               `json:"date"`
	Halted        bool                 `json:"halted"`
	HaltReason    string               `json:"halt_reason,omitempty"`
	Scrapes       int                  `json:"scrapes"`
	LastScrape    time.Time            `json:"last_scrape,omitzero"`
	LastScrapeNew int                  `json:"last_scrape_new"`
}

func (o *Orchestrator) Status() Status {
	st := Status{
		Pages:    o.catalog.Pages(),
		Products: o.catalog.Count(),
		Date:     o.catalog.CurrentDate(),
	}
	for _, t := range o.trackers {
		st.Trackers = append(st.Trackers, t.Status())
	}
	o.mu.RLock()
	for _, s := range o.sessions {
		st.Sessions = append(st.Sessions, SessionInfo{
			ID:           s.id.String(),
			Platform:     s.watcher.Platform(),
			SourceID:     s.watcher.SourceID(),
			State:        s.watcher.State().String(),
			StartedAt:    s.startedAt,
			LastActivity: s.watcher.LastActivity(),
		})
	}
	st.Halted = o.halted
	if o.haltErr != nil {
		st.HaltReason = o.haltErr.Error()
	}
	st.Scrapes = o.scrapes
	st.LastScrape = o.lastScrape
	st.LastScrapeNew = o.lastNew
	o.mu.RUnlock()
	sort.Slice(st.Sessions, func(i, j int) bool { return st.Sessions[i].StartedAt.Before(st.Sessions[j].StartedAt) })
	return st
}
