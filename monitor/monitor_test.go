package monitor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/dropwatch/catalog"
	"github.com/onnwee/dropwatch/chat"
)

type fakeCatalog struct {
	mu       sync.Mutex
	pages    []string
	products map[string]catalog.Product
	adds     int
	scrapes  atomic.Int32
	scrape   func(ctx context.Context) (map[string]catalog.Product, error)
}

func (f *fakeCatalog) AddPage(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adds++
	for _, p := range f.pages {
		if p == url {
			return false
		}
	}
	f.pages = append(f.pages, url)
	return true
}

func (f *fakeCatalog) HasPages() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pages) > 0
}

func (f *fakeCatalog) Pages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pages...)
}

func (f *fakeCatalog) All() map[string]catalog.Product {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]catalog.Product, len(f.products))
	for k, v := range f.products {
		out[k] = v
	}
	return out
}

func (f *fakeCatalog) Count() int          { return len(f.All()) }
func (f *fakeCatalog) CurrentDate() string { return "2026-03-01" }
func (f *fakeCatalog) Today() string       { return "2026-03-01" }

func (f *fakeCatalog) Scrape(ctx context.Context) (map[string]catalog.Product, error) {
	f.scrapes.Add(1)
	f.mu.Lock()
	fn := f.scrape
	f.mu.Unlock()
	if fn == nil {
		return map[string]catalog.Product{}, nil
	}
	return fn(ctx)
}

func (f *fakeCatalog) setScrape(fn func(ctx context.Context) (map[string]catalog.Product, error)) {
	f.mu.Lock()
	f.scrape = fn
	f.mu.Unlock()
}

type recordSink struct {
	mu      sync.Mutex
	batches []map[string]catalog.Product
}

func (r *recordSink) Send(_ context.Context, products map[string]catalog.Product) error {
	r.mu.Lock()
	r.batches = append(r.batches, products)
	r.mu.Unlock()
	return nil
}

func (r *recordSink) Batches() []map[string]catalog.Product {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]catalog.Product(nil), r.batches...)
}

// feedSource opens connections that return whatever was pushed since the
// last poll. Sources listed in invalid fail to open.
type feedSource struct {
	mu      sync.Mutex
	opens   map[string]int
	invalid map[string]bool
	feed    chan chat.Message
}

func newFeedSource() *feedSource {
	return &feedSource{opens: map[string]int{}, invalid: map[string]bool{}, feed: make(chan chat.Message, 16)}
}

func (s *feedSource) Open(_ context.Context, id string) (chat.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens[id]++
	if s.invalid[id] {
		return nil, &chat.InvalidSessionError{SourceID: id, Err: errors.New("broadcast over")}
	}
	return feedConn{feed: s.feed}, nil
}

func (s *feedSource) Opens(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens[id]
}

type feedConn struct{ feed chan chat.Message }

func (c feedConn) Poll(context.Context, string) (chat.Batch, error) {
	var b chat.Batch
	for {
		select {
		case m := <-c.feed:
			b.Messages = append(b.Messages, m)
		default:
			return b, nil
		}
	}
}

func (feedConn) Close() error { return nil }

func fastWatcher() chat.WatcherConfig {
	return chat.WatcherConfig{ActiveInterval: 5 * time.Millisecond, InactiveInterval: 5 * time.Millisecond, InactiveThreshold: time.Second}
}

func start(t *testing.T, o *Orchestrator) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	<-o.running
	return func() {
		stop()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func wait(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestConcurrentTriggersCoalesceIntoOneFollowUp(t *testing.T) {
	started := make(chan struct{}, 10)
	release := make(chan struct{})
	cat := &fakeCatalog{}
	cat.setScrape(func(context.Context) (map[string]catalog.Product, error) {
		started <- struct{}{}
		<-release
		return nil, nil
	})
	o := New(cat, nil, Config{ScrapeInterval: time.Hour})
	stop := start(t, o)

	o.Trigger("first")
	wait(t, started, "first scrape")
	for i := 0; i < 5; i++ {
		o.Trigger("burst")
	}
	release <- struct{}{}
	wait(t, started, "follow-up scrape")
	release <- struct{}{}

	select {
	case <-started:
		t.Fatal("burst of triggers produced more than one follow-up scrape")
	case <-time.After(100 * time.Millisecond):
	}
	stop()
	if n := cat.scrapes.Load(); n != 2 {
		t.Errorf("scrapes = %d, want 2", n)
	}
}

func TestLinkTriggersScrapeForRepostsToo(t *testing.T) {
	cat := &fakeCatalog{}
	o := New(cat, nil, Config{})
	ev := chat.Event{Kind: chat.LinkObserved, Platform: chat.PlatformTwitch, SourceID: "chan", Link: "https://x.se/kampanj/a"}

	o.handle(context.Background(), ev)
	if len(o.trigger) != 1 {
		t.Fatal("first sight did not request a scrape")
	}
	<-o.trigger

	ev.Repost = true
	o.handle(context.Background(), ev)
	if len(o.trigger) != 1 {
		t.Fatal("repost did not request a scrape")
	}
	if got := cat.Pages(); len(got) != 1 || cat.adds != 2 {
		t.Errorf("pages = %v after %d adds, want one page", got, cat.adds)
	}
}

func TestAuthErrorRetriesOnceThenHalts(t *testing.T) {
	cat := &fakeCatalog{}
	cat.setScrape(func(context.Context) (map[string]catalog.Product, error) {
		return nil, &catalog.AuthError{Status: 401}
	})
	sink := &recordSink{}
	o := New(cat, sink, Config{ScrapeInterval: time.Hour})
	stop := start(t, o)
	defer stop()

	o.Trigger("test")
	eventually(t, "halt", o.Halted)
	if n := cat.scrapes.Load(); n != 2 {
		t.Fatalf("scrapes before halt = %d, want 2", n)
	}
	if st := o.Status(); !st.Halted || st.HaltReason == "" {
		t.Errorf("status = %+v, want halted with reason", st)
	}

	o.Trigger("ignored")
	time.Sleep(50 * time.Millisecond)
	if n := cat.scrapes.Load(); n != 2 {
		t.Errorf("halted orchestrator scraped (%d)", n)
	}

	cat.setScrape(func(context.Context) (map[string]catalog.Product, error) {
		return map[string]catalog.Product{"1": {ID: "1", Link: "l"}}, nil
	})
	if !o.Resume() {
		t.Fatal("Resume() = false while halted")
	}
	eventually(t, "delivery after resume", func() bool { return len(sink.Batches()) == 1 })
	if o.Halted() || o.Resume() {
		t.Error("still halted after resume")
	}
}

func TestSingleAuthErrorRecovers(t *testing.T) {
	cat := &fakeCatalog{}
	var calls atomic.Int32
	cat.setScrape(func(context.Context) (map[string]catalog.Product, error) {
		if calls.Add(1) == 1 {
			return nil, &catalog.AuthError{Status: 401}
		}
		return map[string]catalog.Product{"7": {ID: "7", Link: "l"}}, nil
	})
	sink := &recordSink{}
	o := New(cat, sink, Config{ScrapeInterval: time.Hour})
	stop := start(t, o)
	defer stop()

	o.Trigger("test")
	eventually(t, "delivery", func() bool { return len(sink.Batches()) == 1 })
	if o.Halted() {
		t.Error("one auth failure must not halt")
	}
}

func TestTimerTriggersOnlyWithPages(t *testing.T) {
	cat := &fakeCatalog{}
	o := New(cat, nil, Config{ScrapeInterval: 10 * time.Millisecond})
	stop := start(t, o)
	defer stop()

	time.Sleep(60 * time.Millisecond)
	if n := cat.scrapes.Load(); n != 0 {
		t.Fatalf("timer scraped %d times with no pages", n)
	}
	cat.AddPage("https://x.se/kampanj/a")
	eventually(t, "periodic scrape", func() bool { return cat.scrapes.Load() >= 2 })
}

func TestStreamLifecycleSpawnsAndStopsOneWatcher(t *testing.T) {
	var live atomic.Value
	live.Store("")
	probe := chat.ProbeFunc(func(context.Context) (string, error) { return live.Load().(string), nil })
	tracker := chat.NewTracker(chat.PlatformTwitch, probe, 10*time.Millisecond)
	src := newFeedSource()
	cat := &fakeCatalog{}
	o := New(cat, nil, Config{
		ScrapeInterval: time.Hour,
		Sources:        map[chat.Platform]chat.Source{chat.PlatformTwitch: src},
		Watcher:        fastWatcher(),
	}, tracker)
	stop := start(t, o)
	defer stop()

	live.Store("chan")
	eventually(t, "session start", func() bool { return len(o.Status().Sessions) == 1 })
	time.Sleep(50 * time.Millisecond) // several LIVE→LIVE polls
	if st := o.Status(); len(st.Sessions) != 1 || st.Sessions[0].SourceID != "chan" {
		t.Fatalf("sessions = %+v", st.Sessions)
	}
	if n := src.Opens("chan"); n != 1 {
		t.Errorf("chat opened %d times, want 1", n)
	}
	if n := cat.scrapes.Load(); n != 0 {
		t.Errorf("stream start scraped with no pages (%d)", n)
	}

	live.Store("")
	eventually(t, "session end", func() bool { return len(o.Status().Sessions) == 0 })
	if st := o.Status(); len(st.Trackers) != 1 || st.Trackers[0].Live || st.Trackers[0].LastOnline.IsZero() {
		t.Errorf("tracker status = %+v", st.Trackers)
	}
}

func TestStreamStartTriggersScrapeWhenPagesTracked(t *testing.T) {
	cat := &fakeCatalog{pages: []string{"https://x.se/kampanj/a"}}
	src := newFeedSource()
	o := New(cat, nil, Config{ScrapeInterval: time.Hour, Sources: map[chat.Platform]chat.Source{chat.PlatformYouTube: src}, Watcher: fastWatcher()})
	stop := start(t, o)
	defer stop()

	if err := o.AddSession(context.Background(), chat.PlatformYouTube, "dQw4w9WgXcQ"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "scrape on stream start", func() bool { return cat.scrapes.Load() == 1 })
}

func TestSessionInvalidRemovesOnlyThatSession(t *testing.T) {
	src := newFeedSource()
	src.invalid["gone"] = true
	o := New(&fakeCatalog{}, nil, Config{ScrapeInterval: time.Hour, Sources: map[chat.Platform]chat.Source{chat.PlatformYouTube: src}, Watcher: fastWatcher()})
	stop := start(t, o)
	defer stop()

	ctx := context.Background()
	if err := o.AddSession(ctx, chat.PlatformYouTube, "ok"); err != nil {
		t.Fatal(err)
	}
	if err := o.AddSession(ctx, chat.PlatformYouTube, "gone"); err != nil {
		t.Fatal(err)
	}
	eventually(t, "invalid session removal", func() bool {
		st := o.Status()
		return src.Opens("gone") == 1 && len(st.Sessions) == 1 && st.Sessions[0].SourceID == "ok"
	})
}

func TestAddSessionErrors(t *testing.T) {
	o := New(&fakeCatalog{}, nil, Config{Sources: map[chat.Platform]chat.Source{chat.PlatformTwitch: newFeedSource()}})
	ctx := context.Background()
	if err := o.AddSession(ctx, chat.PlatformYouTube, "x"); err == nil {
		t.Error("unknown platform accepted")
	}
	if err := o.AddSession(ctx, chat.PlatformTwitch, ""); err == nil {
		t.Error("empty source id accepted")
	}
	if err := o.AddSession(ctx, chat.PlatformTwitch, "chan"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("AddSession() before Run = %v, want ErrNotRunning", err)
	}
}

func TestResendSendsWholeCatalog(t *testing.T) {
	cat := &fakeCatalog{products: map[string]catalog.Product{"1": {ID: "1"}, "2": {ID: "2"}}}
	sink := &recordSink{}
	o := New(cat, sink, Config{})
	n, err := o.Resend(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Resend() = %d, %v", n, err)
	}
	if b := sink.Batches(); len(b) != 1 || len(b[0]) != 2 {
		t.Errorf("batches = %v", b)
	}
	empty := New(&fakeCatalog{}, sink, Config{})
	if n, _ := empty.Resend(context.Background()); n != 0 {
		t.Errorf("Resend() on empty catalog = %d", n)
	}
}

func TestShutdownWaitsForInFlightScrape(t *testing.T) {
	started := make(chan struct{})
	var finishedCleanly atomic.Bool
	cat := &fakeCatalog{}
	cat.setScrape(func(ctx context.Context) (map[string]catalog.Product, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finishedCleanly.Store(ctx.Err() == nil)
		return nil, nil
	})
	o := New(cat, nil, Config{ScrapeInterval: time.Hour, ShutdownGrace: time.Second})
	stop := start(t, o)
	o.Trigger("test")
	wait(t, started, "scrape start")
	stop()
	if !finishedCleanly.Load() {
		t.Error("scrape within grace was cancelled or not awaited")
	}
}

func TestShutdownCancelsScrapeAfterGrace(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool
	cat := &fakeCatalog{}
	cat.setScrape(func(ctx context.Context) (map[string]catalog.Product, error) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return nil, ctx.Err()
	})
	o := New(cat, nil, Config{ScrapeInterval: time.Hour, ShutdownGrace: 30 * time.Millisecond})
	stop := start(t, o)
	o.Trigger("test")
	wait(t, started, "scrape start")
	begin := time.Now()
	stop()
	if !cancelled.Load() {
		t.Error("scrape was not cancelled after grace")
	}
	if took := time.Since(begin); took < 30*time.Millisecond {
		t.Errorf("shutdown took %v, shorter than grace", took)
	}
}
