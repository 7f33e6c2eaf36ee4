package catalog

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/onnwee/dropwatch/telemetry"
)

const dayLayout = "2006-01-02"

// Session is the authenticated shop session pages are fetched through.
// Fetch returns *FetchError on transport failure or non-2xx status.
// Reauthenticate replaces the session and returns *AuthError on failure.
type Session interface {
	Fetch(ctx context.Context, url string) (string, error)
	Reauthenticate(ctx context.Context) error
}

// Options tunes a Catalog. Zero values take defaults.
type Options struct {
	Location     *time.Location
	FetchTimeout time.Duration
	Layouts      []Layout
	Now          func() time.Time
}

type page struct {
	url string
	day string
}

// Catalog is the day-scoped set of known products and tracked pages.
// Scrape is not safe for concurrent use; callers serialize it. Read methods
// and AddPage may be called at any time.
type Catalog struct {
	session      Session
	layouts      []Layout
	loc          *time.Location
	fetchTimeout time.Duration
	now          func() time.Time

	mu       sync.RWMutex
	products map[string]Product
	pages    []page
	day      string
	authed   bool
}

// New returns an empty catalog for today. The session is established lazily
// by the first Scrape.
func New(session Session, opts Options) *Catalog {
	c := &Catalog{
		session:      session,
		layouts:      opts.Layouts,
		loc:          opts.Location,
		fetchTimeout: opts.FetchTimeout,
		now:          opts.Now,
		products:     make(map[string]Product),
	}
	if len(c.layouts) == 0 {
		c.layouts = DefaultLayouts()
	}
	if c.loc == nil {
		c.loc = time.Local
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = 30 * time.Second
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.day = c.today()
	return c
}

func (c *Catalog) today() string { return c.now().In(c.loc).Format(dayLayout) }

// Today returns the calendar day (YYYY-MM-DD) in the catalog's location. It
// runs ahead of CurrentDate between midnight and the next rollover.
func (c *Catalog) Today() string { return c.today() }

// AddPage starts tracking url for today. It returns false when the page is
// already tracked.
func (c *Catalog) AddPage(url string) bool {
	url = strings.TrimSpace(url)
	if url == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pages {
		if p.url == url {
			slog.Warn("page already tracked", slog.String("url", url), slog.Int("pages", len(c.pages)))
			return false
		}
	}
	c.pages = append(c.pages, page{url: url, day: c.today()})
	telemetry.SetCatalogSize(len(c.products), len(c.pages))
	slog.Info("page added", slog.String("url", url), slog.Int("pages", len(c.pages)))
	return true
}

// Pages returns tracked page URLs in insertion order.
func (c *Catalog) Pages() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.pages))
	for i, p := range c.pages {
		out[i] = p.url
	}
	return out
}

// HasPages reports whether at least one page is tracked.
func (c *Catalog) HasPages() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pages) > 0
}

// All returns a copy of every known product.
func (c *Catalog) All() map[string]Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Product, len(c.products))
	for id, p := range c.products {
		out[id] = p
	}
	return out
}

// Count returns the number of known products.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.products)
}

// CurrentDate returns the catalog's day as YYYY-MM-DD.
func (c *Catalog) CurrentDate() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.day
}

// Invalidate forces the next Scrape to re-authenticate before fetching.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.authed = false
	c.mu.Unlock()
}

// RolloverIfNewDay re-authenticates when the session is not established or
// the day changed. Only after a successful login are the previous day's
// products and pages dropped, so a failed rollover leaves state untouched.
// Pages added after midnight are kept. It reports whether a day change was
// applied.
func (c *Catalog) RolloverIfNewDay(ctx context.Context) (bool, error) {
	today := c.today()
	c.mu.RLock()
	need := !c.authed || today != c.day
	c.mu.RUnlock()
	if !need {
		return false, nil
	}

	if err := c.session.Reauthenticate(ctx); err != nil {
		var ae *AuthError
		if !errors.As(err, &ae) {
			err = &AuthError{Err: err}
		}
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.authed = true
	if today == c.day {
		return false, nil
	}
	slog.Info("day changed; clearing catalog",
		slog.String("from", c.day), slog.String("to", today),
		slog.Int("products", len(c.products)), slog.Int("pages", len(c.pages)))
	kept := c.pages[:0:0]
	for _, p := range c.pages {
		if p.day == today {
			kept = append(kept, p)
		}
	}
	c.pages = kept
	c.products = make(map[string]Product)
	c.day = today
	telemetry.SetCatalogSize(0, len(c.pages))
	return true, nil
}

// Scrape fetches every tracked page and returns the products that were not
// known before this call. Page failures are logged and skipped. An
// *AuthError from the rollover step aborts the cycle.
func (c *Catalog) Scrape(ctx context.Context) (map[string]Product, error) {
	ctx, span := telemetry.StartSpan(ctx, "catalog", "catalog.scrape")
	defer span.End()
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "catalog"))

	if _, err := c.RolloverIfNewDay(ctx); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	fresh := make(map[string]Product)
	pages := c.Pages()
	if len(pages) == 0 {
		log.Debug("no pages to check")
		return fresh, nil
	}
	log.Info("checking pages", slog.Int("pages", len(pages)), slog.Int("known_products", c.Count()), slog.String("date", c.CurrentDate()))

	for _, u := range pages {
		if err := ctx.Err(); err != nil {
			return fresh, err
		}
		c.scrapePage(ctx, log, u, fresh)
	}
	telemetry.RecordProducts(len(fresh))
	c.mu.RLock()
	telemetry.SetCatalogSize(len(c.products), len(c.pages))
	c.mu.RUnlock()
	telemetry.SetSpanSuccess(span)
	return fresh, nil
}

func (c *Catalog) scrapePage(ctx context.Context, log *slog.Logger, pageURL string, fresh map[string]Product) {
	ctx, span := telemetry.StartSpan(ctx, "catalog", "catalog.page", telemetry.PageURLAttr(pageURL))
	defer span.End()
	log = log.With(slog.String("url", pageURL))

	fctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	start := time.Now()
	body, err := c.session.Fetch(fctx, pageURL)
	cancel()
	telemetry.Observe(telemetry.PageFetchDuration, time.Since(start))
	if err != nil {
		kind, class := ClassifyFetchError(err)
		telemetry.RecordFetchError(kind)
		telemetry.RecordError(span, err)
		log.Warn("page fetch failed", slog.String("kind", kind), slog.String("class", class.String()), slog.Any("err", err))
		var fe *FetchError
		if errors.As(err, &fe) && fe.Status == http.StatusUnauthorized {
			c.Invalidate()
		}
		return
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		telemetry.RecordError(span, err)
		log.Warn("page parse failed", slog.Any("err", err))
		return
	}
	base, _ := url.Parse(pageURL)

	layout, ids := c.matchLayout(doc)
	if layout == nil {
		log.Info("no products found on page")
		return
	}

	c.mu.RLock()
	want := make(map[string]bool)
	for _, id := range ids {
		if _, known := c.products[id]; known {
			continue
		}
		if _, seen := fresh[id]; seen {
			continue
		}
		want[id] = true
	}
	c.mu.RUnlock()
	log.Info("products on page", slog.String("layout", layout.Name()), slog.Int("found", len(ids)), slog.Int("new", len(want)))
	if len(want) == 0 {
		return
	}

	layout.Items(doc).Each(func(_ int, item *goquery.Selection) {
		id := layout.ID(item)
		if !want[id] {
			return
		}
		p, err := layout.Parse(item, base)
		if err != nil {
			telemetry.RecordParseError()
			log.Warn("product skipped", slog.String("id", id), slog.Any("err", err))
			return
		}
		p.ID = id
		c.mu.Lock()
		if _, known := c.products[id]; !known {
			c.products[id] = p
			fresh[id] = p
		}
		c.mu.Unlock()
		delete(want, id)
	})
}

// matchLayout returns the first layout yielding ids, with its ids in
// document order.
func (c *Catalog) matchLayout(doc *goquery.Document) (Layout, []string) {
	for _, l := range c.layouts {
		var ids []string
		l.Items(doc).Each(func(_ int, item *goquery.Selection) {
			if id := l.ID(item); id != "" {
				ids = append(ids, id)
			}
		})
		if len(ids) > 0 {
			return l, ids
		}
	}
	return nil, nil
}
