package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeSession struct {
	mu        sync.Mutex
	pages     map[string]string
	fetchErrs map[string]error
	authErr   error
	logins    int
	fetches   map[string]int
}

func newFakeSession() *fakeSession {
	return &fakeSession{pages: map[string]string{}, fetchErrs: map[string]error{}, fetches: map[string]int{}}
}

func (f *fakeSession) Fetch(_ context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[url]++
	if err, ok := f.fetchErrs[url]; ok {
		return "", err
	}
	body, ok := f.pages[url]
	if !ok {
		return "", &FetchError{URL: url, Status: 404}
	}
	return body, nil
}

func (f *fakeSession) Reauthenticate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	return f.authErr
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func primaryItem(id, name, href, oldPrice, newPrice string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<li data-test-id="search_product_%s"><a href="%s"><h3 class="h1abc">%s</h3></a><img src="/img/%s.jpg">`, id, href, name, id)
	if oldPrice != "" {
		fmt.Fprintf(&b, `<s role="deletion">%s</s>`, oldPrice)
	}
	if newPrice != "" {
		fmt.Fprintf(&b, `<span data-test-is-discounted-price="true">%s</span>`, newPrice)
	}
	b.WriteString(`<svg fill="green"></svg></li>`)
	return b.String()
}

func listing(items ...string) string {
	return "<html><body><ul>" + strings.Join(items, "") + "</ul></body></html>"
}

func newTestCatalog(s Session, clk *clock) *Catalog {
	return New(s, Options{Location: time.UTC, FetchTimeout: time.Second, Now: clk.Now})
}

func TestScrapeEndToEnd(t *testing.T) {
	s := newFakeSession()
	s.pages["https://shop.example/kampanj/p"] = listing(
		primaryItem("10", "Keyboard", "/produkt/10/keyboard", "1 000 kr", "750 kr"),
		primaryItem("20", "Mouse", "/produkt/20/mouse", "", "299 kr"),
	)
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := newTestCatalog(s, clk)
	c.AddPage("https://shop.example/kampanj/p")

	got, err := c.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("first scrape returned %d products, want 2", len(got))
	}
	kb := got["10"]
	if kb.Name != "Keyboard" {
		t.Errorf("name = %q, want Keyboard", kb.Name)
	}
	if kb.Link != "https://shop.example/produkt/10/keyboard" {
		t.Errorf("link = %q", kb.Link)
	}
	if kb.Image != "https://shop.example/img/10.jpg" {
		t.Errorf("image = %q", kb.Image)
	}
	if kb.OldPrice == nil || *kb.OldPrice != 1000 || kb.NewPrice == nil || *kb.NewPrice != 750 {
		t.Errorf("prices = %v/%v, want 1000/750", kb.OldPrice, kb.NewPrice)
	}
	if kb.DiscountPercent == nil || *kb.DiscountPercent != 25.0 {
		t.Errorf("discount = %v, want 25.0", kb.DiscountPercent)
	}
	if got["20"].DiscountPercent != nil {
		t.Errorf("mouse discount = %v, want nil", *got["20"].DiscountPercent)
	}
	if s.logins != 1 {
		t.Errorf("logins = %d, want 1 (lazy first login)", s.logins)
	}

	again, err := c.Scrape(context.Background())
	if err != nil {
		t.Fatalf("second Scrape() error = %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second scrape returned %v, want empty", again)
	}
	if c.Count() != 2 {
		t.Errorf("Count() = %d, want 2", c.Count())
	}
}

func TestScrapeNeverReparsesKnownProducts(t *testing.T) {
	s := newFakeSession()
	const u = "https://shop.example/kampanj/p"
	s.pages[u] = listing(primaryItem("10", "Before", "/produkt/10/a", "200", "100"))
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := newTestCatalog(s, clk)
	c.AddPage(u)
	if _, err := c.Scrape(context.Background()); err != nil {
		t.Fatal(err)
	}

	s.pages[u] = listing(primaryItem("10", "After", "/produkt/10/a", "200", "50"))
	got, err := c.Scrape(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected no new products, got %v", got)
	}
	p := c.All()["10"]
	if p.Name != "Before" || *p.NewPrice != 100 {
		t.Errorf("known product mutated: %+v", p)
	}
}

func TestScrapeFallbackLayout(t *testing.T) {
	s := newFakeSession()
	const u = "https://shop.example/kampanj/alt"
	s.pages[u] = `<ul>
		<li class="lamvqw"><a href="/produkt/1977294/gpu"><div class="dseywor"> GPU </div></a>
			<img class="i1n0jahz" src="https://cdn.example/gpu.png">
			<s role="deletion">8 990:-</s><span class="xb1y">5 990:-</span>
			<span>Slutsåld</span></li>
		<li class="lamvqw"><a href="/kategori/other">no id</a></li>
	</ul>`
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := newTestCatalog(s, clk)
	c.AddPage(u)

	got, err := c.Scrape(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	p, ok := got["1977294"]
	if !ok || len(got) != 1 {
		t.Fatalf("got %v, want only 1977294", got)
	}
	if p.Name != "GPU" || p.Image != "https://cdn.example/gpu.png" {
		t.Errorf("unexpected product %+v", p)
	}
	if *p.OldPrice != 8990 || *p.NewPrice != 5990 {
		t.Errorf("prices %d/%d", *p.OldPrice, *p.NewPrice)
	}
	if p.DiscountPercent == nil || *p.DiscountPercent != 33.4 {
		t.Errorf("discount = %v, want 33.4", p.DiscountPercent)
	}
	if !p.SoldOut {
		t.Error("expected sold out from text fallback")
	}
}

func TestScrapeSoldOutIndicator(t *testing.T) {
	s := newFakeSession()
	const u = "https://shop.example/kampanj/s"
	s.pages[u] = listing(
		`<li data-test-id="search_product_1"><a href="/p/1">x</a><svg fill="var(--color-red)"></svg><span>Slutsåld</span></li>`,
		`<li data-test-id="search_product_2"><a href="/p/2">x</a><svg fill="green"></svg><span>SLUTSÄLD</span></li>`,
		`<li data-test-id="search_product_3"><a href="/p/3">x</a><span>SLUTSÄLD</span></li>`,
	)
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := newTestCatalog(s, clk)
	c.AddPage(u)
	got, err := c.Scrape(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"1": true, "2": false, "3": true}
	for id, sold := range want {
		if got[id].SoldOut != sold {
			t.Errorf("product %s SoldOut = %v, want %v", id, got[id].SoldOut, sold)
		}
	}
}

func TestScrapeUnparseablePricesKeepProduct(t *testing.T) {
	s := newFakeSession()
	const u = "https://shop.example/kampanj/p"
	s.pages[u] = listing(primaryItem("5", "Cable", "/p/5", "Pris saknas", "0 kr"))
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := newTestCatalog(s, clk)
	c.AddPage(u)
	got, err := c.Scrape(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	p, ok := got["5"]
	if !ok {
		t.Fatal("product with bad prices was dropped")
	}
	if p.OldPrice != nil || p.NewPrice != nil || p.DiscountPercent != nil {
		t.Errorf("expected nil price fields, got %+v", p)
	}
}

func TestScrapeSkipsItemWithoutLink(t *testing.T) {
	s := newFakeSession()
	const u = "https://shop.example/kampanj/p"
	s.pages[u] = listing(
		`<li data-test-id="search_product_7"><h3 class="h1">No link</h3></li>`,
		primaryItem("8", "Ok", "/p/8", "", ""),
	)
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := newTestCatalog(s, clk)
	c.AddPage(u)
	got, err := c.Scrape(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got["7"]; ok {
		t.Error("item without link should be skipped")
	}
	if _, ok := got["8"]; !ok {
		t.Error("valid item missing")
	}
}

func TestScrapeFetchErrorSkipsOnlyThatPage(t *testing.T) {
	s := newFakeSession()
	s.fetchErrs["https://shop.example/kampanj/bad"] = &FetchError{URL: "https://shop.example/kampanj/bad", Err: context.DeadlineExceeded}
	s.pages["https://shop.example/kampanj/good"] = listing(primaryItem("1", "A", "/p/1", "", ""))
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := newTestCatalog(s, clk)
	c.AddPage("https://shop.example/kampanj/missing")
	c.AddPage("https://shop.example/kampanj/bad")
	c.AddPage("https://shop.example/kampanj/good")

	got, err := c.Scrape(context.Background())
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d products, want 1", len(got))
	}
}

func TestScrapeSameIDOnTwoPagesInsertedOnce(t *testing.T) {
	s := newFakeSession()
	s.pages["https://shop.example/a"] = listing(primaryItem("1", "First", "/p/1", "", ""))
	s.pages["https://shop.example/b"] = listing(primaryItem("1", "Second", "/p/1", "", ""))
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := newTestCatalog(s, clk)
	c.AddPage("https://shop.example/a")
	c.AddPage("https://shop.example/b")
	got, err := c.Scrape(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got["1"].Name != "First" {
		t.Errorf("got %v, want single product from first page", got)
	}
}

func TestAddPageIdempotent(t *testing.T) {
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := newTestCatalog(newFakeSession(), clk)
	if !c.AddPage("https://x") {
		t.Error("first AddPage should report true")
	}
	if c.AddPage("https://x") {
		t.Error("duplicate AddPage should report false")
	}
	if got := c.Pages(); len(got) != 1 {
		t.Errorf("Pages() = %v", got)
	}
}

func TestRolloverClearsOnNewDay(t *testing.T) {
	s := newFakeSession()
	const u = "https://shop.example/kampanj/p"
	s.pages[u] = listing(primaryItem("1", "A", "/p/1", "", ""))
	clk := &clock{t: time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC)}
	c := newTestCatalog(s, clk)
	c.AddPage(u)
	if _, err := c.Scrape(context.Background()); err != nil {
		t.Fatal(err)
	}

	clk.Advance(2 * time.Hour)
	c.AddPage("https://shop.example/kampanj/today")

	rolled, err := c.RolloverIfNewDay(context.Background())
	if err != nil {
		t.Fatalf("RolloverIfNewDay() error = %v", err)
	}
	if !rolled {
		t.Fatal("expected rollover")
	}
	if c.Count() != 0 {
		t.Errorf("products not cleared: %d", c.Count())
	}
	if got := c.Pages(); len(got) != 1 || got[0] != "https://shop.example/kampanj/today" {
		t.Errorf("Pages() = %v, want only the page added today", got)
	}
	if c.CurrentDate() != "2025-03-02" {
		t.Errorf("CurrentDate() = %s", c.CurrentDate())
	}
	if s.logins != 2 {
		t.Errorf("logins = %d, want 2", s.logins)
	}

	// previously tracked page only returns when re-posted
	got, err := c.Scrape(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("scrape after rollover = %v, want empty", got)
	}
	c.AddPage(u)
	got, _ = c.Scrape(context.Background())
	if len(got) != 1 {
		t.Errorf("re-posted page should yield its product again, got %v", got)
	}
}

func TestRolloverAuthFailureLeavesStateUntouched(t *testing.T) {
	s := newFakeSession()
	const u = "https://shop.example/kampanj/p"
	s.pages[u] = listing(primaryItem("1", "A", "/p/1", "", ""))
	clk := &clock{t: time.Date(2025, 3, 1, 23, 0, 0, 0, time.UTC)}
	c := newTestCatalog(s, clk)
	c.AddPage(u)
	if _, err := c.Scrape(context.Background()); err != nil {
		t.Fatal(err)
	}

	clk.Advance(2 * time.Hour)
	s.authErr = errors.New("bad credentials")
	_, err := c.Scrape(context.Background())
	if !IsAuthError(err) {
		t.Fatalf("Scrape() error = %v, want AuthError", err)
	}
	if c.Count() != 1 || len(c.Pages()) != 1 || c.CurrentDate() != "2025-03-01" {
		t.Errorf("state changed on failed rollover: count=%d pages=%v date=%s", c.Count(), c.Pages(), c.CurrentDate())
	}
}

func TestUnauthorizedFetchForcesReauth(t *testing.T) {
	s := newFakeSession()
	const u = "https://shop.example/kampanj/p"
	s.fetchErrs[u] = &FetchError{URL: u, Status: 401}
	clk := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := newTestCatalog(s, clk)
	c.AddPage(u)
	_, _ = c.Scrape(context.Background())
	_, _ = c.Scrape(context.Background())
	if s.logins != 2 {
		t.Errorf("logins = %d, want 2 after a 401", s.logins)
	}
}
