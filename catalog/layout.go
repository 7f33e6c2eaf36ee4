package catalog

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Layout is one markup shape a campaign page may use. Layouts are tried in
// order until one yields at least one id.
type Layout interface {
	Name() string
	// Items selects the listing elements of this shape.
	Items(doc *goquery.Document) *goquery.Selection
	// ID returns the product id of an item, or "" when it has none.
	ID(item *goquery.Selection) string
	// Parse reads a full Product from an item. Link is resolved against base.
	Parse(item *goquery.Selection, base *url.URL) (Product, error)
}

// DefaultLayouts returns the primary listing layout followed by the fallback.
func DefaultLayouts() []Layout {
	return []Layout{PrimaryLayout{}, FallbackLayout{}}
}

var (
	testIDPattern    = regexp.MustCompile(`search_product_(\d+)`)
	productIDPattern = regexp.MustCompile(`/produkt/(\d+)/`)
	soldOutText      = regexp.MustCompile(`(?i)sluts[åä]ld`)
	nonDigits        = regexp.MustCompile(`[^\d]`)
)

// PrimaryLayout matches <li data-test-id="search_product_<id>"> listings.
type PrimaryLayout struct{}

func (PrimaryLayout) Name() string { return "primary" }

func (PrimaryLayout) Items(doc *goquery.Document) *goquery.Selection {
	return doc.Find("li[data-test-id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("data-test-id")
		return testIDPattern.MatchString(v)
	})
}

func (PrimaryLayout) ID(item *goquery.Selection) string {
	v, _ := item.Attr("data-test-id")
	if m := testIDPattern.FindStringSubmatch(v); m != nil {
		return m[1]
	}
	return ""
}

func (l PrimaryLayout) Parse(item *goquery.Selection, base *url.URL) (Product, error) {
	p := Product{ID: l.ID(item)}
	link, ok := firstHref(item, base)
	if !ok {
		return Product{}, &ParseError{Layout: l.Name(), ID: p.ID, Field: "link"}
	}
	p.Link = link
	p.Name = strings.TrimSpace(item.Find(`h3[class*="h1"]`).First().Text())
	if src, ok := item.Find("img").First().Attr("src"); ok {
		p.Image = resolve(base, src)
	}
	fillPrices(&p, item)
	p.SoldOut = soldOut(item)
	return p, nil
}

// FallbackLayout matches <li class="lamvqw"> listings whose id lives in the
// product href.
type FallbackLayout struct{}

func (FallbackLayout) Name() string { return "fallback" }

func (FallbackLayout) Items(doc *goquery.Document) *goquery.Selection {
	return doc.Find("li.lamvqw")
}

func (FallbackLayout) ID(item *goquery.Selection) string {
	href, ok := item.Find("a[href]").First().Attr("href")
	if !ok {
		return ""
	}
	if m := productIDPattern.FindStringSubmatch(href); m != nil {
		return m[1]
	}
	return ""
}

func (l FallbackLayout) Parse(item *goquery.Selection, base *url.URL) (Product, error) {
	p := Product{ID: l.ID(item)}
	if p.ID == "" {
		return Product{}, &ParseError{Layout: l.Name(), Field: "product id"}
	}
	link, ok := firstHref(item, base)
	if !ok {
		return Product{}, &ParseError{Layout: l.Name(), ID: p.ID, Field: "link"}
	}
	p.Link = link
	p.Name = strings.TrimSpace(item.Find("div.dseywor").First().Text())
	if src, ok := item.Find("img.i1n0jahz").First().Attr("src"); ok {
		p.Image = resolve(base, src)
	}
	fillPrices(&p, item)
	p.SoldOut = soldOut(item)
	return p, nil
}

func firstHref(item *goquery.Selection, base *url.URL) (string, bool) {
	href, ok := item.Find("a[href]").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return "", false
	}
	return resolve(base, href), true
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

// soldOut prefers the coloured availability dot and falls back to text.
func soldOut(item *goquery.Selection) bool {
	if fill, ok := item.Find("svg[fill]").First().Attr("fill"); ok {
		return strings.Contains(strings.ToLower(fill), "red")
	}
	found := false
	item.Find("span").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if soldOutText.MatchString(s.Text()) {
			found = true
			return false
		}
		return true
	})
	return found
}

func fillPrices(p *Product, item *goquery.Selection) {
	if s := item.Find(`s[role="deletion"]`).First(); s.Length() > 0 {
		p.OldPrice = parsePrice(s.Text())
	}
	if s := item.Find(`span[data-test-is-discounted-price="true"]`).First(); s.Length() > 0 {
		p.NewPrice = parsePrice(s.Text())
	} else if s := item.Find(`span[class*="b1"]`).First(); s.Length() > 0 {
		p.NewPrice = parsePrice(s.Text())
	}
	p.DiscountPercent = Discount(p.OldPrice, p.NewPrice)
}

// parsePrice keeps the digits of a rendered price ("1 299 kr" -> 1299).
// Empty, zero and overflowing values are unknown.
func parsePrice(text string) *int {
	digits := nonDigits.ReplaceAllString(text, "")
	if digits == "" {
		return nil
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return nil
	}
	return intPtr(n)
}
