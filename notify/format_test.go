package notify

import (
	"testing"

	"github.com/onnwee/dropwatch/catalog"
)

func TestColor(t *testing.T) {
	tests := []struct {
		name     string
		discount *float64
		want     int
	}{
		{"none", nil, ColorNew},
		{"zero", floatp(0), ColorNew},
		{"small", floatp(12.5), ColorDiscount},
		{"price increase", floatp(-10), ColorDiscount},
		{"good", floatp(30), ColorGood},
		{"hot", floatp(50), ColorHot},
		{"hotter", floatp(73.1), ColorHot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Color(catalog.Product{DiscountPercent: tt.discount}); got != tt.want {
				t.Errorf("Color() = %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestKronor(t *testing.T) {
	tests := map[int]string{
		0:       "0 kr",
		99:      "99 kr",
		999:     "999 kr",
		1299:    "1 299 kr",
		8990:    "8 990 kr",
		1234567: "1 234 567 kr",
		-1500:   "-1 500 kr",
	}
	for in, want := range tests {
		if got := kronor(in); got != want {
			t.Errorf("kronor(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestPriceLine(t *testing.T) {
	id := func(s string) string { return s }
	mark := func(s string) string { return "*" + s + "*" }
	p := catalog.Product{OldPrice: intp(1000), NewPrice: intp(750)}
	if got := priceLine(p, id, mark); got != "1 000 kr → *750 kr*" {
		t.Errorf("priceLine() = %q", got)
	}
	if got := priceLine(catalog.Product{NewPrice: intp(5)}, id, id); got != "5 kr" {
		t.Errorf("priceLine() new only = %q", got)
	}
	if got := priceLine(catalog.Product{OldPrice: intp(5)}, id, id); got != "" {
		t.Errorf("priceLine() without new price = %q", got)
	}
}

func TestDiscountTextAndTitle(t *testing.T) {
	if got := discountText(catalog.Product{DiscountPercent: floatp(33.4)}); got != "33.4% OFF" {
		t.Errorf("discountText() = %q", got)
	}
	if got := discountText(catalog.Product{DiscountPercent: floatp(0)}); got != "" {
		t.Errorf("discountText(0) = %q", got)
	}
	if got := title(catalog.Product{ID: "42"}); got != "Product 42" {
		t.Errorf("title() = %q", got)
	}
}
