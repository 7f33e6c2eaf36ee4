package notify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/onnwee/dropwatch/catalog"
)

// Embed colours by discount tier.
const (
	ColorHot      = 0xE74C3C
	ColorGood     = 0xE67E22
	ColorDiscount = 0x3498DB
	ColorNew      = 0x2ECC71
)

// Color picks the embed colour: 50%+ is hot, 30%+ good, any other discount
// blue, and products without a discount green.
func Color(p catalog.Product) int {
	if p.DiscountPercent == nil || *p.DiscountPercent == 0 {
		return ColorNew
	}
	switch d := *p.DiscountPercent; {
	case d >= 50:
		return ColorHot
	case d >= 30:
		return ColorGood
	default:
		return ColorDiscount
	}
}

// kronor formats 1299 as "1 299 kr".
func kronor(v int) string {
	s := strconv.Itoa(v)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	out := b.String() + " kr"
	if neg {
		out = "-" + out
	}
	return out
}

// priceLine renders "old → new" with the given strike and bold markers, or
// "" when the new price is unknown.
func priceLine(p catalog.Product, strike, bold func(string) string) string {
	if p.NewPrice == nil {
		return ""
	}
	line := bold(kronor(*p.NewPrice))
	if p.OldPrice != nil {
		line = strike(kronor(*p.OldPrice)) + " → " + line
	}
	return line
}

func discountText(p catalog.Product) string {
	if p.DiscountPercent == nil || *p.DiscountPercent == 0 {
		return ""
	}
	return strconv.FormatFloat(*p.DiscountPercent, 'f', -1, 64) + "% OFF"
}

func availability(p catalog.Product) string {
	if p.SoldOut {
		return "❌ Sold Out"
	}
	return "✅ In Stock"
}

func title(p catalog.Product) string {
	if p.Name == "" {
		return fmt.Sprintf("Product %s", p.ID)
	}
	return p.Name
}
