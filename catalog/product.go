// Package catalog tracks the products listed on campaign pages for the
// current day. Pages are fetched through an authenticated Session, parsed
// with an ordered list of layout strategies, and only ids not seen before
// are parsed and recorded.
package catalog

import "strconv"

// Product is a single listing. Price fields are nil when unknown.
type Product struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Link            string   `json:"link"`
	Image           string   `json:"image,omitempty"`
	OldPrice        *int     `json:"old_price,omitempty"`
	NewPrice        *int     `json:"new_price,omitempty"`
	DiscountPercent *float64 `json:"discount_percent,omitempty"`
	SoldOut         bool     `json:"sold_out"`
}

// Discount returns round(((old-new)/old)*100, 1), or nil when either price is
// unknown or old is not positive. Rounding is to the nearest tenth of the
// exact float value, with exact ties going to the even digit.
func Discount(oldPrice, newPrice *int) *float64 {
	if oldPrice == nil || newPrice == nil || *oldPrice <= 0 {
		return nil
	}
	pct := float64(*oldPrice-*newPrice) / float64(*oldPrice) * 100
	rounded, _ := strconv.ParseFloat(strconv.FormatFloat(pct, 'f', 1, 64), 64)
	return &rounded
}

func intPtr(v int) *int { return &v }
