// Package notify delivers newly discovered products to the configured sinks.
// Delivery is at-most-once: a failed send is logged and counted, never retried
// by a later cycle.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/onnwee/dropwatch/catalog"
	"github.com/onnwee/dropwatch/telemetry"
)

// Sink sends products somewhere. Implementations attempt every product and
// return the per-item failures joined.
type Sink interface {
	Name() string
	Send(ctx context.Context, products map[string]catalog.Product) error
}

// Fanout dispatches to all configured sinks.
type Fanout struct {
	sinks []Sink
}

func NewFanout(sinks ...Sink) *Fanout {
	cp := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s == nil {
			continue
		}
		cp = append(cp, s)
	}
	return &Fanout{sinks: cp}
}

func (f *Fanout) Name() string { return "fanout" }

// Send forwards products to every sink; one failing sink does not stop the
// others.
func (f *Fanout) Send(ctx context.Context, products map[string]catalog.Product) error {
	if f == nil || len(f.sinks) == 0 || len(products) == 0 {
		return nil
	}
	var errs []error
	for _, s := range f.sinks {
		err := s.Send(ctx, products)
		telemetry.RecordDelivery(s.Name(), err)
		if err != nil {
			slog.Warn("sink delivery failed", slog.String("sink", s.Name()), slog.Int("products", len(products)), slog.Any("err", err))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Size returns the number of active sinks.
func (f *Fanout) Size() int {
	if f == nil {
		return 0
	}
	return len(f.sinks)
}

// sorted returns products ordered by id so deliveries are stable.
func sorted(products map[string]catalog.Product) []catalog.Product {
	out := make([]catalog.Product, 0, len(products))
	for _, p := range products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LogSink writes products to the structured log. It is always enabled so a
// deployment without sinks still shows what was found.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Send(_ context.Context, products map[string]catalog.Product) error {
	for _, p := range sorted(products) {
		attrs := []any{
			slog.String("id", p.ID),
			slog.String("name", p.Name),
			slog.String("link", p.Link),
			slog.Bool("sold_out", p.SoldOut),
		}
		if p.NewPrice != nil {
			attrs = append(attrs, slog.Int("price", *p.NewPrice))
		}
		if p.DiscountPercent != nil {
			attrs = append(attrs, slog.Float64("discount_percent", *p.DiscountPercent))
		}
		slog.Info("new product", attrs...)
	}
	return nil
}
