package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/onnwee/dropwatch/catalog"
)

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title       string         `json:"title"`
	URL         string         `json:"url,omitempty"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Image       *discordImage  `json:"image,omitempty"`
	Fields      []discordField `json:"fields,omitempty"`
	Footer      *discordFooter `json:"footer,omitempty"`
}

type discordImage struct {
	URL string `json:"url"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordPayload struct {
	Username string         `json:"username,omitempty"`
	Embeds   []discordEmbed `json:"embeds"`
}

// DiscordWebhook posts one embed per product to a channel webhook.
type DiscordWebhook struct {
	url      string
	username string
	client   *resty.Client
	// Delay spaces consecutive posts to stay under the webhook rate limit.
	Delay time.Duration
}

func NewDiscordWebhook(url, username string, timeout time.Duration) *DiscordWebhook {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DiscordWebhook{
		url:      url,
		username: username,
		client:   resty.New().SetTimeout(timeout),
		Delay:    500 * time.Millisecond,
	}
}

func (d *DiscordWebhook) Name() string { return "discord" }

func (d *DiscordWebhook) Send(ctx context.Context, products map[string]catalog.Product) error {
	var errs []error
	for i, p := range sorted(products) {
		if i > 0 && d.Delay > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(append(errs, ctx.Err())...)
			case <-time.After(d.Delay):
			}
		}
		if err := d.post(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("product %s: %w", p.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (d *DiscordWebhook) post(ctx context.Context, p catalog.Product) error {
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(discordPayload{Username: d.username, Embeds: []discordEmbed{embedFor(p)}}).
		Post(d.url)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	if resp.IsError() {
		body := strings.TrimSpace(string(resp.Body()))
		if len(body) > 512 {
			body = body[:512]
		}
		return fmt.Errorf("webhook response status %d: %s", resp.StatusCode(), body)
	}
	return nil
}

func embedFor(p catalog.Product) discordEmbed {
	e := discordEmbed{
		Title:       title(p),
		URL:         p.Link,
		Description: "New product in the campaign!",
		Color:       Color(p),
		Footer:      &discordFooter{Text: "Product ID: " + p.ID},
	}
	if p.Image != "" {
		e.Image = &discordImage{URL: p.Image}
	}
	md := func(mark string) func(string) string {
		return func(s string) string { return mark + s + mark }
	}
	if line := priceLine(p, md("~~"), md("**")); line != "" {
		e.Fields = append(e.Fields, discordField{Name: "💰 Price", Value: line, Inline: true})
	}
	if d := discountText(p); d != "" {
		e.Fields = append(e.Fields, discordField{Name: "🔥 Discount", Value: "**" + d + "!**", Inline: true})
	}
	e.Fields = append(e.Fields, discordField{Name: "📦 Availability", Value: availability(p), Inline: true})
	return e
}
