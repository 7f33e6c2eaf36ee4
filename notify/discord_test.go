package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestDiscordWebhookPostsOneEmbedPerProduct(t *testing.T) {
	var (
		mu       sync.Mutex
		payloads []discordPayload
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		var p discordPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode: %v", err)
		}
		mu.Lock()
		payloads = append(payloads, p)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordWebhook(srv.URL, "dropwatch", 0)
	d.Delay = 0
	if err := d.Send(context.Background(), sample()); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(payloads) != 2 {
		t.Fatalf("got %d posts, want 2", len(payloads))
	}
	first := payloads[0]
	if first.Username != "dropwatch" || len(first.Embeds) != 1 {
		t.Fatalf("payload = %+v", first)
	}
	e := first.Embeds[0]
	if e.Title != "Monitor" || e.URL != "https://x.se/p/100" || e.Color != ColorHot {
		t.Errorf("embed = %+v", e)
	}
	if e.Image == nil || e.Image.URL != "https://x.se/i/100.jpg" {
		t.Errorf("image = %+v", e.Image)
	}
	if e.Footer == nil || e.Footer.Text != "Product ID: 100" {
		t.Errorf("footer = %+v", e.Footer)
	}
	if len(e.Fields) != 3 || e.Fields[0].Value != "~~2 999 kr~~ → **1 499 kr**" || e.Fields[1].Value != "**50% OFF!**" {
		t.Errorf("fields = %+v", e.Fields)
	}

	second := payloads[1].Embeds[0]
	if second.Image != nil || second.Color != ColorNew || len(second.Fields) != 2 {
		t.Errorf("second embed = %+v", second)
	}
}

func TestDiscordWebhookReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad webhook", http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewDiscordWebhook(srv.URL, "", 0)
	d.Delay = 0
	if err := d.Send(context.Background(), sample()); err == nil {
		t.Fatal("Send() error = nil, want failure")
	}
}
