// Package storage persists the Telegram chats that receive product
// notifications.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/onnwee/dropwatch/db"
)

// Subscribers tracks Telegram chat ids.
type Subscribers interface {
	// Add reports false when id was already subscribed.
	Add(ctx context.Context, id int64) (bool, error)
	// Remove reports false when id was not subscribed.
	Remove(ctx context.Context, id int64) (bool, error)
	List(ctx context.Context) ([]int64, error)
	Close() error
}

// NewSubscribers creates the configured backend: memory, bbolt or postgres.
func NewSubscribers(typ, path string, store *db.Store) (Subscribers, error) {
	switch strings.TrimSpace(strings.ToLower(typ)) {
	case "", "memory":
		return NewMemory(), nil
	case "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(path)
	case "postgres":
		if store == nil {
			return nil, fmt.Errorf("postgres storage requires DB_DSN")
		}
		return pgSubscribers{store: store}, nil
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

// Seed adds ids, ignoring those already present.
func Seed(ctx context.Context, s Subscribers, ids []int64) error {
	for _, id := range ids {
		if _, err := s.Add(ctx, id); err != nil {
			return fmt.Errorf("seed subscriber %d: %w", id, err)
		}
	}
	return nil
}

type memory struct {
	mu  sync.Mutex
	ids map[int64]struct{}
}

func NewMemory() Subscribers { return &memory{ids: make(map[int64]struct{})} }

func (m *memory) Add(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[id]; ok {
		return false, nil
	}
	m.ids[id] = struct{}{}
	return true, nil
}

func (m *memory) Remove(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[id]; !ok {
		return false, nil
	}
	delete(m.ids, id)
	return true, nil
}

func (m *memory) List(context.Context) ([]int64, error) {
	m.mu.Lock()
	out := make([]int64, 0, len(m.ids))
	for id := range m.ids {
		out = append(out, id)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *memory) Close() error { return nil }

type pgSubscribers struct{ store *db.Store }

func (p pgSubscribers) Add(ctx context.Context, id int64) (bool, error) {
	return p.store.AddSubscriber(ctx, id)
}

func (p pgSubscribers) Remove(ctx context.Context, id int64) (bool, error) {
	return p.store.RemoveSubscriber(ctx, id)
}

func (p pgSubscribers) List(ctx context.Context) ([]int64, error) { return p.store.ListSubscribers(ctx) }

// Close leaves the shared pool open; main owns it.
func (p pgSubscribers) Close() error { return nil }
