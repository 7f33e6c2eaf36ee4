package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

const closeTimeout = 5 * time.Second

// ircClient is the part of *twitch.Client the source uses.
type ircClient interface {
	OnPrivateMessage(callback func(message twitch.PrivateMessage))
	OnConnect(callback func())
	Join(channels ...string)
	Connect() error
	Disconnect() error
}

// TwitchSource reads channel chat over IRC as a bot account.
type TwitchSource struct {
	Username string
	// Token returns the bot's user access token, with or without the
	// "oauth:" prefix. It is called on every (re)connect so refreshed tokens
	// are picked up.
	Token func(ctx context.Context) (string, error)
	// Buffer bounds messages held between polls (default 1024).
	Buffer int

	newClient func(username, oauth string) ircClient
}

func (s *TwitchSource) client(username, oauth string) ircClient {
	if s.newClient != nil {
		return s.newClient(username, oauth)
	}
	return twitch.NewClient(username, oauth)
}

// Open joins channel and starts buffering its messages.
func (s *TwitchSource) Open(ctx context.Context, channel string) (Conn, error) {
	if s.Username == "" || s.Token == nil {
		return nil, errors.New("twitch chat: missing bot username or token")
	}
	tok, err := s.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("twitch chat token: %w", err)
	}
	if tok == "" {
		return nil, errors.New("twitch chat: empty token")
	}
	if !strings.HasPrefix(tok, "oauth:") {
		tok = "oauth:" + tok
	}
	size := s.Buffer
	if size <= 0 {
		size = 1024
	}
	c := &twitchConn{
		channel:  strings.ToLower(strings.TrimPrefix(channel, "#")),
		client:   s.client(s.Username, tok),
		messages: make(chan Message, size),
		done:     make(chan struct{}),
	}
	c.client.OnPrivateMessage(c.onMessage)
	c.client.OnConnect(c.onConnect)
	c.client.Join(c.channel)
	go c.run()
	return c, nil
}

type twitchConn struct {
	channel  string
	client   ircClient
	messages chan Message
	done     chan struct{}

	mu      sync.Mutex
	err     error
	closing bool
	dropped int
}

func (c *twitchConn) run() {
	err := c.client.Connect()
	c.mu.Lock()
	if !c.closing {
		c.err = err
		if c.err == nil {
			c.err = errors.New("connection closed")
		}
	}
	c.mu.Unlock()
	close(c.done)
}

// onConnect finishes a Close that raced with the initial dial.
func (c *twitchConn) onConnect() {
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		_ = c.client.Disconnect()
		return
	}
	slog.Info("twitch chat connected", slog.String("channel", c.channel))
}

func (c *twitchConn) onMessage(m twitch.PrivateMessage) {
	select {
	case c.messages <- Message{Author: m.User.Name, Text: m.Message}:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
	}
}

// Poll drains buffered messages. The cursor is unused; IRC is push based.
func (c *twitchConn) Poll(ctx context.Context, cursor string) (Batch, error) {
	var b Batch
	for {
		select {
		case m := <-c.messages:
			b.Messages = append(b.Messages, m)
			continue
		default:
		}
		break
	}
	c.mu.Lock()
	dropped := c.dropped
	c.dropped = 0
	err := c.err
	c.mu.Unlock()
	if dropped > 0 {
		slog.Warn("twitch chat buffer full; messages dropped", slog.String("channel", c.channel), slog.Int("dropped", dropped))
	}
	if err != nil && len(b.Messages) == 0 {
		return b, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return b, nil
}

func (c *twitchConn) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()
	err := c.client.Disconnect()
	if errors.Is(err, twitch.ErrConnectionIsNotOpen) {
		err = nil
	}
	select {
	case <-c.done:
	case <-time.After(closeTimeout):
		slog.Warn("twitch chat did not close in time", slog.String("channel", c.channel))
	}
	return err
}
