package chat

import (
	"context"
	"fmt"
	"time"
)

// Platform names a chat source type.
type Platform string

const (
	PlatformTwitch  Platform = "twitch"
	PlatformYouTube Platform = "youtube"
)

type EventKind int

const (
	StreamStarted EventKind = iota + 1
	StreamEnded
	LinkObserved
	SessionInvalid
)

func (k EventKind) String() string {
	switch k {
	case StreamStarted:
		return "stream_started"
	case StreamEnded:
		return "stream_ended"
	case LinkObserved:
		return "link_observed"
	case SessionInvalid:
		return "session_invalid"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is delivered from trackers and watchers to the orchestrator.
type Event struct {
	Kind     EventKind
	Platform Platform
	// SourceID is the channel login (Twitch) or video id (YouTube).
	SourceID string
	// Link and Repost are set for LinkObserved. Repost means the watcher saw
	// the link earlier today.
	Link   string
	Repost bool
	At     time.Time
	// Err carries the cause of SessionInvalid.
	Err error
}

// emit delivers ev unless ctx ends first.
func emit(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
