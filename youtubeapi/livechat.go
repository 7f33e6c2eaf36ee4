package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/googleapi"
	yt "google.golang.org/api/youtube/v3"
)

// ErrChatUnavailable means the video is not live, its chat ended, or the id
// does not exist. The session is over; polling again will not help.
var ErrChatUnavailable = errors.New("youtube live chat unavailable")

// Reasons the Data API uses for chats that cannot be read any more.
var terminalReasons = map[string]bool{
	"liveChatEnded":    true,
	"liveChatDisabled": true,
	"liveChatNotFound": true,
	"videoNotFound":    true,
	"forbidden":        true,
}

// ChatMessage is one text message from a live chat.
type ChatMessage struct {
	Author string
	Text   string
}

// ChatPage is one liveChatMessages.list response.
type ChatPage struct {
	Messages      []ChatMessage
	NextPageToken string
	// PollingInterval is the server's requested wait before the next call.
	PollingInterval time.Duration
}

// Client performs the Data API calls the chat watcher needs.
type Client struct {
	service func(ctx context.Context) (*yt.Service, error)
}

func NewClient(service func(ctx context.Context) (*yt.Service, error)) *Client {
	return &Client{service: service}
}

// LiveVideoID returns the id of the channel's current live broadcast, or ""
// when nothing is live.
func (c *Client) LiveVideoID(ctx context.Context, channelID string) (string, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return "", err
	}
	resp, err := svc.Search.List([]string{"id"}).
		ChannelId(channelID).
		EventType("live").
		Type("video").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("youtube search live: %w", err)
	}
	for _, item := range resp.Items {
		if item.Id != nil && item.Id.VideoId != "" {
			return item.Id.VideoId, nil
		}
	}
	return "", nil
}

// LiveChatID resolves the active chat of a live video.
func (c *Client) LiveChatID(ctx context.Context, videoID string) (string, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return "", err
	}
	resp, err := svc.Videos.List([]string{"liveStreamingDetails"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Items) == 0 {
		return "", fmt.Errorf("video %s not found: %w", videoID, ErrChatUnavailable)
	}
	d := resp.Items[0].LiveStreamingDetails
	if d == nil || d.ActiveLiveChatId == "" {
		return "", fmt.Errorf("video %s has no active chat: %w", videoID, ErrChatUnavailable)
	}
	return d.ActiveLiveChatId, nil
}

// ChatMessages reads messages after pageToken ("" for the start).
func (c *Client) ChatMessages(ctx context.Context, chatID, pageToken string) (*ChatPage, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}
	call := svc.LiveChatMessages.List(chatID, []string{"snippet", "authorDetails"}).Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, classify(err)
	}
	page := &ChatPage{
		NextPageToken:   resp.NextPageToken,
		PollingInterval: time.Duration(resp.PollingIntervalMillis) * time.Millisecond,
	}
	for _, item := range resp.Items {
		if item.Snippet == nil {
			continue
		}
		text := item.Snippet.DisplayMessage
		if text == "" && item.Snippet.TextMessageDetails != nil {
			text = item.Snippet.TextMessageDetails.MessageText
		}
		if text == "" {
			continue
		}
		m := ChatMessage{Text: text}
		if item.AuthorDetails != nil {
			m.Author = item.AuthorDetails.DisplayName
		}
		page.Messages = append(page.Messages, m)
	}
	return page, nil
}

func classify(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return err
	}
	if gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %v", ErrChatUnavailable, err)
	}
	for _, item := range gerr.Errors {
		if terminalReasons[item.Reason] {
			return fmt.Errorf("%w: %s", ErrChatUnavailable, item.Reason)
		}
	}
	return err
}
