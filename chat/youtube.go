package chat

import (
	"context"
	"errors"

	"github.com/onnwee/dropwatch/youtubeapi"
)

// YouTubeAPI is the part of youtubeapi.Client the source uses.
type YouTubeAPI interface {
	LiveChatID(ctx context.Context, videoID string) (string, error)
	ChatMessages(ctx context.Context, chatID, pageToken string) (*youtubeapi.ChatPage, error)
}

// YouTubeSource reads a live video's chat through the Data API.
type YouTubeSource struct {
	API YouTubeAPI
}

// Open resolves the video's active chat. A video that is not live, or does
// not exist, yields *InvalidSessionError.
func (s *YouTubeSource) Open(ctx context.Context, videoID string) (Conn, error) {
	chatID, err := s.API.LiveChatID(ctx, videoID)
	if err != nil {
		return nil, youtubeErr(videoID, err)
	}
	return &youtubeConn{api: s.API, videoID: videoID, chatID: chatID}, nil
}

type youtubeConn struct {
	api     YouTubeAPI
	videoID string
	chatID  string
}

// Poll reads the page after cursor. The server's polling interval is passed
// through as RetryAfter.
func (c *youtubeConn) Poll(ctx context.Context, cursor string) (Batch, error) {
	page, err := c.api.ChatMessages(ctx, c.chatID, cursor)
	if err != nil {
		return Batch{Cursor: cursor}, youtubeErr(c.videoID, err)
	}
	b := Batch{Cursor: page.NextPageToken, RetryAfter: page.PollingInterval}
	if b.Cursor == "" {
		b.Cursor = cursor
	}
	for _, m := range page.Messages {
		b.Messages = append(b.Messages, Message{Author: m.Author, Text: m.Text})
	}
	return b, nil
}

func (c *youtubeConn) Close() error { return nil }

func youtubeErr(videoID string, err error) error {
	if errors.Is(err, youtubeapi.ErrChatUnavailable) {
		return &InvalidSessionError{SourceID: videoID, Err: err}
	}
	return err
}
