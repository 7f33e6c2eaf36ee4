// Package youtubeapi wraps Google OAuth2 client config and the YouTube Data API
// for live detection and live chat reads. OAuth tokens are persisted via the
// provided TokenStore so they can be refreshed across restarts; without a
// stored token an API key is used.
package youtubeapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/dropwatch/config"
)

const provider = "youtube"

type TokenStore interface {
	UpsertOAuthToken(ctx context.Context, provider string, accessToken string, refreshToken string, expiry time.Time, raw string) error
	GetOAuthToken(ctx context.Context, provider string) (accessToken string, refreshToken string, expiry time.Time, raw string, err error)
}

var errNoToken = errors.New("no youtube token stored")

type Service struct {
	cfg   *config.Config
	db    TokenStore
	oauth *oauth2.Config
}

func New(cfg *config.Config, ts TokenStore) *Service {
	scopes := []string{yt.YoutubeReadonlyScope}
	if cfg.YTScopes != "" {
		// allow comma or space separated
		if fields := strings.Fields(strings.ReplaceAll(cfg.YTScopes, ",", " ")); len(fields) > 0 {
			scopes = fields
		}
	}
	oauth := &oauth2.Config{
		ClientID:     cfg.YTClientID,
		ClientSecret: cfg.YTClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  cfg.YTRedirectURI,
		Scopes:       scopes,
	}
	return &Service{cfg: cfg, db: ts, oauth: oauth}
}

func (s *Service) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a token and persists it.
func (s *Service) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	s.persist(ctx, tok)
	return tok, nil
}

func (s *Service) persist(ctx context.Context, tok *oauth2.Token) {
	if s.db == nil {
		return
	}
	rawBytes, _ := json.Marshal(tok)
	if err := s.db.UpsertOAuthToken(ctx, provider, tok.AccessToken, tok.RefreshToken, tok.Expiry, string(rawBytes)); err != nil {
		slog.Warn("youtube token persist failed", slog.Any("err", err))
	}
}

func (s *Service) refreshIfNeeded(ctx context.Context) (*oauth2.Token, error) {
	if s.db == nil {
		return nil, errNoToken
	}
	access, refresh, expiry, raw, err := s.db.GetOAuthToken(ctx, provider)
	if err != nil {
		return nil, err
	}
	if access == "" {
		return nil, errNoToken
	}
	var tok oauth2.Token
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &tok)
	}
	if tok.AccessToken == "" {
		tok.AccessToken = access
	}
	tok.RefreshToken = refresh
	tok.Expiry = expiry
	if time.Until(tok.Expiry) > 2*time.Minute {
		return &tok, nil
	}
	newTok, err := s.oauth.TokenSource(ctx, &tok).Token()
	if err != nil {
		return &tok, err
	}
	s.persist(ctx, newTok)
	return newTok, nil
}

// Client returns a Data API service authorized by the stored OAuth token, or
// by the API key when no token has been stored.
func (s *Service) Client(ctx context.Context) (*yt.Service, error) {
	tok, err := s.refreshIfNeeded(ctx)
	switch {
	case err == nil:
		return yt.NewService(ctx, option.WithHTTPClient(s.oauth.Client(ctx, tok)))
	case errors.Is(err, errNoToken) && s.cfg.YTAPIKey != "":
		return yt.NewService(ctx, option.WithAPIKey(s.cfg.YTAPIKey))
	default:
		return nil, err
	}
}

// API returns a live chat client that resolves its service through Client on every call.
func (s *Service) API() *Client {
	return NewClient(s.Client)
}
