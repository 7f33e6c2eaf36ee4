package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// AuthorizeURL is the Twitch user consent endpoint.
const AuthorizeURL = "https://id.twitch.tv/oauth2/authorize"

// UserTokenURL is where code exchanges and refreshes are posted. Tests point
// it at a local server.
var UserTokenURL = DefaultTokenURL

type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	Scope        []string `json:"scope"`
	ExpiresIn    int      `json:"expires_in"`
}

// UserToken is a user access token as returned by the code and refresh grants.
type UserToken struct {
	AccessToken  string
	RefreshToken string
	Scope        string
	Expiry       time.Time
}

func (r tokenResponse) userToken() *UserToken {
	return &UserToken{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		Scope:        strings.Join(r.Scope, " "),
		Expiry:       ComputeExpiry(r.ExpiresIn),
	}
}

// BuildAuthorizeURL constructs the user authorization URL for the code grant.
// The chat bot account needs chat:read.
func BuildAuthorizeURL(clientID, redirectURI, scopes, state string) (string, error) {
	if clientID == "" || redirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", clientID)
	v.Set("redirect_uri", redirectURI)
	if scopes != "" {
		v.Set("scope", strings.TrimSpace(strings.ReplaceAll(scopes, ",", " ")))
	}
	if state != "" {
		v.Set("state", state)
	}
	return AuthorizeURL + "?" + v.Encode(), nil
}

// ExchangeAuthCode trades an authorization code for access and refresh tokens.
func ExchangeAuthCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*UserToken, error) {
	if clientID == "" || clientSecret == "" || code == "" || redirectURI == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	form := map[string]string{
		"client_id":     clientID,
		"client_secret": clientSecret,
		"code":          code,
		"grant_type":    "authorization_code",
		"redirect_uri":  redirectURI,
	}
	var res tokenResponse
	if err := postTokenForm(ctx, nil, UserTokenURL, form, "twitch auth code exchange", &res); err != nil {
		return nil, err
	}
	return res.userToken(), nil
}

// RefreshToken exchanges a refresh token for a new access token.
func RefreshToken(ctx context.Context, clientID, clientSecret, refreshToken string) (*UserToken, error) {
	if clientID == "" || clientSecret == "" || refreshToken == "" {
		return nil, errors.New("missing clientID/clientSecret/refreshToken")
	}
	form := map[string]string{
		"client_id":     clientID,
		"client_secret": clientSecret,
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}
	var res tokenResponse
	if err := postTokenForm(ctx, nil, UserTokenURL, form, "twitch refresh", &res); err != nil {
		return nil, err
	}
	tok := res.userToken()
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return tok, nil
}

// ComputeExpiry returns absolute expiry time from seconds, defaulting to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}

// postTokenForm posts form to a Twitch token endpoint and decodes the JSON
// reply into out. Non-200 replies become errors carrying the start of the body.
func postTokenForm(ctx context.Context, hc *http.Client, endpoint string, form map[string]string, what string, out any) error {
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := resty.NewWithClient(hc).R().
		SetContext(ctx).
		SetFormData(form).
		Post(endpoint)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if resp.StatusCode() != http.StatusOK {
		body := resp.Body()
		if len(body) > 512 {
			body = body[:512]
		}
		return fmt.Errorf("%s failed: %s: %s", what, resp.Status(), body)
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("%s: decode: %w", what, err)
	}
	return nil
}
