// Package config loads environment variables and provides a typed Config used across the service.
// Defaults let the binary start with only shop credentials; platform watchers and sinks are
// enabled by the presence of their credentials.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
	HTTPAddr  string `mapstructure:"http_addr"`

	// Shop
	ShopBaseURL         string `mapstructure:"shop_base_url"`
	ShopEmail           string `mapstructure:"shop_email"`
	ShopPassword        string `mapstructure:"shop_password"`
	FetchTimeoutSeconds int64  `mapstructure:"fetch_timeout"`
	TimeZone            string `mapstructure:"catalog_timezone"`

	// Detection
	LinkTemplate          string `mapstructure:"link_template"`
	CampaignPages         string `mapstructure:"campaign_pages"`
	ScrapeIntervalSeconds int64  `mapstructure:"scrape_interval"`

	// Twitch
	TwitchChannel            string `mapstructure:"twitch_channel"`
	TwitchBotUsername        string `mapstructure:"twitch_bot_username"`
	TwitchOAuthToken         string `mapstructure:"twitch_oauth_token"`
	TwitchRefreshToken       string `mapstructure:"twitch_refresh_token"`
	TwitchClientID           string `mapstructure:"twitch_client_id"`
	TwitchClientSecret       string `mapstructure:"twitch_client_secret"`
	TwitchRedirectURI        string `mapstructure:"twitch_redirect_uri"`
	TwitchScopes             string `mapstructure:"twitch_scopes"`
	TwitchOnlineCheckSeconds int64  `mapstructure:"twitch_online_check_interval"`

	// YouTube
	YTChannelID        string `mapstructure:"yt_channel_id"`
	YTAPIKey           string `mapstructure:"yt_api_key"`
	YTClientID         string `mapstructure:"yt_client_id"`
	YTClientSecret     string `mapstructure:"yt_client_secret"`
	YTRedirectURI      string `mapstructure:"yt_redirect_uri"`
	YTScopes           string `mapstructure:"yt_scopes"`
	YTLiveCheckSeconds int64  `mapstructure:"yt_live_check_interval"`

	// Chat cadence
	ChatActiveSeconds    int64 `mapstructure:"chat_active_interval"`
	ChatInactiveSeconds  int64 `mapstructure:"chat_inactive_interval"`
	ChatThresholdSeconds int64 `mapstructure:"chat_inactive_threshold"`

	// Persistence
	DBDsn                 string `mapstructure:"db_dsn"`
	StorageType           string `mapstructure:"storage_type"`
	BBoltPath             string `mapstructure:"bbolt_path"`
	EncryptionKey         string `mapstructure:"encryption_key"`
	EncryptionKeyPrevious string `mapstructure:"encryption_key_previous"`

	// Notification sinks
	DiscordWebhookURL string `mapstructure:"discord_webhook_url"`
	TelegramBotToken  string `mapstructure:"telegram_bot_token"`
	TelegramChatIDs   string `mapstructure:"telegram_chat_ids"`
	SNSTopicARN       string `mapstructure:"sns_topic_arn"`
	AWSRegion         string `mapstructure:"aws_region"`

	// Admin API
	AdminToken         string `mapstructure:"admin_token"`
	AdminUsername      string `mapstructure:"admin_username"`
	AdminPassword      string `mapstructure:"admin_password"`
	CORSPermissive     bool   `mapstructure:"cors_permissive"`
	CORSAllowedOrigins string `mapstructure:"cors_allowed_origins"`
	RateLimitEnabled   bool   `mapstructure:"rate_limit_enabled"`
	RateLimitRequests  int    `mapstructure:"rate_limit_requests_per_ip"`
	RateLimitSeconds   int64  `mapstructure:"rate_limit_window_seconds"`

	ShutdownGraceSeconds int64 `mapstructure:"shutdown_grace"`

	ScrapeInterval        time.Duration  `mapstructure:"-"`
	FetchTimeout          time.Duration  `mapstructure:"-"`
	TwitchOnlineCheck     time.Duration  `mapstructure:"-"`
	YTLiveCheck           time.Duration  `mapstructure:"-"`
	ChatActiveInterval    time.Duration  `mapstructure:"-"`
	ChatInactiveInterval  time.Duration  `mapstructure:"-"`
	ChatInactiveThreshold time.Duration  `mapstructure:"-"`
	ShutdownGrace         time.Duration  `mapstructure:"-"`
	RateLimitWindow       time.Duration  `mapstructure:"-"`
	Location              *time.Location `mapstructure:"-"`
}

// Load reads .env (if present) and environment variables, applies defaults and derives durations.
// Interval variables are whole seconds.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("http_addr", ":8080")

	v.SetDefault("shop_base_url", "https://www.inet.se")
	v.SetDefault("shop_email", "")
	v.SetDefault("shop_password", "")
	v.SetDefault("fetch_timeout", 30)
	v.SetDefault("catalog_timezone", "Europe/Stockholm")

	v.SetDefault("link_template", "https://www.inet.se/kampanj/*")
	v.SetDefault("campaign_pages", "")
	v.SetDefault("scrape_interval", 120)

	v.SetDefault("twitch_channel", "")
	v.SetDefault("twitch_bot_username", "")
	v.SetDefault("twitch_oauth_token", "")
	v.SetDefault("twitch_refresh_token", "")
	v.SetDefault("twitch_client_id", "")
	v.SetDefault("twitch_client_secret", "")
	v.SetDefault("twitch_redirect_uri", "")
	v.SetDefault("twitch_scopes", "chat:read")
	v.SetDefault("twitch_online_check_interval", 300)

	v.SetDefault("yt_channel_id", "")
	v.SetDefault("yt_api_key", "")
	v.SetDefault("yt_client_id", "")
	v.SetDefault("yt_client_secret", "")
	v.SetDefault("yt_redirect_uri", "")
	v.SetDefault("yt_scopes", "https://www.googleapis.com/auth/youtube.readonly")
	v.SetDefault("yt_live_check_interval", 300)

	v.SetDefault("chat_active_interval", 5)
	v.SetDefault("chat_inactive_interval", 30)
	v.SetDefault("chat_inactive_threshold", 120)

	v.SetDefault("db_dsn", "")
	v.SetDefault("storage_type", "memory")
	v.SetDefault("bbolt_path", "./data/subscribers.db")
	v.SetDefault("encryption_key", "")
	v.SetDefault("encryption_key_previous", "")

	v.SetDefault("discord_webhook_url", "")
	v.SetDefault("telegram_bot_token", "")
	v.SetDefault("telegram_chat_ids", "")
	v.SetDefault("sns_topic_arn", "")
	v.SetDefault("aws_region", "")

	v.SetDefault("admin_token", "")
	v.SetDefault("admin_username", "")
	v.SetDefault("admin_password", "")
	v.SetDefault("cors_permissive", true)
	v.SetDefault("cors_allowed_origins", "")
	v.SetDefault("rate_limit_enabled", true)
	v.SetDefault("rate_limit_requests_per_ip", 10)
	v.SetDefault("rate_limit_window_seconds", 60)
	v.SetDefault("shutdown_grace", 10)

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.derive(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) derive() error {
	secs := []struct {
		name string
		in   int64
		out  *time.Duration
	}{
		{"scrape_interval", c.ScrapeIntervalSeconds, &c.ScrapeInterval},
		{"fetch_timeout", c.FetchTimeoutSeconds, &c.FetchTimeout},
		{"twitch_online_check_interval", c.TwitchOnlineCheckSeconds, &c.TwitchOnlineCheck},
		{"yt_live_check_interval", c.YTLiveCheckSeconds, &c.YTLiveCheck},
		{"chat_active_interval", c.ChatActiveSeconds, &c.ChatActiveInterval},
		{"chat_inactive_interval", c.ChatInactiveSeconds, &c.ChatInactiveInterval},
		{"chat_inactive_threshold", c.ChatThresholdSeconds, &c.ChatInactiveThreshold},
		{"shutdown_grace", c.ShutdownGraceSeconds, &c.ShutdownGrace},
		{"rate_limit_window_seconds", c.RateLimitSeconds, &c.RateLimitWindow},
	}
	for _, s := range secs {
		if s.in <= 0 {
			return fmt.Errorf("invalid %s (must be positive seconds)", s.name)
		}
		*s.out = time.Duration(s.in) * time.Second
	}
	if strings.TrimSpace(c.LinkTemplate) == "" {
		return fmt.Errorf("link_template must not be empty")
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return fmt.Errorf("invalid catalog_timezone %q: %w", c.TimeZone, err)
	}
	c.Location = loc
	return nil
}

// AllowedOrigins returns the CORS origins accepted when CORSPermissive is off.
func (c *Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// SeedPages returns the campaign pages configured at startup.
func (c *Config) SeedPages() []string {
	return splitList(c.CampaignPages)
}

// TelegramChats parses TELEGRAM_CHAT_IDS (comma or space separated).
func (c *Config) TelegramChats() ([]int64, error) {
	var out []int64
	for _, f := range splitList(c.TelegramChatIDs) {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid telegram chat id %q: %w", f, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// TwitchEnabled reports whether the Twitch watcher has what it needs: a channel, a bot
// account and app credentials for the liveness probe.
func (c *Config) TwitchEnabled() bool {
	return c.TwitchChannel != "" && c.TwitchBotUsername != "" && c.TwitchClientID != "" && c.TwitchClientSecret != ""
}

// YouTubeEnabled reports whether a YouTube channel is configured with some credential.
func (c *Config) YouTubeEnabled() bool {
	return c.YTChannelID != "" && (c.YTAPIKey != "" || c.YTClientID != "")
}

// ValidateChatReady checks the Twitch chat fields once TwitchEnabled is true.
func (c *Config) ValidateChatReady() error {
	if c.TwitchChannel == "" || c.TwitchBotUsername == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CHANNEL, TWITCH_BOT_USERNAME")
	}
	if c.TwitchOAuthToken == "" && c.TwitchRefreshToken == "" && c.DBDsn == "" {
		return fmt.Errorf("missing twitch chat token: set TWITCH_OAUTH_TOKEN, TWITCH_REFRESH_TOKEN or authorize via /auth/twitch/start with DB_DSN")
	}
	return nil
}

func splitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})
}
