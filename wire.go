package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/onnwee/dropwatch/catalog"
	"github.com/onnwee/dropwatch/chat"
	"github.com/onnwee/dropwatch/config"
	"github.com/onnwee/dropwatch/crypto"
	"github.com/onnwee/dropwatch/db"
	"github.com/onnwee/dropwatch/linkmatch"
	"github.com/onnwee/dropwatch/notify"
	"github.com/onnwee/dropwatch/oauth"
	"github.com/onnwee/dropwatch/server"
	"github.com/onnwee/dropwatch/shop"
	"github.com/onnwee/dropwatch/storage"
	"github.com/onnwee/dropwatch/twitchapi"
	"github.com/onnwee/dropwatch/youtubeapi"
)

const youtubeProvider = "youtube"

// tokenStore backs both the refreshers and the YouTube client.
type tokenStore interface {
	oauth.TokenStore
	youtubeapi.TokenStore
}

type app struct {
	db          *sql.DB
	tokens      tokenStore
	subscribers storage.Subscribers
	catalog     *catalog.Catalog
	sink        *notify.Fanout
	youtube     *youtubeapi.Service
	trackers    []*chat.Tracker
	sources     map[chat.Platform]chat.Source
	watcher     chat.WatcherConfig
	refreshers  []*oauth.Refresher
}

func (a *app) close() {
	if a.subscribers != nil {
		if err := a.subscribers.Close(); err != nil {
			slog.Error("failed to close subscriber storage", slog.Any("err", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{sources: make(map[chat.Platform]chat.Source)}
	if err := a.init(ctx, cfg); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if store != nil {
		a.db = store.DB
		a.tokens = store
	} else {
		slog.Info("DB_DSN not set; tokens and subscribers are kept in memory")
		a.tokens = oauth.NewMemoryStore()
	}
	if err := seedToken(ctx, a.tokens, server.TwitchProvider, cfg.TwitchOAuthToken, cfg.TwitchRefreshToken); err != nil {
		return err
	}

	a.subscribers, err = storage.NewSubscribers(cfg.StorageType, cfg.BBoltPath, store)
	if err != nil {
		return err
	}
	chats, err := cfg.TelegramChats()
	if err != nil {
		return err
	}
	if err := storage.Seed(ctx, a.subscribers, chats); err != nil {
		return err
	}

	a.sink, err = buildSinks(ctx, cfg, a.subscribers)
	if err != nil {
		return err
	}

	session := shop.New(shop.Config{
		BaseURL:  cfg.ShopBaseURL,
		Email:    cfg.ShopEmail,
		Password: cfg.ShopPassword,
		Timeout:  cfg.FetchTimeout,
	})
	a.catalog = catalog.New(session, catalog.Options{Location: cfg.Location, FetchTimeout: cfg.FetchTimeout})
	for _, p := range cfg.SeedPages() {
		a.catalog.AddPage(p)
	}

	matcher, err := linkmatch.Compile(cfg.LinkTemplate)
	if err != nil {
		return fmt.Errorf("link template: %w", err)
	}
	a.watcher = chat.WatcherConfig{
		Matcher:           matcher,
		ActiveInterval:    cfg.ChatActiveInterval,
		InactiveInterval:  cfg.ChatInactiveInterval,
		InactiveThreshold: cfg.ChatInactiveThreshold,
	}

	a.wireTwitch(cfg)
	a.wireYouTube(cfg)
	if len(a.trackers) == 0 {
		slog.Warn("no stream trackers configured; only seeded pages and manual sessions will be watched")
	}
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (*db.Store, error) {
	if cfg.DBDsn == "" {
		return nil, nil
	}
	var keys *crypto.Keyring
	if cfg.EncryptionKey != "" {
		var retired []string
		if cfg.EncryptionKeyPrevious != "" {
			retired = append(retired, cfg.EncryptionKeyPrevious)
		}
		k, err := crypto.NewKeyring(cfg.EncryptionKey, retired...)
		if err != nil {
			return nil, fmt.Errorf("encryption key: %w", err)
		}
		keys = k
	}
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(ctx, database); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return db.NewStore(database, keys), nil
}

// seedToken stores an env-provided token unless one is already persisted, so
// rotated tokens survive restarts.
func seedToken(ctx context.Context, ts oauth.TokenStore, provider, access, refresh string) error {
	if access == "" && refresh == "" {
		return nil
	}
	cur, err := ts.GetToken(ctx, provider)
	if err != nil {
		return fmt.Errorf("read %s token: %w", provider, err)
	}
	if cur.AccessToken != "" || cur.RefreshToken != "" {
		return nil
	}
	return ts.UpsertToken(ctx, db.Token{Provider: provider, AccessToken: access, RefreshToken: refresh})
}

func buildSinks(ctx context.Context, cfg *config.Config, subs storage.Subscribers) (*notify.Fanout, error) {
	sinks := []notify.Sink{notify.LogSink{}}
	if cfg.DiscordWebhookURL != "" {
		sinks = append(sinks, notify.NewDiscordWebhook(cfg.DiscordWebhookURL, "dropwatch", cfg.FetchTimeout))
	}
	if cfg.TelegramBotToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, subs)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		sinks = append(sinks, tg)
	}
	if cfg.SNSTopicARN != "" {
		sns, err := notify.NewSNS(ctx, cfg.SNSTopicARN, cfg.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("sns: %w", err)
		}
		sinks = append(sinks, sns)
	}
	f := notify.NewFanout(sinks...)
	slog.Info("notification sinks configured", slog.Int("sinks", f.Size()))
	return f, nil
}

func (a *app) wireTwitch(cfg *config.Config) {
	if !cfg.TwitchEnabled() {
		slog.Info("twitch watcher disabled (need TWITCH_CHANNEL, TWITCH_BOT_USERNAME, TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET)")
		return
	}
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Warn("twitch chat not ready; streams will be detected but chat cannot be joined until a token is stored", slog.Any("err", err))
	}
	helix := &twitchapi.HelixClient{
		AppTokenSource: &twitchapi.TokenSource{ClientID: cfg.TwitchClientID, ClientSecret: cfg.TwitchClientSecret},
		ClientID:       cfg.TwitchClientID,
	}
	a.trackers = append(a.trackers, chat.NewTracker(chat.PlatformTwitch, &twitchapi.LiveProbe{Client: helix, Login: cfg.TwitchChannel}, cfg.TwitchOnlineCheck))

	tokens := a.tokens
	a.sources[chat.PlatformTwitch] = &chat.TwitchSource{
		Username: cfg.TwitchBotUsername,
		Token: func(ctx context.Context) (string, error) {
			t, err := tokens.GetToken(ctx, server.TwitchProvider)
			return t.AccessToken, err
		},
	}
	a.refreshers = append(a.refreshers, &oauth.Refresher{
		Store:    tokens,
		Provider: server.TwitchProvider,
		Refresh: func(ctx context.Context, refreshToken string) (db.Token, error) {
			res, err := twitchapi.RefreshToken(ctx, cfg.TwitchClientID, cfg.TwitchClientSecret, refreshToken)
			if err != nil {
				return db.Token{}, err
			}
			return db.Token{AccessToken: res.AccessToken, RefreshToken: res.RefreshToken, Expiry: res.Expiry, Scope: res.Scope}, nil
		},
	})
	slog.Info("twitch watcher enabled", slog.String("channel", cfg.TwitchChannel), slog.Duration("poll", cfg.TwitchOnlineCheck))
}

func (a *app) wireYouTube(cfg *config.Config) {
	if cfg.YTAPIKey == "" && cfg.YTClientID == "" {
		slog.Info("youtube watcher disabled (need YT_API_KEY or YT_CLIENT_ID)")
		return
	}
	a.youtube = youtubeapi.New(cfg, a.tokens)
	api := a.youtube.API()
	a.sources[chat.PlatformYouTube] = &chat.YouTubeSource{API: api}

	if cfg.YouTubeEnabled() {
		channel := cfg.YTChannelID
		probe := chat.ProbeFunc(func(ctx context.Context) (string, error) {
			return api.LiveVideoID(ctx, channel)
		})
		a.trackers = append(a.trackers, chat.NewTracker(chat.PlatformYouTube, probe, cfg.YTLiveCheck))
		slog.Info("youtube watcher enabled", slog.String("channel_id", channel), slog.Duration("poll", cfg.YTLiveCheck))
	} else {
		slog.Info("youtube channel not set; manual YouTube sessions only")
	}

	if cfg.YTClientID == "" {
		return
	}
	oc := &oauth2.Config{ClientID: cfg.YTClientID, ClientSecret: cfg.YTClientSecret, Endpoint: google.Endpoint, RedirectURL: cfg.YTRedirectURI}
	a.refreshers = append(a.refreshers, &oauth.Refresher{
		Store:    a.tokens,
		Provider: youtubeProvider,
		Interval: 10 * time.Minute,
		Window:   20 * time.Minute,
		Refresh: func(ctx context.Context, refreshToken string) (db.Token, error) {
			tok, err := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
			if err != nil {
				return db.Token{}, err
			}
			return db.Token{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, Expiry: tok.Expiry}, nil
		},
	})
}
