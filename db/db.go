// Package db holds the Postgres connection, schema migrations, and the small
// amount of state that must survive restarts: OAuth tokens and Telegram
// subscribers.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"github.com/onnwee/dropwatch/crypto"
)

// Connect opens a Postgres pool for dsn. The pool is lazy; callers ping or
// migrate to surface connection errors.
func Connect(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty database dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Store reads and writes persisted state. With a nil keyring tokens are
// stored in plaintext (encryption_version 0).
type Store struct {
	DB   *sql.DB
	keys *crypto.Keyring
}

func NewStore(db *sql.DB, keys *crypto.Keyring) *Store {
	if keys == nil {
		slog.Warn("ENCRYPTION_KEY not set, OAuth tokens will be stored in plaintext", slog.String("component", "db"))
	}
	return &Store{DB: db, keys: keys}
}

// Token is a stored OAuth credential.
type Token struct {
	Provider     string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

// UpsertToken stores or replaces the token for t.Provider.
func (s *Store) UpsertToken(ctx context.Context, t Token) error {
	access, refresh := t.AccessToken, t.RefreshToken
	version := 0
	var keyID sql.NullString
	if s.keys != nil {
		var err error
		var id string
		if access, id, err = s.keys.Seal(access); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, _, err = s.keys.Seal(refresh); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		version, keyID = 1, sql.NullString{String: id, Valid: true}
	}
	var expiry sql.NullTime
	if !t.Expiry.IsZero() {
		expiry = sql.NullTime{Time: t.Expiry, Valid: true}
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, encryption_version, encryption_key_id, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,NOW())
		ON CONFLICT(provider) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			expires_at=EXCLUDED.expires_at,
			scope=EXCLUDED.scope,
			encryption_version=EXCLUDED.encryption_version,
			encryption_key_id=EXCLUDED.encryption_key_id,
			updated_at=NOW()`,
		t.Provider, access, refresh, expiry, t.Scope, version, keyID)
	if err != nil {
		return fmt.Errorf("upsert %s token: %w", t.Provider, err)
	}
	return nil
}

// GetToken returns the stored token for provider; a missing row yields a
// zero Token and no error.
func (s *Store) GetToken(ctx context.Context, provider string) (Token, error) {
	t := Token{Provider: provider}
	var (
		expiry  sql.NullTime
		version int
		keyID   sql.NullString
	)
	err := s.DB.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, expires_at, scope, encryption_version, encryption_key_id
		FROM oauth_tokens WHERE provider = $1`, provider).
		Scan(&t.AccessToken, &t.RefreshToken, &expiry, &t.Scope, &version, &keyID)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{Provider: provider}, nil
	}
	if err != nil {
		return Token{}, fmt.Errorf("get %s token: %w", provider, err)
	}
	if expiry.Valid {
		t.Expiry = expiry.Time
	}
	if version == 0 {
		return t, nil
	}
	if s.keys == nil {
		return Token{}, fmt.Errorf("%s token is encrypted but ENCRYPTION_KEY is not configured", provider)
	}
	if t.AccessToken, err = s.keys.Open(t.AccessToken, keyID.String); err != nil {
		return Token{}, fmt.Errorf("decrypt access token: %w", err)
	}
	if t.RefreshToken, err = s.keys.Open(t.RefreshToken, keyID.String); err != nil {
		return Token{}, fmt.Errorf("decrypt refresh token: %w", err)
	}
	return t, nil
}

// UpsertOAuthToken satisfies youtubeapi.TokenStore. raw carries the scope.
func (s *Store) UpsertOAuthToken(ctx context.Context, provider, accessToken, refreshToken string, expiry time.Time, raw string) error {
	return s.UpsertToken(ctx, Token{Provider: provider, AccessToken: accessToken, RefreshToken: refreshToken, Expiry: expiry, Scope: raw})
}

// GetOAuthToken satisfies youtubeapi.TokenStore.
func (s *Store) GetOAuthToken(ctx context.Context, provider string) (accessToken, refreshToken string, expiry time.Time, raw string, err error) {
	t, err := s.GetToken(ctx, provider)
	return t.AccessToken, t.RefreshToken, t.Expiry, t.Scope, err
}

// AddSubscriber records chatID; it reports false when already present.
func (s *Store) AddSubscriber(ctx context.Context, chatID int64) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO telegram_subscribers(chat_id) VALUES($1) ON CONFLICT(chat_id) DO NOTHING`, chatID)
	if err != nil {
		return false, fmt.Errorf("add subscriber %d: %w", chatID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RemoveSubscriber deletes chatID; it reports false when it was not present.
func (s *Store) RemoveSubscriber(ctx context.Context, chatID int64) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM telegram_subscribers WHERE chat_id = $1`, chatID)
	if err != nil {
		return false, fmt.Errorf("remove subscriber %d: %w", chatID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListSubscribers returns chat ids in ascending order.
func (s *Store) ListSubscribers(ctx context.Context) ([]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT chat_id FROM telegram_subscribers ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
