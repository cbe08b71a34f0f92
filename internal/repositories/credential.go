package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/spotcore/internal/auth"
	"github.com/desertthunder/spotcore/internal/shared"
)

// Audit actions recorded in credential_events.
const (
	ActionSave  = "save"
	ActionClear = "clear"
)

var _ auth.CredentialStore = (*CredentialRepository)(nil)

// CredentialRepository implements [auth.CredentialStore] for the credential stored under key.
type CredentialRepository struct {
	db  *sql.DB
	key string
	now func() time.Time
}

// CredentialEvent is one row of the credential audit trail.
type CredentialEvent struct {
	ID        string
	Key       string
	Action    string
	CreatedAt time.Time
}

// NewCredentialRepository creates a [CredentialRepository] for key with the given database connection
func NewCredentialRepository(db *sql.DB, key string) *CredentialRepository {
	return &CredentialRepository{db: db, key: key, now: time.Now}
}

// Key returns the store key the repository reads and writes.
func (r *CredentialRepository) Key() string { return r.key }

// Load returns the stored credential, or (nil, nil) when there is none.
func (r *CredentialRepository) Load(ctx context.Context) (*auth.Credential, error) {
	query := `
		SELECT access_token, refresh_token, token_type, scope, expires_at
		FROM credentials
		WHERE store_key = ?
	`

	var (
		c            auth.Credential
		refreshToken sql.NullString
		scope        sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, r.key).Scan(&c.AccessToken, &refreshToken, &c.TokenType, &scope, &c.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, r.storeErr("load", fmt.Errorf("failed to query credential: %w", err))
	}

	c.RefreshToken = refreshToken.String
	c.Scope = scope.String
	return &c, nil
}

// Save replaces the stored credential and records the write.
func (r *CredentialRepository) Save(ctx context.Context, c *auth.Credential) error {
	if c == nil || c.AccessToken == "" {
		return r.storeErr("save", fmt.Errorf("%w: credential has no access token", shared.ErrInvalidRequest))
	}

	query := `
		INSERT INTO credentials (store_key, access_token, refresh_token, token_type, scope, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(store_key) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			scope = excluded.scope,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`

	now := r.now()
	tokenType := c.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query, r.key, c.AccessToken, nullable(c.RefreshToken), tokenType, nullable(c.Scope), c.ExpiresAt.UTC(), now)
		if err != nil {
			return fmt.Errorf("failed to upsert credential: %w", err)
		}
		return r.audit(ctx, tx, ActionSave, now)
	})
	if err != nil {
		return r.storeErr("save", err)
	}
	return nil
}

// Clear deletes the stored credential. Clearing an empty store is not an error.
func (r *CredentialRepository) Clear(ctx context.Context) error {
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM credentials WHERE store_key = ?`, r.key); err != nil {
			return fmt.Errorf("failed to delete credential: %w", err)
		}
		return r.audit(ctx, tx, ActionClear, r.now())
	})
	if err != nil {
		return r.storeErr("clear", err)
	}
	return nil
}

// Events returns the audit trail for the key, newest first, at most limit rows when limit > 0.
func (r *CredentialRepository) Events(ctx context.Context, limit int) ([]CredentialEvent, error) {
	query := `
		SELECT id, store_key, action, created_at
		FROM credential_events
		WHERE store_key = ?
		ORDER BY created_at DESC, rowid DESC
	`
	args := []any{r.key}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query credential events: %w", err)
	}
	defer rows.Close()

	var out []CredentialEvent
	for rows.Next() {
		var e CredentialEvent
		if err := rows.Scan(&e.ID, &e.Key, &e.Action, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan credential event: %w", err)
		}
		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

func (r *CredentialRepository) audit(ctx context.Context, tx *sql.Tx, action string, at time.Time) error {
	query := `INSERT INTO credential_events (id, store_key, action, created_at) VALUES (?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, query, shared.GenerateID(), r.key, action, at); err != nil {
		return fmt.Errorf("failed to record credential event: %w", err)
	}
	return nil
}

func (r *CredentialRepository) storeErr(op string, err error) error {
	return &auth.StoreError{Op: op, Key: r.key, Err: err}
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
