package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gmoura/lavamon/internal/domain/model"
	"github.com/gmoura/lavamon/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SessionStore = (*SessionRepo)(nil)

// SessionRepo is the SQLite implementation of the SessionStore port.
// Tokens are short-lived and already opaque to the vendor, so unlike
// credentials they are stored unencrypted.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new SessionRepo.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Save stores or replaces the session for its account.
func (r *SessionRepo) Save(ctx context.Context, session model.Session) error {
	const query = `INSERT OR REPLACE INTO sessions (account, access_token, refresh_token, expires_at, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)`
	_, err := r.db.Writer.ExecContext(ctx, query,
		session.Account,
		session.AccessToken,
		session.RefreshToken,
		session.ExpiresAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save session for %q: %w", session.Account, err)
	}
	return nil
}

// Load retrieves the session for the given account.
// Returns (nil, nil) when no session is stored.
func (r *SessionRepo) Load(ctx context.Context, account string) (*model.Session, error) {
	const query = `SELECT access_token, refresh_token, expires_at, updated_at FROM sessions WHERE account = ?`

	var session model.Session
	var expiresAt, updatedAt string
	err := r.db.Reader.QueryRowContext(ctx, query, account).Scan(
		&session.AccessToken,
		&session.RefreshToken,
		&expiresAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session for %q: %w", account, err)
	}

	session.Account = account
	if session.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at for %q: %w", account, err)
	}
	if session.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at for %q: %w", account, err)
	}

	return &session, nil
}

// Delete removes the session for the given account.
func (r *SessionRepo) Delete(ctx context.Context, account string) error {
	const query = `DELETE FROM sessions WHERE account = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, account)
	if err != nil {
		return fmt.Errorf("delete session for %q: %w", account, err)
	}
	return nil
}
