package driven

import (
	"context"

	"github.com/gmoura/lavamon/internal/domain/model"
)

// SessionStore defines the driven port for persisted vendor sessions.
// One row per account; Save replaces any previous session.
type SessionStore interface {
	// Save stores or replaces the session for its account.
	Save(ctx context.Context, session model.Session) error

	// Load retrieves the session for the given account.
	// Returns (nil, nil) when no session is stored.
	Load(ctx context.Context, account string) (*model.Session, error)

	// Delete removes the session for the given account.
	Delete(ctx context.Context, account string) error
}
