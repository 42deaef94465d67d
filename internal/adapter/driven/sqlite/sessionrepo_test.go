package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmoura/lavamon/internal/domain/model"
)

func TestSessionRepo_SaveAndLoad(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSessionRepo(db)
	ctx := context.Background()

	expiresAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	err := repo.Save(ctx, model.Session{
		Account:      "alice@example.com",
		AccessToken:  "access-abc",
		RefreshToken: "refresh-def",
		ExpiresAt:    expiresAt,
	})
	require.NoError(t, err)

	got, err := repo.Load(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice@example.com", got.Account)
	assert.Equal(t, "access-abc", got.AccessToken)
	assert.Equal(t, "refresh-def", got.RefreshToken)
	assert.True(t, got.ExpiresAt.Equal(expiresAt))
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestSessionRepo_LoadMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSessionRepo(db)

	got, err := repo.Load(context.Background(), "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSessionRepo_SaveReplaces(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSessionRepo(db)
	ctx := context.Background()

	session := model.Session{
		Account:      "alice@example.com",
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	require.NoError(t, repo.Save(ctx, session))

	session.AccessToken = "new-access"
	session.RefreshToken = "new-refresh"
	require.NoError(t, repo.Save(ctx, session))

	got, err := repo.Load(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "new-access", got.AccessToken)
	assert.Equal(t, "new-refresh", got.RefreshToken)
}

func TestSessionRepo_Delete(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSessionRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, model.Session{
		Account:     "alice@example.com",
		AccessToken: "access-abc",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))
	require.NoError(t, repo.Delete(ctx, "alice@example.com"))

	got, err := repo.Load(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Nil(t, got)
}
