package model

import "time"

// Session is the persisted authentication state for one vendor account.
// Persisting it lets a restarted process resume with the refresh token
// instead of a fresh password login.
type Session struct {
	Account      string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// Expired reports whether the access token is expired or will expire within
// the given buffer.
func (s Session) Expired(now time.Time, buffer time.Duration) bool {
	return !s.ExpiresAt.After(now.Add(buffer))
}
