// Package machineguardian implements the VendorClient port against the
// Machine Guardian laundromat API.
package machineguardian

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gmoura/lavamon/internal/domain/model"
	"github.com/gmoura/lavamon/internal/domain/port/driven"
)

const (
	loginPath   = "/auth/login"
	refreshPath = "/auth/refresh"

	// appVersion is sent on every request; the vendor rejects clients that
	// omit it.
	appVersion = "1.6.0"

	// tokenExpiryBuffer treats tokens expiring within this window as
	// already expired, so a request never goes out with a token that dies
	// mid-flight.
	tokenExpiryBuffer = 60 * time.Second

	// defaultRetryAfter is used when the vendor throttles without a
	// Retry-After header.
	defaultRetryAfter = 30 * time.Second
)

// SessionManager owns the credentials and the live vendor session. It is the
// only component that sees the password; everything above it works with
// bearer tokens obtained through Token.
//
// All session mutation runs under one mutex, so at most one login/refresh
// exchange is in flight regardless of how many callers need a token;
// concurrent callers block and observe its result.
type SessionManager struct {
	httpc    *http.Client
	baseURL  string
	username string
	password string
	deviceID string
	store    driven.SessionStore // nil disables persistence

	mu             sync.Mutex
	accessToken    string
	refreshToken   string
	expiresAt      time.Time
	throttledUntil time.Time
}

// NewSessionManager creates a session manager for one vendor account.
// store may be nil when session persistence is disabled.
func NewSessionManager(httpc *http.Client, baseURL, username, password string, store driven.SessionStore) *SessionManager {
	return &SessionManager{
		httpc:    httpc,
		baseURL:  baseURL,
		username: username,
		password: password,
		deviceID: DeviceID(username),
		store:    store,
	}
}

// DeviceID derives the stable device identifier sent on login: the first 32
// hex characters of SHA-256("lavamon_" + username).
func DeviceID(username string) string {
	sum := sha256.Sum256([]byte("lavamon_" + username))
	return hex.EncodeToString(sum[:])[:32]
}

// Restore seeds the manager with a previously persisted session so a
// restarted process can resume on the refresh token instead of a password
// login. Call before the first Token.
func (m *SessionManager) Restore(session model.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessToken = session.AccessToken
	m.refreshToken = session.RefreshToken
	m.expiresAt = session.ExpiresAt
}

// Token returns a usable access token, performing a refresh or login
// exchange first when the current token is missing, expired, or was
// invalidated. It honors a pending throttle hint by failing fast with
// ThrottledError instead of hitting the vendor again.
func (m *SessionManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if until := m.throttledUntil; until.After(now) {
		return "", &driven.ThrottledError{RetryAfter: until.Sub(now)}
	}

	if m.accessToken != "" && m.expiresAt.After(now.Add(tokenExpiryBuffer)) {
		return m.accessToken, nil
	}

	if m.refreshToken != "" {
		if err := m.refreshLocked(ctx); err == nil {
			return m.accessToken, nil
		} else if driven.IsTransient(err) {
			return "", err
		} else {
			// Expired or revoked refresh token; fall back to a full login.
			slog.Debug("token refresh rejected, performing full login", "error", err)
		}
	}

	if err := m.loginLocked(ctx); err != nil {
		return "", err
	}
	return m.accessToken, nil
}

// Invalidate marks the given token unusable, forcing the next Token call to
// re-authenticate. The token is only discarded if it is still the current
// one, so a caller holding a stale token cannot clobber a session another
// caller just established.
func (m *SessionManager) Invalidate(stale string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accessToken == stale {
		m.expiresAt = time.Time{}
	}
}

// authResponse is the wire shape of login and refresh responses.
type authResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

func (m *SessionManager) loginLocked(ctx context.Context) error {
	body := map[string]any{
		"username":        m.username,
		"password":        m.password,
		"isPassportLogin": false,
		"deviceId":        m.deviceID,
	}

	resp, err := m.exchange(ctx, loginPath, body)
	if err != nil {
		return err
	}

	m.adoptLocked(resp, true)
	slog.Info("vendor login succeeded", "username", m.username)
	m.persistLocked(ctx)
	return nil
}

func (m *SessionManager) refreshLocked(ctx context.Context) error {
	resp, err := m.exchange(ctx, refreshPath, map[string]any{"refreshToken": m.refreshToken})
	if err != nil {
		return err
	}

	m.adoptLocked(resp, false)
	slog.Debug("vendor token refreshed", "username", m.username)
	m.persistLocked(ctx)
	return nil
}

// adoptLocked installs tokens from an auth exchange. A refresh exchange may
// omit the refresh token, in which case the current one is kept.
func (m *SessionManager) adoptLocked(resp *authResponse, replaceRefresh bool) {
	m.accessToken = resp.AccessToken
	if replaceRefresh || resp.RefreshToken != "" {
		m.refreshToken = resp.RefreshToken
	}
	expiresIn := resp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	m.expiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)
}

// exchange posts an auth request and classifies the outcome into the error
// taxonomy. It never retries.
func (m *SessionManager) exchange(ctx context.Context, path string, body any) (*authResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-app-version", appVersion)

	resp, err := m.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &driven.TransportError{Op: "POST " + path, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		m.throttledUntil = time.Now().Add(retryAfter)
		slog.Warn("vendor throttled auth request", "retry_after", retryAfter)
		return nil, &driven.ThrottledError{RetryAfter: retryAfter}
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusBadRequest:
		return nil, driven.ErrInvalidCredentials
	case resp.StatusCode >= 500:
		return nil, &driven.TransportError{Op: "POST " + path, Status: resp.StatusCode}
	case resp.StatusCode >= 400:
		return nil, &driven.TransportError{Op: "POST " + path, Status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &driven.TransportError{Op: "POST " + path, Err: err}
	}

	var auth authResponse
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, &driven.TransportError{Op: "POST " + path, Err: fmt.Errorf("malformed auth response: %w", err)}
	}
	if auth.AccessToken == "" {
		return nil, &driven.TransportError{Op: "POST " + path, Err: errors.New("auth response missing access token")}
	}

	return &auth, nil
}

// persistLocked saves the session through the store. Persistence is best
// effort: a storage failure must never fail an otherwise good login.
func (m *SessionManager) persistLocked(ctx context.Context) {
	if m.store == nil {
		return
	}
	session := model.Session{
		Account:      m.username,
		AccessToken:  m.accessToken,
		RefreshToken: m.refreshToken,
		ExpiresAt:    m.expiresAt,
	}
	if err := m.store.Save(ctx, session); err != nil {
		slog.Warn("persist session failed", "username", m.username, "error", err)
	}
}

// parseRetryAfter interprets a Retry-After header given in seconds.
// HTTP-date values and garbage fall back to the default hint.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return defaultRetryAfter
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(seconds) * time.Second
}
