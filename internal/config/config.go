// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"
)

// DefaultBaseURL is the production Machine Guardian API endpoint.
const DefaultBaseURL = "https://api.machine-guardian.com"

// Config holds the application configuration loaded from environment variables.
type Config struct {
	Username       string
	Password       string
	LaundryID      string
	CardID         string
	BaseURL        string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	ListenAddr     string
	DBPath         string
	SecretKey      []byte // 32-byte AES key; nil disables credential storage
}

// HasCredentials returns true when both username and password are non-empty.
// Used by the composition root to decide whether to create a vendor client
// at startup or start with a nil client in the provider.
func (c *Config) HasCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// Load reads configuration from environment variables and returns a
// validated Config. LAVAMON_LAUNDRY_ID is required. Account credentials
// (LAVAMON_USERNAME, LAVAMON_PASSWORD) are optional; if absent, the app
// starts but polling is parked until credentials are provided via the API.
// Optional variables with defaults: LAVAMON_POLL_INTERVAL (60s),
// LAVAMON_REQUEST_TIMEOUT (15s), LAVAMON_LISTEN_ADDR (127.0.0.1:8080),
// LAVAMON_DB_PATH (lavamon.db), LAVAMON_API_BASE_URL.
func Load() (*Config, error) {
	laundryID := os.Getenv("LAVAMON_LAUNDRY_ID")
	if laundryID == "" {
		return nil, fmt.Errorf("LAVAMON_LAUNDRY_ID is required")
	}

	pollInterval := 60 * time.Second
	if v, ok := os.LookupEnv("LAVAMON_POLL_INTERVAL"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("LAVAMON_POLL_INTERVAL has invalid duration %q: %w", v, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("LAVAMON_POLL_INTERVAL must be positive, got %q", v)
		}
		pollInterval = parsed
	}

	requestTimeout := 15 * time.Second
	if v, ok := os.LookupEnv("LAVAMON_REQUEST_TIMEOUT"); ok {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("LAVAMON_REQUEST_TIMEOUT has invalid duration %q: %w", v, err)
		}
		if parsed <= 0 {
			return nil, fmt.Errorf("LAVAMON_REQUEST_TIMEOUT must be positive, got %q", v)
		}
		requestTimeout = parsed
	}

	listenAddr := "127.0.0.1:8080"
	if v, ok := os.LookupEnv("LAVAMON_LISTEN_ADDR"); ok {
		listenAddr = v
	}

	dbPath := "lavamon.db"
	if v, ok := os.LookupEnv("LAVAMON_DB_PATH"); ok {
		dbPath = v
	}

	baseURL := DefaultBaseURL
	if v, ok := os.LookupEnv("LAVAMON_API_BASE_URL"); ok {
		baseURL = v
	}

	var secretKey []byte
	if v, ok := os.LookupEnv("LAVAMON_SECRET_KEY"); ok && v != "" {
		decoded, err := hex.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("LAVAMON_SECRET_KEY is not valid hex: %w", err)
		}
		if len(decoded) != 32 {
			return nil, fmt.Errorf("LAVAMON_SECRET_KEY must decode to 32 bytes, got %d", len(decoded))
		}
		secretKey = decoded
	}

	return &Config{
		Username:       os.Getenv("LAVAMON_USERNAME"),
		Password:       os.Getenv("LAVAMON_PASSWORD"),
		LaundryID:      laundryID,
		CardID:         os.Getenv("LAVAMON_CARD_ID"),
		BaseURL:        baseURL,
		PollInterval:   pollInterval,
		RequestTimeout: requestTimeout,
		ListenAddr:     listenAddr,
		DBPath:         dbPath,
		SecretKey:      secretKey,
	}, nil
}
