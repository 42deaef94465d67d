package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/gmoura/lavamon/internal/adapter/driven/machineguardian"
	sqliteadapter "github.com/gmoura/lavamon/internal/adapter/driven/sqlite"
	httphandler "github.com/gmoura/lavamon/internal/adapter/driving/http"
	"github.com/gmoura/lavamon/internal/application"
	"github.com/gmoura/lavamon/internal/config"
	"github.com/gmoura/lavamon/internal/domain/model"
	"github.com/gmoura/lavamon/internal/domain/port/driven"
	"github.com/gmoura/lavamon/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the poller and JSON API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"poll_interval", cfg.PollInterval,
		"laundry_id", cfg.LaundryID,
		"api_base_url", cfg.BaseURL,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	// 4. Run migrations on writer connection.
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("migrations complete")

	// 5. Wire stores.
	credentialStore := sqliteadapter.NewCredentialRepo(db, cfg.SecretKey)
	sessionStore := sqliteadapter.NewSessionRepo(db)

	// 6. Resolve credentials: stored credentials take priority over env vars.
	username := cfg.Username
	password := cfg.Password
	if stored, err := credentialStore.Get(ctx, "machineguardian", "username"); err == nil && stored != "" {
		username = stored
	}
	if stored, err := credentialStore.Get(ctx, "machineguardian", "password"); err == nil && stored != "" {
		password = stored
	}

	// 7. Create the vendor client (may be nil if no credentials configured).
	httpc := machineguardian.NewHTTPClient(cfg.RequestTimeout)
	newClient := func(user, pass string) driven.VendorClient {
		sess := machineguardian.NewSessionManager(httpc, cfg.BaseURL, user, pass, sessionStore)
		if stored, err := sessionStore.Load(ctx, user); err == nil && stored != nil {
			sess.Restore(*stored)
			slog.Info("restored persisted session", "username", user, "expires_at", stored.ExpiresAt)
		}
		return machineguardian.NewClient(httpc, cfg.BaseURL, cfg.LaundryID, sess)
	}

	var client driven.VendorClient
	if username != "" && password != "" {
		client = newClient(username, password)
		slog.Info("vendor client created", "username", username)
	} else {
		slog.Info("no vendor credentials configured, polling parked until credentials are provided via API")
	}

	// 7b. Create the provider for hot-swap on credential updates.
	provider := application.NewVendorClientProvider(client, username)

	// 8. Create and start the poll coordinator.
	pollSvc := application.NewPollService(provider, cfg.CardID, cfg.PollInterval)
	pollSvc.Subscribe(func(snap *model.Snapshot) {
		slog.Debug("snapshot published",
			"captured_at", snap.CapturedAt,
			"machines", len(snap.Machines),
		)
	})
	go pollSvc.Start(ctx)

	// 9. Register metrics and build the HTTP surface.
	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	apiHandler := httphandler.NewHandler(pollSvc, credentialStore, provider, newClient, slog.Default())
	mux := http.NewServeMux()
	httphandler.RegisterAPIRoutes(mux, apiHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	handler := httphandler.ApplyMiddleware(mux, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("lavamon started",
		"listen_addr", cfg.ListenAddr,
		"poll_interval", cfg.PollInterval,
	)

	// 10. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
