package main

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"nostrpay-server/internal/auth"
	"nostrpay-server/internal/cache"
	"nostrpay-server/internal/nwc"
	"nostrpay-server/internal/relay"
	"nostrpay-server/internal/store"
	"nostrpay-server/internal/types"
)

// Request body size limits
const (
	maxBodySize = 32 * 1024 // 32KB for POST requests
)

// Shared server state, wired once in main.
var (
	cfg           Config
	loginEngine   *auth.Engine
	wallet        *WalletManager
	rateFetcher   *RateFetcher
	settingsStore *SettingsStore
)

// limitBody wraps an HTTP handler to limit request body size
func limitBody(next http.HandlerFunc, maxBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next(w, r)
	}
}

// securityHeaders wraps an HTTP handler to add security headers
func securityHeaders(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		csp := "default-src 'self'; " +
			"img-src 'self' data:; " +
			"style-src 'self' 'unsafe-inline'; " +
			"script-src 'self'"
		w.Header().Set("Content-Security-Policy", csp)
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next(w, r)
	}
}

func newCacheBackend(redisURL string) (cache.Backend, error) {
	if redisURL == "" {
		slog.Info("using in-memory cache backend")
		return cache.NewMemoryCache(time.Minute), nil
	}
	backend, err := cache.NewRedisCache(redisURL, "nostrpay:")
	if err != nil {
		return nil, err
	}
	slog.Info("using redis cache backend")
	return backend, nil
}

func sessionSecret() []byte {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret)
	}
	// Dev only: sessions won't survive a restart
	secret := make([]byte, 32)
	rand.Read(secret)
	slog.Warn("SESSION_SECRET not set, using ephemeral secret")
	return secret
}

func main() {
	InitLogger()

	ctx := context.Background()

	var err error
	cfg, err = LoadConfig(ctx)
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	backend, err := newCacheBackend(cfg.RedisURL)
	if err != nil {
		slog.Error("cache backend error", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	accounts, err := store.OpenSQLite(cfg.DatabasePath)
	if err != nil {
		slog.Error("opening database failed", "error", err)
		os.Exit(1)
	}
	defer accounts.Close()

	challenges := auth.NewChallengeStore(backend, cfg.ChallengeTTL)
	resolver := auth.NewResolver(accounts, func(identity types.Identity) {
		slog.Info("new account linked", "account_id", identity.AccountID, "username", identity.Username)
	})
	sessions := auth.NewSessionIssuer(sessionSecret(), cfg.SessionTTL)
	loginEngine = auth.NewEngine(challenges, resolver, sessions, cfg.MaxClockSkew)

	settingsStore = NewSettingsStore(backend)
	rateFetcher = NewRateFetcher(cfg.RateCacheTTL)

	pool := relay.NewPool()
	defer pool.Close()

	scheme := nwc.EncryptionNip44
	if cfg.NWCEncryption == "nip04" {
		scheme = nwc.EncryptionNip04
	}
	wallet = NewWalletManager(settingsStore, pool, scheme, cfg.NWCTimeout)

	// Seed the wallet connection from the environment on first boot only;
	// a value already in the settings store wins.
	if cfg.NWCConnection != "" {
		stored, err := settingsStore.NWCConnection(ctx)
		if err == nil && stored == "" {
			if err := wallet.SetConnection(ctx, cfg.NWCConnection); err != nil {
				slog.Error("NWC_CONNECTION is invalid", "error", err)
				os.Exit(1)
			}
			slog.Info("wallet connection seeded from environment")
		}
	}

	mux := http.NewServeMux()

	fs := http.FileServer(http.Dir("./static"))
	mux.Handle("/static/", http.StripPrefix("/static/", fs))

	mux.HandleFunc("/auth/challenge", limitBody(challengeHandler, maxBodySize))
	mux.HandleFunc("/auth/login", limitBody(loginHandler, maxBodySize))
	mux.HandleFunc("/auth/logout", logoutHandler)
	mux.HandleFunc("/api/me", meHandler)

	mux.HandleFunc("/pay/status", payStatusHandler)
	mux.HandleFunc("/pay/invoice", limitBody(createInvoiceHandler, maxBodySize))
	mux.HandleFunc("/pay/checkout", securityHeaders(checkoutHandler))

	mux.HandleFunc("/admin/wallet", requireAdmin(limitBody(adminWalletHandler, maxBodySize)))
	mux.HandleFunc("/admin/wallet/probe", requireAdmin(adminWalletProbeHandler))
	mux.HandleFunc("/admin/notes", requireAdmin(limitBody(adminNotesHandler, maxBodySize)))

	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/metrics", metricsHandler)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           RequestLoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("starting server", "port", cfg.Port, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
