package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds all server settings, loaded from the environment.
type Config struct {
	Env  string `env:"ENV,default=dev"`
	Port string `env:"PORT,default=8080"`

	// SQLite database file for accounts.
	DatabasePath string `env:"DATABASE_PATH,default=./nostrpay.db"`

	// Optional Redis URL. When set, challenges and settings live in Redis
	// so multiple instances can share them; otherwise an in-process cache
	// is used.
	RedisURL string `env:"REDIS_URL"`

	// HMAC secret for session tokens. Required in production.
	SessionSecret string        `env:"SESSION_SECRET"`
	SessionTTL    time.Duration `env:"SESSION_TTL,default=24h"`

	// Login challenge lifetime and accepted auth-event clock skew.
	ChallengeTTL time.Duration `env:"CHALLENGE_TTL,default=300s"`
	MaxClockSkew time.Duration `env:"MAX_CLOCK_SKEW,default=300s"`

	// Wallet connection. NWC_CONNECTION seeds the settings store on first
	// boot; after that the stored value wins so it can be rotated at
	// runtime without a restart.
	NWCConnection string        `env:"NWC_CONNECTION"`
	NWCEncryption string        `env:"NWC_ENCRYPTION,default=nip44"`
	NWCTimeout    time.Duration `env:"NWC_TIMEOUT,default=15s"`

	// Pubkeys allowed to change wallet settings at runtime.
	AdminPubKeys []string `env:"ADMIN_PUBKEYS"`

	// Storefront display settings.
	StoreName    string        `env:"STORE_NAME,default=Nostr Pay"`
	Currency     string        `env:"CURRENCY,default=USD"`
	RateCacheTTL time.Duration `env:"RATE_CACHE_TTL,default=5m"`
}

// LoadConfig reads configuration from the environment.
func LoadConfig(ctx context.Context) (Config, error) {
	config := Config{}
	if err := envconfig.Process(ctx, &config); err != nil {
		return Config{}, fmt.Errorf("parsing env vars: %w", err)
	}
	if config.NWCEncryption != "nip44" && config.NWCEncryption != "nip04" {
		return Config{}, fmt.Errorf("NWC_ENCRYPTION must be nip44 or nip04, got %q", config.NWCEncryption)
	}
	if config.Env != "dev" && config.SessionSecret == "" {
		return Config{}, fmt.Errorf("SESSION_SECRET is required when ENV=%s", config.Env)
	}
	return config, nil
}
