// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"nft-reward-system/workflow"
)

// Config is the full runtime configuration of the service.
type Config struct {
	Port          string
	DBDriver      string
	DatabaseURL   string
	ServiceToken  string
	RedisAddr     string
	LedgerMode    string // "http" or "sandbox"
	LedgerURL     string
	LedgerToken   string
	WalletSyncURL string

	WalletSyncInterval time.Duration
	TickInterval       time.Duration
	TickBatchSize      int
	TickConcurrency    int
	SweepInterval      time.Duration
	ArchiveInterval    time.Duration

	R2 R2Config

	PolicyFile string
	Policy     workflow.Policy
}

// R2Config holds the audit archive bucket settings. Archive is disabled
// when Bucket is empty.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
}

// Enabled reports whether the archive bucket is configured.
func (r R2Config) Enabled() bool {
	return r.Bucket != "" && r.AccountID != ""
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	cfg := &Config{
		Port:          getEnv("PORT", "5200"),
		DBDriver:      getEnv("DB_DRIVER", "postgres"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		ServiceToken:  os.Getenv("GAME_SERVICE_TOKEN"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		LedgerMode:    getEnv("LEDGER_MODE", "http"),
		LedgerURL:     os.Getenv("LEDGER_URL"),
		LedgerToken:   os.Getenv("LEDGER_TOKEN"),
		WalletSyncURL: os.Getenv("WALLET_SYNC_URL"),
		R2: R2Config{
			AccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
			AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
			Bucket:          os.Getenv("R2_BUCKET_NAME"),
		},
		PolicyFile: os.Getenv("WORKFLOW_POLICY_FILE"),
	}

	var err error
	if cfg.WalletSyncInterval, err = getDuration("WALLET_SYNC_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.TickInterval, err = getDuration("TICK_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getDuration("SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.ArchiveInterval, err = getDuration("ARCHIVE_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.TickBatchSize, err = getInt("TICK_BATCH_SIZE", 50); err != nil {
		return nil, err
	}
	if cfg.TickConcurrency, err = getInt("TICK_CONCURRENCY", 8); err != nil {
		return nil, err
	}

	cfg.Policy = workflow.DefaultPolicy()
	if cfg.PolicyFile != "" {
		if cfg.Policy, err = workflow.LoadPolicy(cfg.PolicyFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable not set")
	}
	switch c.LedgerMode {
	case "sandbox":
	case "http":
		if c.LedgerURL == "" {
			return fmt.Errorf("LEDGER_URL is required when LEDGER_MODE=http")
		}
	default:
		return fmt.Errorf("invalid LEDGER_MODE %q: must be http or sandbox", c.LedgerMode)
	}
	if c.TickBatchSize <= 0 || c.TickConcurrency <= 0 {
		return fmt.Errorf("TICK_BATCH_SIZE and TICK_CONCURRENCY must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}
