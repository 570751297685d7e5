package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries everything the pipeline needs, loaded once at startup.
// Nothing reads os.Getenv after Load returns.
type Config struct {
	Port        string
	DatabaseURL string

	GoogleClientID     string
	GoogleClientSecret string
	OAuthRedirectURL   string

	GeminiAPIKey   string
	TokenCipherKey string // base64-encoded 32-byte AES key
	CronSecret     string

	LookbackDays    int
	LookbackMaxDays int
	MessageCap      int

	ExtractConcurrency int
	BatchSize          int
	RetryAttempts      int
	RetryBackoffBase   time.Duration
	CallTimeout        time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        envStr("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		OAuthRedirectURL:   os.Getenv("OAUTH_REDIRECT_URL"),

		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		TokenCipherKey: os.Getenv("TOKEN_CIPHER_KEY"),
		CronSecret:     os.Getenv("CRON_SECRET"),

		LookbackDays:    envInt("SYNC_LOOKBACK_DAYS", 7),
		LookbackMaxDays: envInt("SYNC_LOOKBACK_MAX_DAYS", 30),
		MessageCap:      envInt("SYNC_MESSAGE_CAP", 200),

		ExtractConcurrency: envInt("SYNC_EXTRACT_CONCURRENCY", 5),
		BatchSize:          envInt("SYNC_BATCH_SIZE", 10),
		RetryAttempts:      envInt("SYNC_RETRY_ATTEMPTS", 3),
		RetryBackoffBase:   envMillis("SYNC_RETRY_BACKOFF_MS", 1000),
		CallTimeout:        envMillis("SYNC_CALL_TIMEOUT_MS", 30000),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.TokenCipherKey == "" {
		return nil, fmt.Errorf("TOKEN_CIPHER_KEY is required")
	}
	if cfg.LookbackDays > cfg.LookbackMaxDays {
		cfg.LookbackDays = cfg.LookbackMaxDays
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("SYNC_BATCH_SIZE must be >= 1")
	}
	if cfg.ExtractConcurrency < 1 {
		return nil, fmt.Errorf("SYNC_EXTRACT_CONCURRENCY must be >= 1")
	}
	return cfg, nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envMillis(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Millisecond
}
