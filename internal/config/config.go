// Package config validates process environment variables for the SFU
// control plane, following the same fail-fast, collect-all-errors pattern
// the rest of this codebase's ambient stack uses at startup.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration for the control plane.
type Config struct {
	// Required
	OperatorSecret string
	BindAddr       string
	MediaPlaneAddr string

	// Optional, defaulted
	InstanceID   string
	Version      string
	GoEnv        string
	LogLevel     string
	RedisEnabled bool
	RedisAddr    string
	RedisPassword string

	// Transcription (missing ASRURL disables the pipeline per spec §6)
	ASRURL          string
	ASRSampleRate   int
	DecoderBinPath  string

	// Minutes (missing SummarizerToken forces local summarization per spec §6)
	SummarizerURL   string
	SummarizerToken string

	// Rate limits
	RateLimitOperator string
	RateLimitAdmin    string

	DrainMaxDelay time.Duration

	// JWKS-backed bearer token verification for the Administrator socket
	// (optional: empty JwksDomain falls back to shared-secret-only auth).
	JwksDomain   string
	JwksAudience string
}

// Load validates all required environment variables and returns a Config.
// Returns an error describing every validation failure at once.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.OperatorSecret = os.Getenv("SFU_OPERATOR_SECRET")
	if cfg.OperatorSecret == "" {
		errs = append(errs, "SFU_OPERATOR_SECRET is required")
	} else if len(cfg.OperatorSecret) < 16 {
		errs = append(errs, fmt.Sprintf("SFU_OPERATOR_SECRET must be at least 16 characters (got %d)", len(cfg.OperatorSecret)))
	}

	cfg.BindAddr = getEnvOrDefault("SFU_BIND_ADDR", ":8080")

	cfg.MediaPlaneAddr = os.Getenv("SFU_MEDIA_PLANE_ADDR")
	if cfg.MediaPlaneAddr == "" {
		errs = append(errs, "SFU_MEDIA_PLANE_ADDR is required")
	}

	cfg.InstanceID = getEnvOrDefault("SFU_INSTANCE_ID", "sfu-control-0")
	cfg.Version = getEnvOrDefault("SFU_VERSION", "dev")
	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got %q)", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.ASRURL = os.Getenv("SFU_ASR_URL")
	sampleRate := getEnvOrDefault("SFU_ASR_SAMPLE_RATE", "16000")
	rate, err := strconv.Atoi(sampleRate)
	if err != nil || rate <= 0 {
		errs = append(errs, fmt.Sprintf("SFU_ASR_SAMPLE_RATE must be a positive integer (got %q)", sampleRate))
	}
	cfg.ASRSampleRate = rate
	cfg.DecoderBinPath = getEnvOrDefault("SFU_DECODER_BIN", "/usr/local/bin/rtp2pcm")

	cfg.SummarizerURL = os.Getenv("SFU_SUMMARIZER_URL")
	cfg.SummarizerToken = os.Getenv("SFU_SUMMARIZER_TOKEN")

	cfg.RateLimitOperator = getEnvOrDefault("SFU_RATE_LIMIT_OPERATOR", "600-M")
	cfg.RateLimitAdmin = getEnvOrDefault("SFU_RATE_LIMIT_ADMIN", "120-M")

	drainMs := getEnvOrDefault("SFU_DRAIN_MAX_DELAY_MS", "30000")
	ms, err := strconv.Atoi(drainMs)
	if err != nil || ms < 0 {
		errs = append(errs, fmt.Sprintf("SFU_DRAIN_MAX_DELAY_MS must be a non-negative integer (got %q)", drainMs))
	}
	cfg.DrainMaxDelay = time.Duration(ms) * time.Millisecond

	cfg.JwksDomain = os.Getenv("SFU_JWKS_DOMAIN")
	cfg.JwksAudience = getEnvOrDefault("SFU_JWKS_AUDIENCE", "sfu-control")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 || parts[0] == "" {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	return err == nil && port > 0 && port <= 65535
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"operator_secret", redactSecret(cfg.OperatorSecret),
		"bind_addr", cfg.BindAddr,
		"media_plane_addr", cfg.MediaPlaneAddr,
		"redis_enabled", cfg.RedisEnabled,
		"asr_enabled", cfg.ASRURL != "",
		"summarizer_remote_enabled", cfg.SummarizerToken != "",
		"jwks_enabled", cfg.JwksDomain != "",
		"instance_id", cfg.InstanceID,
		"version", cfg.Version,
	)
}

func getEnvOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "***"
}
