package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type config struct {
	HTTPAddr         string        `yaml:"http_addr"`
	DatabaseURL      string        `yaml:"database_url"`
	JWTSecret        string        `yaml:"jwt_secret"`
	CORSOrigins      []string      `yaml:"cors_origins"`
	PublicURL        string        `yaml:"public_url"`
	DeviceTokenTTL   time.Duration `yaml:"device_token_ttl"`
	OperatorTokenTTL time.Duration `yaml:"operator_token_ttl"`
	PollTimeout      time.Duration `yaml:"poll_timeout"`
	AckTimeout       time.Duration `yaml:"ack_timeout"`
	CommandRetention time.Duration `yaml:"command_retention"`
	MigrateOnStart   bool          `yaml:"migrate_on_start"`
}

func defaultConfig() config {
	return config{
		HTTPAddr:         ":8080",
		OperatorTokenTTL: 12 * time.Hour,
		PollTimeout:      10 * time.Second,
		AckTimeout:       5 * time.Second,
		CommandRetention: 10 * time.Minute,
		MigrateOnStart:   true,
	}
}

// loadConfig reads CONFIG_FILE (yaml) when set, then applies env overrides.
func loadConfig() (config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.HTTPAddr = ":" + port
	}
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.DatabaseURL = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.DatabaseURL))
	cfg.JWTSecret = getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", cfg.JWTSecret))
	if origins := splitCSV(os.Getenv("CORS_ORIGINS")); len(origins) > 0 {
		cfg.CORSOrigins = origins
	}
	cfg.PublicURL = getenvDefault("PUBLIC_URL", cfg.PublicURL)
	cfg.DeviceTokenTTL = getenvDuration("DEVICE_TOKEN_TTL", cfg.DeviceTokenTTL)
	cfg.OperatorTokenTTL = getenvDuration("OPERATOR_TOKEN_TTL", cfg.OperatorTokenTTL)
	cfg.PollTimeout = getenvDuration("POLL_TIMEOUT", cfg.PollTimeout)
	cfg.AckTimeout = getenvDuration("ACK_TIMEOUT", cfg.AckTimeout)
	cfg.CommandRetention = getenvDuration("COMMAND_RETENTION", cfg.CommandRetention)
	cfg.MigrateOnStart = getenvBool("MIGRATE_ON_START", cfg.MigrateOnStart)

	if cfg.JWTSecret == "" {
		return cfg, errors.New("config: AUTH_JWT_SECRET is required")
	}
	if cfg.PollTimeout <= 0 || cfg.AckTimeout <= 0 {
		return cfg, errors.New("config: poll and ack timeouts must be positive")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var result []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
