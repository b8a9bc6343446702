package config

import (
	"errors"
	"os"
	"strconv"
)

// Config holds the devserver runtime settings, all overridable via env.
type Config struct {
	Port             string
	DatabasePath     string
	JWTSecret        string
	Env              string
	LogLevel         string
	TempTokenTTLMin  int
	SweepIntervalSec int
	RatePerSec       int
	RateBurst        int
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
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

// Validate rejects configurations that must not reach a real deployment.
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("port must not be empty")
	}
	if cfg.DatabasePath == "" {
		return errors.New("database path must not be empty")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == "dev-secret-change-me" {
		return errors.New("default JWT secret is not allowed outside dev")
	}
	if cfg.RatePerSec <= 0 || cfg.RateBurst <= 0 {
		return errors.New("rate limit and burst must be positive")
	}
	return nil
}

func Load() Config {
	return Config{
		Port:             getenv("APP_PORT", "8080"),
		DatabasePath:     getenv("DATABASE_PATH", "voynich.db"),
		JWTSecret:        getenv("JWT_SECRET", "dev-secret-change-me"),
		Env:              getenv("APP_ENV", "dev"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		TempTokenTTLMin:  getenvInt("TEMP_TOKEN_TTL_MINUTES", 5),
		SweepIntervalSec: getenvInt("EXPIRY_SWEEP_INTERVAL_SECONDS", 1),
		RatePerSec:       getenvInt("RATE_LIMIT_PER_SECOND", 20),
		RateBurst:        getenvInt("RATE_LIMIT_BURST", 40),
	}
}
