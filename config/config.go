// Package config reads server settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port             string
	LogLevel         slog.Level
	DBPath           string
	JWTSecret        string
	CursorRate       float64
	CursorBurst      int
	ProfileCacheSize int
	AllowedOrigins   []string
}

var ErrMissingSecret = errors.New("JWT_SECRET is required")

// Load reads .env files (if present) and then the environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil {
		slog.Warn("no .env file found, using environment variables")
	}
	return FromEnv(os.Getenv)
}

func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Port:             orDefault(getenv("PORT"), "8080"),
		LogLevel:         parseLevel(getenv("LOG_LEVEL")),
		DBPath:           orDefault(getenv("DB_PATH"), "diagrams.db"),
		JWTSecret:        getenv("JWT_SECRET"),
		CursorRate:       30,
		CursorBurst:      10,
		ProfileCacheSize: 1024,
	}
	if cfg.JWTSecret == "" {
		return Config{}, ErrMissingSecret
	}

	var err error
	if v := getenv("CURSOR_RATE"); v != "" {
		if cfg.CursorRate, err = strconv.ParseFloat(v, 64); err != nil {
			return Config{}, fmt.Errorf("CURSOR_RATE: %w", err)
		}
	}
	if v := getenv("CURSOR_BURST"); v != "" {
		if cfg.CursorBurst, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("CURSOR_BURST: %w", err)
		}
	}
	if v := getenv("PROFILE_CACHE_SIZE"); v != "" {
		if cfg.ProfileCacheSize, err = strconv.Atoi(v); err != nil {
			return Config{}, fmt.Errorf("PROFILE_CACHE_SIZE: %w", err)
		}
	}
	for _, origin := range strings.Split(getenv("ALLOWED_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
		}
	}
	return cfg, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func parseLevel(v string) slog.Level {
	switch v {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
