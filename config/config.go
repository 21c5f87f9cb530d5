// Package config loads application settings from config.toml, .env and
// RENEWALS_* environment variables, in that order of precedence (later wins).
// Command-line flags override all three and are applied by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"github.com/warp/renewal-engine/renewal"
)

// DefaultPath is read when no config file is named. It may be absent.
const DefaultPath = "config.toml"

// AppConfig is the full application configuration.
type AppConfig struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Query    QueryConfig    `toml:"query"`
	Log      LogConfig      `toml:"log"`
}

type ServerConfig struct {
	Port           int      `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

type DatabaseConfig struct {
	// Path is the SQLite file; ":memory:" keeps everything in process.
	Path string `toml:"path"`
}

// QueryConfig bounds list endpoints.
type QueryConfig struct {
	DefaultPageSize int `toml:"default_page_size"`
	MaxPageSize     int `toml:"max_page_size"`
}

type LogConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// DefaultConfig returns the settings used when nothing else is given.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Database: DatabaseConfig{
			Path: "renewals.db",
		},
		Query: QueryConfig{
			DefaultPageSize: 25,
			MaxPageSize:     500,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. An empty path means DefaultPath, which is
// allowed to be missing; a named file must exist.
func Load(path string) (*AppConfig, error) {
	cfg := DefaultConfig()

	required := path != ""
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !required:
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	// A missing .env is normal outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *AppConfig) error {
	if v := os.Getenv("RENEWALS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RENEWALS_PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("RENEWALS_ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.Server.AllowedOrigins = origins
	}
	if v := os.Getenv("RENEWALS_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("RENEWALS_DEFAULT_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RENEWALS_DEFAULT_PAGE_SIZE: %w", err)
		}
		cfg.Query.DefaultPageSize = n
	}
	if v := os.Getenv("RENEWALS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("RENEWALS_LOG_DEVELOPMENT"); v != "" {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RENEWALS_LOG_DEVELOPMENT: %w", err)
		}
		cfg.Log.Development = dev
	}
	return nil
}

// Validate rejects settings the server cannot start with.
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Query.DefaultPageSize <= 0 {
		return fmt.Errorf("query.default_page_size must be positive, got %d", c.Query.DefaultPageSize)
	}
	if c.Query.MaxPageSize > renewal.MaxPageSize {
		return fmt.Errorf("query.max_page_size %d above the engine limit %d",
			c.Query.MaxPageSize, renewal.MaxPageSize)
	}
	if c.Query.MaxPageSize < c.Query.DefaultPageSize {
		return fmt.Errorf("query.max_page_size %d below default_page_size %d",
			c.Query.MaxPageSize, c.Query.DefaultPageSize)
	}
	return nil
}
