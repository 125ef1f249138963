// Package config handles application configuration loading from environment
// variables. It provides a centralized Config struct used across the application.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
)

// Cache backends.
const (
	BackendMemory = "memory"
	BackendValkey = "valkey"
)

// Tag index implementations.
const (
	IndexMemory   = "memory"
	IndexValkey   = "valkey"
	IndexPostgres = "postgres"
)

// Page stores.
const (
	PagesMemory   = "memory"
	PagesPostgres = "postgres"
)

// Config holds all application configuration values loaded from the environment.
type Config struct {
	// Server settings
	Host    string
	Port    string
	Env     string // "development", "production", "testing"
	BaseURL string // public origin, used for absolute links

	// AdminToken guards page writes and cache maintenance. Empty leaves
	// them open, which is only allowed outside production.
	AdminToken string

	// Render cache
	CacheBackend    string // "memory" or "valkey"
	TagIndex        string // "memory", "valkey" or "postgres"
	CacheMemorySize int    // LRU capacity of the memory backend, in entries
	RenderStrict    bool   // panic on render context faults
	RenderParallel  bool   // render sibling subtrees concurrently

	PageStore       string // "memory" or "postgres"
	SessionsEnabled bool   // visitor sessions in Valkey

	// Languages
	DefaultLanguage string
	Languages       []string

	MetricsEnabled bool

	// PostgreSQL connection
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Valkey (Redis-compatible cache)
	ValkeyHost     string
	ValkeyPort     string
	ValkeyPassword string
}

// Load reads configuration from environment variables, applying defaults
// for development where appropriate. Returns an error if values are
// invalid, or if critical values are missing in production mode.
func Load() (*Config, error) {
	cfg := &Config{
		Host:    envOrDefault("APP_HOST", "0.0.0.0"),
		Port:    envOrDefault("APP_PORT", "8080"),
		Env:     envOrDefault("APP_ENV", "development"),
		BaseURL: strings.TrimRight(envOrDefault("APP_BASE_URL", "http://localhost:8080"), "/"),

		AdminToken: os.Getenv("ADMIN_TOKEN"),

		CacheBackend: envOrDefault("CACHE_BACKEND", BackendMemory),
		TagIndex:     envOrDefault("TAG_INDEX", IndexMemory),
		PageStore:    envOrDefault("PAGE_STORE", PagesMemory),

		DefaultLanguage: envOrDefault("DEFAULT_LANGUAGE", "en"),
		Languages:       splitList(envOrDefault("LANGUAGES", "en")),

		DBHost:     envOrDefault("POSTGRES_HOST", "localhost"),
		DBPort:     envOrDefault("POSTGRES_PORT", "5432"),
		DBUser:     envOrDefault("POSTGRES_USER", "rendercache"),
		DBPassword: envOrDefault("POSTGRES_PASSWORD", "changeme"),
		DBName:     envOrDefault("POSTGRES_DB", "rendercache"),

		ValkeyHost:     envOrDefault("VALKEY_HOST", "localhost"),
		ValkeyPort:     envOrDefault("VALKEY_PORT", "6379"),
		ValkeyPassword: os.Getenv("VALKEY_PASSWORD"),
	}

	var err error
	if cfg.CacheMemorySize, err = envInt("CACHE_MEMORY_SIZE", 10000); err != nil {
		return nil, err
	}
	if cfg.RenderStrict, err = envBool("RENDER_STRICT", cfg.Env != "production"); err != nil {
		return nil, err
	}
	if cfg.RenderParallel, err = envBool("RENDER_PARALLEL", false); err != nil {
		return nil, err
	}
	if cfg.MetricsEnabled, err = envBool("METRICS_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.SessionsEnabled, err = envBool("SESSIONS_ENABLED", false); err != nil {
		return nil, err
	}

	switch cfg.CacheBackend {
	case BackendMemory, BackendValkey:
	default:
		return nil, fmt.Errorf("CACHE_BACKEND must be %q or %q, got %q", BackendMemory, BackendValkey, cfg.CacheBackend)
	}
	switch cfg.TagIndex {
	case IndexMemory, IndexValkey, IndexPostgres:
	default:
		return nil, fmt.Errorf("TAG_INDEX must be %q, %q or %q, got %q", IndexMemory, IndexValkey, IndexPostgres, cfg.TagIndex)
	}
	switch cfg.PageStore {
	case PagesMemory, PagesPostgres:
	default:
		return nil, fmt.Errorf("PAGE_STORE must be %q or %q, got %q", PagesMemory, PagesPostgres, cfg.PageStore)
	}
	if cfg.CacheMemorySize <= 0 {
		return nil, fmt.Errorf("CACHE_MEMORY_SIZE must be positive, got %d", cfg.CacheMemorySize)
	}

	// The default language is always supported.
	if !slices.Contains(cfg.Languages, cfg.DefaultLanguage) {
		cfg.Languages = append([]string{cfg.DefaultLanguage}, cfg.Languages...)
	}

	if cfg.Env == "production" {
		if cfg.AdminToken == "" {
			return nil, fmt.Errorf("ADMIN_TOKEN must be set in production")
		}
		if cfg.NeedsPostgres() && cfg.DBPassword == "changeme" {
			return nil, fmt.Errorf("POSTGRES_PASSWORD must be set in production")
		}
	}

	return cfg, nil
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName,
	)
}

// Addr returns the server listen address (host:port).
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDev returns true if the application is running in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// NeedsValkey reports whether any component is backed by Valkey.
func (c *Config) NeedsValkey() bool {
	return c.CacheBackend == BackendValkey || c.TagIndex == IndexValkey || c.SessionsEnabled
}

// NeedsPostgres reports whether any component is backed by PostgreSQL.
func (c *Config) NeedsPostgres() bool {
	return c.TagIndex == IndexPostgres || c.PageStore == PagesPostgres
}

// envOrDefault reads an environment variable, returning a fallback if unset or empty.
func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// splitList splits a comma-separated list, dropping empty items.
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
