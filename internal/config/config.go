// Package config loads application configuration from a YAML file with
// environment-variable overrides for secrets and paths.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/seabird/chitter/internal/domain"
)

const (
	configPathEnv  = "CHITTER_CONFIG"
	databaseEnv    = "CHITTER_DB"
	bearerTokenEnv = "TIMELINE_BEARER_TOKEN"
	portEnv        = "PORT"
)

// Config holds all settings for the poller and the read surface.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	Lock     LockConfig     `yaml:"lock"`
	Poller   PollerConfig   `yaml:"poller"`
	Timeline TimelineConfig `yaml:"timeline"`
	Metadata MetadataConfig `yaml:"metadata"`
	Feed     FeedConfig     `yaml:"feed"`
	Server   ServerConfig   `yaml:"server"`

	// Sources are timelines to poll: a bare screen name polls that user's
	// timeline; "owner/slug" polls a list.
	Sources []string `yaml:"sources"`
}

// LoggingConfig selects the slog level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DatabaseConfig locates the SQLite database file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LockConfig locates the advisory run-lock file.
type LockConfig struct {
	Path string `yaml:"path"`
}

// PollerConfig controls the polling schedule and rate-limit backoff.
type PollerConfig struct {
	// Cron is a standard five-field cron expression.
	Cron string `yaml:"cron"`

	// BackoffMinutes is how long a rate-limited run sleeps before retrying
	// the remaining pass.
	BackoffMinutes int `yaml:"backoffMinutes"`
}

// TimelineConfig configures the timeline API client.
type TimelineConfig struct {
	BaseURL  string `yaml:"baseUrl"`
	Token    string `yaml:"token"`
	PageSize int    `yaml:"pageSize"`
}

// MetadataConfig bounds outbound page fetches.
type MetadataConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
}

// FeedConfig controls digest compilation and RSS output.
type FeedConfig struct {
	// MinCount is the distinct-sharer threshold for a URL to enter the
	// digest.
	MinCount int    `yaml:"minCount"`
	Path     string `yaml:"path"`
	Title    string `yaml:"title"`
	Link     string `yaml:"link"`
	MaxItems int    `yaml:"maxItems"`
}

// ServerConfig configures the HTTP read surface.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// ParsedSources maps the configured source strings to domain sources.
func (c *Config) ParsedSources() []domain.Source {
	sources := make([]domain.Source, 0, len(c.Sources))
	for _, s := range c.Sources {
		src := domain.Source{ID: s, User: s}
		if owner, slug, ok := strings.Cut(s, "/"); ok {
			src.User = owner
			src.Slug = slug
		}
		sources = append(sources, src)
	}
	return sources
}

// Load reads the YAML file named by CHITTER_CONFIG (if set) over the
// defaults, then applies environment overrides.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseEnv); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(bearerTokenEnv); v != "" {
		c.Timeline.Token = v
	}
	if v := os.Getenv(portEnv); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		Logging:  LoggingConfig{Level: "info"},
		Database: DatabaseConfig{Path: "data/chitter.db"},
		Lock:     LockConfig{Path: "data/chitter.lock"},
		Poller: PollerConfig{
			Cron:           "*/15 * * * *",
			BackoffMinutes: 15,
		},
		Timeline: TimelineConfig{PageSize: 200},
		Metadata: MetadataConfig{RequestsPerSecond: 4},
		Feed: FeedConfig{
			MinCount: 2,
			Path:     "data/feed.xml",
			Title:    "chitter",
			Link:     "http://localhost:8888",
			MaxItems: 50,
		},
		Server: ServerConfig{Port: 8888},
	}
}
