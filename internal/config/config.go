// Package config loads tubecache settings from the environment (TUBECACHE_*),
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Prefix is prepended to every environment variable name.
const Prefix = "TUBECACHE_"

// Known acquisition sources, in the order they are tried when listed.
const (
	SourceYouTube = "youtube"
	SourceYTDLP   = "ytdlp"
)

// Config holds server, cache and upstream settings.
type Config struct {
	// HTTP
	Addr            string        `env:"ADDR" envDefault:":8000"`
	IndexHTML       string        `env:"INDEX_HTML" envDefault:"index.html"` // landing page; embedded default when the file is absent
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	Metrics         bool          `env:"METRICS" envDefault:"true"`

	// Cache
	CacheDir      string        `env:"CACHE_DIR" envDefault:"downloads"`
	PartialMaxAge time.Duration `env:"PARTIAL_MAX_AGE" envDefault:"1h"` // startup sweep of abandoned .partial files; 0 = skip
	LibraryDB     string        `env:"LIBRARY_DB"`                      // sqlite metadata ledger; "" = disabled

	// Acquisition
	Sources      []string      `env:"SOURCES" envDefault:"youtube" envSeparator:","`
	YTDLPPath    string        `env:"YTDLP_PATH" envDefault:"yt-dlp"`
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT" envDefault:"10m"` // whole acquisition; 0 = unbounded

	// Outbound HTTP
	HTTPTimeout     time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	UpstreamPerHost int           `env:"UPSTREAM_PER_HOST" envDefault:"4"`
	UpstreamRPS     float64       `env:"UPSTREAM_RPS" envDefault:"0"` // 0 = unpaced
	UpstreamBurst   int           `env:"UPSTREAM_BURST" envDefault:"1"`

	// Cross-process fetch lock; "" = in-process dedupe only.
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	LockTTL       time.Duration `env:"LOCK_TTL" envDefault:"15m"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	c := &Config{}
	if err := env.ParseWithOptions(c, env.Options{Prefix: Prefix}); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) normalize() {
	c.CacheDir = strings.TrimSpace(c.CacheDir)
	out := make([]string, 0, len(c.Sources))
	for _, s := range c.Sources {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	c.Sources = out
	if c.UpstreamBurst <= 0 {
		c.UpstreamBurst = 1
	}
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs []error
	if c.CacheDir == "" {
		errs = append(errs, errors.New("CACHE_DIR must not be empty"))
	}
	if len(c.Sources) == 0 {
		errs = append(errs, errors.New("SOURCES must list at least one source"))
	}
	for _, s := range c.Sources {
		if s != SourceYouTube && s != SourceYTDLP {
			errs = append(errs, fmt.Errorf("SOURCES: unknown source %q (want %s or %s)", s, SourceYouTube, SourceYTDLP))
		}
	}
	for name, d := range map[string]time.Duration{
		"SHUTDOWN_TIMEOUT": c.ShutdownTimeout,
		"PARTIAL_MAX_AGE":  c.PartialMaxAge,
		"FETCH_TIMEOUT":    c.FetchTimeout,
		"HTTP_TIMEOUT":     c.HTTPTimeout,
		"LOCK_TTL":         c.LockTTL,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}
	if c.UpstreamPerHost < 1 {
		errs = append(errs, errors.New("UPSTREAM_PER_HOST must be at least 1"))
	}
	if c.UpstreamRPS < 0 {
		errs = append(errs, errors.New("UPSTREAM_RPS must not be negative"))
	}
	if c.RedisAddr != "" && c.LockTTL == 0 {
		errs = append(errs, errors.New("LOCK_TTL must be positive when REDIS_ADDR is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
