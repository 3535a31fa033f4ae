package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_defaults(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8000", c.Addr)
	assert.Equal(t, "downloads", c.CacheDir)
	assert.Equal(t, "index.html", c.IndexHTML)
	assert.Equal(t, []string{SourceYouTube}, c.Sources)
	assert.Equal(t, 10*time.Minute, c.FetchTimeout)
	assert.Equal(t, 10*time.Second, c.ShutdownTimeout)
	assert.Equal(t, 4, c.UpstreamPerHost)
	assert.True(t, c.Metrics)
	assert.Empty(t, c.RedisAddr)
	assert.Empty(t, c.LibraryDB)
}

func TestLoad_overrides(t *testing.T) {
	t.Setenv("TUBECACHE_ADDR", "127.0.0.1:9999")
	t.Setenv("TUBECACHE_CACHE_DIR", " /var/cache/tube ")
	t.Setenv("TUBECACHE_SOURCES", "YouTube, ytdlp,")
	t.Setenv("TUBECACHE_FETCH_TIMEOUT", "90s")
	t.Setenv("TUBECACHE_UPSTREAM_RPS", "2.5")
	t.Setenv("TUBECACHE_UPSTREAM_BURST", "0")
	t.Setenv("TUBECACHE_METRICS", "false")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", c.Addr)
	assert.Equal(t, "/var/cache/tube", c.CacheDir)
	assert.Equal(t, []string{SourceYouTube, SourceYTDLP}, c.Sources)
	assert.Equal(t, 90*time.Second, c.FetchTimeout)
	assert.InDelta(t, 2.5, c.UpstreamRPS, 1e-9)
	assert.Equal(t, 1, c.UpstreamBurst)
	assert.False(t, c.Metrics)
}

func TestLoad_badDuration(t *testing.T) {
	t.Setenv("TUBECACHE_FETCH_TIMEOUT", "soon")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidate_collectsAll(t *testing.T) {
	c := &Config{
		Sources:         []string{"vimeo"},
		FetchTimeout:    -time.Second,
		UpstreamPerHost: 0,
		RedisAddr:       "localhost:6379",
	}
	err := c.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "CACHE_DIR")
	assert.Contains(t, msg, `unknown source "vimeo"`)
	assert.Contains(t, msg, "FETCH_TIMEOUT")
	assert.Contains(t, msg, "UPSTREAM_PER_HOST")
	assert.Contains(t, msg, "LOCK_TTL")
}
