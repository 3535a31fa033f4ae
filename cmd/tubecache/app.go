package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/snapetech/tubecache/internal/config"
	"github.com/snapetech/tubecache/internal/httpclient"
	"github.com/snapetech/tubecache/internal/library"
	"github.com/snapetech/tubecache/internal/lock"
	"github.com/snapetech/tubecache/internal/logger"
	"github.com/snapetech/tubecache/internal/materializer"
	"github.com/snapetech/tubecache/internal/metrics"
	"github.com/snapetech/tubecache/internal/source"
)

const userAgent = "tubecache/1.0"

// app holds everything built from Config that needs closing.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	store   *materializer.Store
	library *library.Library
	metrics *metrics.Metrics
	redis   *redis.Client
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}
	if cfg.Metrics {
		a.metrics = metrics.New()
	}

	// Media downloads run for minutes, so HTTPTimeout bounds only the wait for
	// headers; FetchTimeout bounds the whole acquisition.
	client := httpclient.New(httpclient.Options{
		HeaderTimeout: cfg.HTTPTimeout,
		PerHost:       cfg.UpstreamPerHost,
		RPS:           cfg.UpstreamRPS,
		Burst:         cfg.UpstreamBurst,
		UserAgent:     userAgent,
	})

	var locker lock.Locker = lock.Noop{}
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := a.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis %s: %w", cfg.RedisAddr, err)
		}
		locker = lock.NewRedis(a.redis, cfg.LockTTL, log)
		log.Info("cross-process fetch lock enabled", "redis", cfg.RedisAddr, "ttl", cfg.LockTTL)
	}

	if cfg.LibraryDB != "" {
		lib, err := library.Open(cfg.LibraryDB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.library = lib
	}

	a.store = &materializer.Store{
		CacheDir:     cfg.CacheDir,
		Source:       source.NewChain(log, buildSources(cfg, client, log)...),
		Locker:       locker,
		Library:      a.library,
		Metrics:      a.metrics,
		Log:          log.WithComponent("materializer"),
		FetchTimeout: cfg.FetchTimeout,
	}
	return a, nil
}

// buildSources returns the configured sources in order. Unknown names are
// rejected by config.Validate before we get here.
func buildSources(cfg *config.Config, client *http.Client, log *logger.Logger) []source.Source {
	var out []source.Source
	for _, name := range cfg.Sources {
		switch name {
		case config.SourceYouTube:
			out = append(out, source.NewYouTube(client, log))
		case config.SourceYTDLP:
			out = append(out, source.NewYTDLP(cfg.YTDLPPath, client, log))
		}
	}
	return out
}

func (a *app) Close() error {
	var errs []error
	if a.library != nil {
		errs = append(errs, a.library.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
