// Package server is the HTTP front end: the landing page, /watch, and the
// error boundary that turns classified failures into status codes.
package server

import (
	"context"
	_ "embed"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/snapetech/tubecache/internal/library"
	"github.com/snapetech/tubecache/internal/logger"
	"github.com/snapetech/tubecache/internal/materializer"
	"github.com/snapetech/tubecache/internal/metrics"
)

//go:embed static/index.html
var defaultIndex []byte

// Server wires the cache to HTTP. Build one per process; it holds no globals.
type Server struct {
	Addr      string
	Listener  net.Listener // optional; overrides Addr
	IndexHTML string       // landing page path, read per request; embedded page when absent
	CacheDir  string
	Cache     materializer.Interface
	Library   *library.Library // optional, enriches /api/videos
	Metrics   *metrics.Metrics // optional, enables /metrics
	Log       *logger.Logger

	ShutdownTimeout time.Duration

	once sync.Once
	e    *echo.Echo
}

func (s *Server) log() *logger.Logger {
	if s.Log == nil {
		return logger.Discard()
	}
	return s.Log
}

// Handler returns the routed echo instance.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() { s.e = s.newEcho() })
	return s.e
}

func (s *Server) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	s.setupMiddleware(e)

	e.GET("/", s.serveIndex)
	e.GET("/watch", s.serveWatch)
	e.GET("/healthz", s.serveHealth)
	e.GET("/api/videos", s.serveVideos)
	e.GET("/api/videos/:id", s.serveVideo)
	if s.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.Metrics.Handler()))
	}
	return e
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	log := s.log().WithComponent("server")
	addr := s.Addr
	if addr == "" {
		addr = ":8000"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return logger.NewContext(context.Background(), s.log()) },
	}

	serverErr := make(chan error, 1)
	go func() {
		if s.Listener != nil {
			log.Info("listening", "addr", s.Listener.Addr().String(), "cache_dir", s.CacheDir)
			serverErr <- srv.Serve(s.Listener)
			return
		}
		log.Info("listening", "addr", addr, "cache_dir", s.CacheDir)
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Info("shutting down")
		timeout := s.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown", "err", err)
		}
		<-serverErr
		return nil
	}
}
