// Package httpclient builds the outbound HTTP client used for upstream media
// fetches: tuned pooling, HTTP/2, per-host concurrency caps and optional pacing.
package httpclient

import (
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout         = 30 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 16
	DefaultPerHost         = 4
)

// Options configures New. Zero values fall back to defaults.
type Options struct {
	// Timeout bounds a whole request including the body read. 0 = no limit
	// (media downloads are bounded by the caller's context instead).
	Timeout time.Duration
	// HeaderTimeout bounds the wait for response headers only.
	HeaderTimeout time.Duration
	// PerHost caps concurrent requests per scheme+host. 0 = DefaultPerHost.
	PerHost int
	// RPS paces request starts across all hosts. 0 = unpaced.
	RPS   float64
	Burst int
	// UserAgent is set on requests that do not carry one.
	UserAgent string
}

var defaultClient = &http.Client{
	Timeout:   DefaultTimeout,
	Transport: newTransport(),
}

func newTransport() *http.Transport {
	t := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: MaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}
	// Only fails when the transport is already configured for h2.
	_, _ = http2.ConfigureTransports(t)
	return t
}

// Default returns the shared tuned HTTP client.
func Default() *http.Client {
	return defaultClient
}

// WithTimeout returns a client with the given timeout and a clone of Default's transport.
func WithTimeout(timeout time.Duration) *http.Client {
	t, ok := defaultClient.Transport.(*http.Transport)
	if !ok {
		return &http.Client{Timeout: timeout}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: t.Clone(),
	}
}

// New returns a client whose transport waits for a host slot and the pacing
// limiter before each request.
func New(o Options) *http.Client {
	perHost := o.PerHost
	if perHost <= 0 {
		perHost = DefaultPerHost
	}
	sem := NewHostSemaphore(perHost)
	var lim *rate.Limiter
	if o.RPS > 0 {
		burst := o.Burst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(o.RPS), burst)
	}
	base := newTransport()
	base.ResponseHeaderTimeout = o.HeaderTimeout
	return &http.Client{
		Timeout: o.Timeout,
		Transport: &limitedTransport{
			base:      base,
			sem:       sem,
			limiter:   lim,
			userAgent: o.UserAgent,
		},
	}
}
