// Package health holds the checks behind /healthz and the healthcheck command.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// CheckCacheDir makes sure dir exists and a file can be created in it.
func CheckCacheDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("no cache dir configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cache dir: %w", err)
	}
	f, err := os.CreateTemp(dir, ".healthz-*")
	if err != nil {
		return fmt.Errorf("cache dir not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// CheckUpstream fetches url and expects 200. Used to tell whether the video
// site is reachable from this host at all.
func CheckUpstream(ctx context.Context, client *http.Client, url string) error {
	if url == "" {
		return fmt.Errorf("no upstream URL configured")
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	// Some hosts don't support HEAD; use GET and drain.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("upstream unreachable: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// CheckEndpoints hits the server's probe paths at baseURL and returns the first error or nil.
func CheckEndpoints(ctx context.Context, baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	for _, path := range []string{"/healthz", "/"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: HTTP %d", path, resp.StatusCode)
		}
	}
	return nil
}
