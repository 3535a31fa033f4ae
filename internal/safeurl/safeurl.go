// Package safeurl vets URLs handed to us by extractors before we fetch them.
package safeurl

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"strings"
)

var (
	ErrScheme      = errors.New("url scheme must be http or https")
	ErrPrivateHost = errors.New("url points at a local or private address")
)

// IsHTTPOrHTTPS returns true if u is a valid URL with scheme http or https.
// Rejects file://, ftp:// and other schemes that could lead to local file access.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	s := parsed.Scheme
	return (s == "http" || s == "https") && parsed.Host != ""
}

// CheckMedia returns nil when u is safe to download from: http(s), with a host
// that is not a loopback, private or link-local literal address. Hostnames are
// not resolved.
func CheckMedia(u string) error {
	if !IsHTTPOrHTTPS(u) {
		return fmt.Errorf("%w: %q", ErrScheme, u)
	}
	parsed, _ := url.Parse(u)
	host := strings.ToLower(parsed.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: %s", ErrPrivateHost, host)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return nil
	}
	addr = addr.Unmap()
	if addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsUnspecified() {
		return fmt.Errorf("%w: %s", ErrPrivateHost, host)
	}
	return nil
}
