// Package videoid validates user input as a YouTube video ID or watch URL and
// normalizes it to the canonical 11-character ID used as the cache key.
package videoid

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/snapetech/tubecache/internal/failure"
)

// Len is the length of a canonical video ID.
const Len = 11

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// Hosts whose watch URLs carry the ID in the "v" query parameter (or in one of pathPrefixes).
var queryHosts = map[string]bool{
	"youtube.com":        true,
	"www.youtube.com":    true,
	"m.youtube.com":      true,
	"music.youtube.com":  true,
	"gaming.youtube.com": true,
}

const shortHost = "youtu.be"

// Path forms that embed the ID as the second segment: /embed/<id>, /shorts/<id>, ...
var pathPrefixes = map[string]bool{
	"embed":  true,
	"v":      true,
	"shorts": true,
	"live":   true,
}

// IsValidID reports whether s is a syntactically valid bare video ID.
func IsValidID(s string) bool {
	return idPattern.MatchString(s)
}

// IsValidURL reports whether s is a YouTube URL that embeds a valid video ID.
func IsValidURL(s string) bool {
	_, ok := FromURL(s)
	return ok
}

// FromURL extracts the video ID from a YouTube URL. ok is false when s is not an
// http(s) URL on a known YouTube host, or the embedded ID is malformed.
func FromURL(s string) (id string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	host := strings.ToLower(u.Hostname())
	segs := pathSegments(u.Path)

	switch {
	case host == shortHost:
		if v := u.Query().Get("v"); v != "" {
			id = v
		} else if len(segs) > 0 {
			id = segs[0]
		}
	case queryHosts[host]:
		if v := u.Query().Get("v"); v != "" {
			id = v
		} else if len(segs) >= 2 && pathPrefixes[segs[0]] {
			id = segs[1]
		}
	default:
		return "", false
	}
	if !IsValidID(id) {
		return "", false
	}
	return id, true
}

// Resolve returns the canonical video ID for input, which may be a bare ID or a
// YouTube URL. Anything else is a failure.InvalidInput error.
func Resolve(input string) (string, error) {
	if IsValidID(input) {
		return input, nil
	}
	if id, ok := FromURL(input); ok {
		return id, nil
	}
	return "", failure.Invalid("resolve", nil)
}

func pathSegments(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
