package cache

import (
	"path/filepath"
	"strings"
)

// Ext is the extension of a cached audio file. The payload is an MP4 container.
const Ext = ".mp4"

// PartialExt marks a file that is still being written. Partials are never served.
const PartialExt = ".partial"

// Path returns the cache file path for a video. Stable: same id always maps to same path.
func Path(cacheDir, id string) string {
	return filepath.Join(cacheDir, id+Ext)
}

// PartialPattern is the os.CreateTemp pattern for an in-progress download of id.
// The random part keeps concurrent writers in different processes apart; the
// finished file is renamed onto Path.
func PartialPattern(id string) string {
	return id + ".*" + PartialExt
}

// IDFromName returns the video id for a cache file name, or "" for anything that
// is not a finished cache file (partials, stray files).
func IDFromName(name string) string {
	if strings.HasSuffix(name, PartialExt) || !strings.HasSuffix(name, Ext) {
		return ""
	}
	id := strings.TrimSuffix(name, Ext)
	if id == "" || strings.Contains(id, ".") {
		return ""
	}
	return id
}
