// Package source acquires the audio stream for a video from upstream. Sources
// are tried in order by Chain; the first that returns a stream wins.
package source

import (
	"context"
	"io"
	"time"
)

// Source fetches the preferred audio-only stream for a canonical video ID.
// Errors are classified with the failure package: failure.NoAudioFormat when
// the video has no audio-only stream, failure.Acquisition for everything else
// upstream.
type Source interface {
	Name() string
	Fetch(ctx context.Context, id string) (*Stream, error)
}

// Info describes what was selected for a video.
type Info struct {
	ID       string        `json:"id"`
	Title    string        `json:"title,omitempty"`
	Author   string        `json:"author,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	MimeType string        `json:"mime_type,omitempty"`
	Bitrate  int           `json:"bitrate,omitempty"`
	Format   string        `json:"format,omitempty"` // itag or yt-dlp format_id
	Source   string        `json:"source"`
}

// Stream is an open audio download. Size is -1 when unknown. Callers must close Body.
type Stream struct {
	Body io.ReadCloser
	Size int64
	Info Info
}

// WatchURL is the canonical page URL for id.
func WatchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}
