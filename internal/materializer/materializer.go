// Package materializer makes sure a video's audio file is on disk. A cache hit
// is a stat; a miss acquires the stream from the configured source, writes it
// to a private .partial file and renames it into place, so readers only ever
// see complete files.
package materializer

import (
	"context"
	"os"
)

// Interface is what the HTTP layer needs from the cache.
type Interface interface {
	// Materialize returns the path of the cached file for a canonical video ID,
	// fetching it first on a miss.
	Materialize(ctx context.Context, id string) (path string, err error)
	// Open is Materialize followed by opening the file for reading.
	Open(ctx context.Context, id string) (*os.File, os.FileInfo, error)
}

var _ Interface = (*Store)(nil)
