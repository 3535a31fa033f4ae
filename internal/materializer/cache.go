package materializer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/singleflight"

	"github.com/snapetech/tubecache/internal/cache"
	"github.com/snapetech/tubecache/internal/failure"
	"github.com/snapetech/tubecache/internal/library"
	"github.com/snapetech/tubecache/internal/lock"
	"github.com/snapetech/tubecache/internal/logger"
	"github.com/snapetech/tubecache/internal/metrics"
	"github.com/snapetech/tubecache/internal/source"
	"github.com/snapetech/tubecache/internal/videoid"
)

// Store is the disk cache keyed by video ID. Concurrent misses for the same ID
// in this process share one acquisition; Locker extends that across processes.
type Store struct {
	CacheDir string
	Source   source.Source
	Locker   lock.Locker      // nil = lock.Noop
	Library  *library.Library // optional metadata ledger
	Metrics  *metrics.Metrics // optional
	Log      *logger.Logger
	// FetchTimeout bounds one acquisition. The acquisition is detached from the
	// request that started it, so a client hanging up does not abort a download
	// other requests are waiting on. 0 = no limit.
	FetchTimeout time.Duration

	group singleflight.Group
	now   func() time.Time
}

func (s *Store) log() *logger.Logger {
	if s.Log == nil {
		return logger.Discard()
	}
	return s.Log
}

func (s *Store) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// Materialize returns the cache path for id, fetching on a miss. A caller whose
// ctx ends while waiting gets ctx.Err(); the acquisition keeps going.
func (s *Store) Materialize(ctx context.Context, id string) (string, error) {
	if !videoid.IsValidID(id) {
		return "", failure.Invalid("materialize", nil)
	}
	path := cache.Path(s.CacheDir, id)
	state, fi, err := cache.Stat(path)
	if err != nil {
		return "", failure.IOError("stat "+id, err)
	}
	log := logger.FromContext(ctx, s.log()).With("id", id)
	if state == cache.Present {
		s.Metrics.CacheHit()
		log.Debug("cache hit", "size", humanize.IBytes(uint64(fi.Size())))
		return path, nil
	}
	s.Metrics.CacheMiss()

	leader := false
	ch := s.group.DoChan(id, func() (any, error) {
		leader = true
		return s.fill(ctx, id, path)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if !leader {
			s.Metrics.FetchJoined()
			log.Debug("joined in-flight fetch", "err", res.Err)
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Open materializes id and opens the file. The caller closes it.
func (s *Store) Open(ctx context.Context, id string) (*os.File, os.FileInfo, error) {
	path, err := s.Materialize(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, failure.IOError("open "+id, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, failure.IOError("open "+id, err)
	}
	if s.Library != nil {
		if err := s.Library.Served(ctx, id, s.clock()); err != nil {
			logger.FromContext(ctx, s.log()).Warn("library update failed", "id", id, "err", err)
		}
	}
	return f, fi, nil
}

// GetOrFetch returns the full contents of the cached file for id.
func (s *Store) GetOrFetch(ctx context.Context, id string) ([]byte, error) {
	path, err := s.Materialize(ctx, id)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.IOError("read "+id, err)
	}
	return b, nil
}

// fill runs once per ID at a time. parent only contributes values (logger,
// request id); its cancellation is dropped.
func (s *Store) fill(parent context.Context, id, path string) (string, error) {
	ctx := context.WithoutCancel(parent)
	if s.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.FetchTimeout)
		defer cancel()
	}
	log := logger.FromContext(ctx, s.log()).With("id", id)

	locker := s.Locker
	if locker == nil {
		locker = lock.Noop{}
	}
	unlock, err := locker.Lock(ctx, lock.KeyFor(id))
	if err != nil {
		return "", failure.IOError("lock "+id, err)
	}
	defer unlock()

	// Another process may have finished it while we waited for the lock.
	state, _, err := cache.Stat(path)
	if err != nil {
		return "", failure.IOError("stat "+id, err)
	}
	if state == cache.Present {
		log.Debug("fetched elsewhere while waiting for lock")
		return path, nil
	}
	if err := os.MkdirAll(s.CacheDir, 0o755); err != nil {
		return "", failure.IOError("mkdir "+s.CacheDir, err)
	}

	log.Info("downloading")
	done := s.Metrics.FetchStarted()
	defer done()
	start := s.clock()

	if s.Source == nil {
		return "", failure.Upstream("fetch "+id, fmt.Errorf("no source configured"))
	}
	st, err := s.Source.Fetch(ctx, id)
	if err != nil {
		err = failure.Upstream("fetch "+id, err)
		s.Metrics.FetchDone("", failure.KindOf(err).String(), 0)
		log.Warn("fetch failed", "kind", failure.KindOf(err).String(), "err", err)
		return "", err
	}
	defer st.Body.Close()

	n, err := writeFile(s.CacheDir, id, path, st)
	if err != nil {
		s.Metrics.FetchDone(st.Info.Source, failure.KindOf(err).String(), 0)
		log.Warn("write failed", "source", st.Info.Source, "kind", failure.KindOf(err).String(), "err", err)
		return "", err
	}
	s.Metrics.FetchDone(st.Info.Source, "ok", n)
	log.Info("cached",
		"source", st.Info.Source,
		"format", st.Info.Format,
		"size", humanize.IBytes(uint64(n)),
		"took", time.Since(start).Round(time.Millisecond),
	)

	if s.Library != nil {
		if err := s.Library.Record(ctx, st.Info, n, s.clock()); err != nil {
			log.Warn("library record failed", "err", err)
		}
	}
	return path, nil
}
