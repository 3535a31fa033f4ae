package materializer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapetech/tubecache/internal/cache"
	"github.com/snapetech/tubecache/internal/failure"
	"github.com/snapetech/tubecache/internal/library"
	"github.com/snapetech/tubecache/internal/logger"
	"github.com/snapetech/tubecache/internal/metrics"
	"github.com/snapetech/tubecache/internal/source"
)

const testID = "dQw4w9WgXcQ"

type fakeSource struct {
	body    string
	size    int64 // 0 = len(body)
	err     error
	readErr error // returned after body is drained
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
	calls   atomic.Int32
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(ctx context.Context, id string) (*source.Stream, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	var r io.Reader = strings.NewReader(f.body)
	if f.readErr != nil {
		r = io.MultiReader(r, &errReader{f.readErr})
	}
	size := f.size
	if size == 0 {
		size = int64(len(f.body))
	}
	return &source.Stream{
		Body: io.NopCloser(r),
		Size: size,
		Info: source.Info{ID: id, Title: "title " + id, Source: f.Name(), Format: "140"},
	}, nil
}

type errReader struct{ err error }

func (e *errReader) Read([]byte) (int, error) { return 0, e.err }

func newStore(t *testing.T, src source.Source) *Store {
	t.Helper()
	return &Store{
		CacheDir: filepath.Join(t.TempDir(), "downloads"),
		Source:   src,
		Log:      logger.Discard(),
	}
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	des, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var out []string
	for _, de := range des {
		out = append(out, de.Name())
	}
	return out
}

func TestMaterialize_hitDoesNotFetch(t *testing.T) {
	src := &fakeSource{body: "unused"}
	s := newStore(t, src)
	require.NoError(t, os.MkdirAll(s.CacheDir, 0o755))
	require.NoError(t, os.WriteFile(cache.Path(s.CacheDir, testID), []byte("cached"), 0o644))

	b, err := s.GetOrFetch(context.Background(), testID)
	require.NoError(t, err)
	assert.Equal(t, "cached", string(b))
	assert.Zero(t, src.calls.Load())
}

func TestMaterialize_missFetchesOnceThenHits(t *testing.T) {
	src := &fakeSource{body: "audio-bytes"}
	s := newStore(t, src)
	ctx := context.Background()

	first, err := s.GetOrFetch(ctx, testID)
	require.NoError(t, err)
	second, err := s.GetOrFetch(ctx, testID)
	require.NoError(t, err)

	assert.Equal(t, "audio-bytes", string(first))
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, src.calls.Load())
	assert.Equal(t, []string{testID + cache.Ext}, dirNames(t, s.CacheDir))

	fi, err := os.Stat(cache.Path(s.CacheDir, testID))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), fi.Mode().Perm())
}

func TestMaterialize_concurrentMissesShareOneFetch(t *testing.T) {
	src := &fakeSource{body: "shared", gate: make(chan struct{}), started: make(chan struct{})}
	s := newStore(t, src)
	s.Metrics = metrics.New()

	const n = 8
	var wg sync.WaitGroup
	results := make([][]byte, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = s.GetOrFetch(context.Background(), testID)
		}(i)
	}
	<-src.started
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", string(results[i]))
	}
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestMaterialize_waiterCancelDoesNotAbortFetch(t *testing.T) {
	src := &fakeSource{body: "late", gate: make(chan struct{}), started: make(chan struct{})}
	s := newStore(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := s.Materialize(ctx, testID)
		errc <- err
	}()
	<-src.started
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(src.gate)
	path := cache.Path(s.CacheDir, testID)
	assert.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMaterialize_fetchTimeout(t *testing.T) {
	src := &fakeSource{body: "never", gate: make(chan struct{})}
	s := newStore(t, src)
	s.FetchTimeout = 20 * time.Millisecond

	_, err := s.Materialize(context.Background(), testID)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, failure.Acquisition, failure.KindOf(err))
}

func TestMaterialize_failuresLeaveNoFile(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSource
		kind failure.Kind
	}{
		{"no audio", &fakeSource{err: failure.NoAudio(testID)}, failure.NoAudioFormat},
		{"upstream error", &fakeSource{err: errors.New("extractor broke")}, failure.Acquisition},
		{"empty stream", &fakeSource{body: ""}, failure.Acquisition},
		{"read error mid-stream", &fakeSource{body: "half", readErr: errors.New("connection reset")}, failure.Acquisition},
		{"short stream", &fakeSource{body: "short", size: 100}, failure.Acquisition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t, tt.src)
			_, err := s.Materialize(context.Background(), testID)
			require.Error(t, err)
			assert.Equal(t, tt.kind, failure.KindOf(err))
			assert.Empty(t, dirNames(t, s.CacheDir), "no final or partial file may remain")

			// The next request tries again.
			_, _ = s.Materialize(context.Background(), testID)
			assert.EqualValues(t, 2, tt.src.calls.Load())
		})
	}
}

func TestMaterialize_noAudioMessage(t *testing.T) {
	s := newStore(t, &fakeSource{err: failure.NoAudio(testID)})
	_, err := s.Materialize(context.Background(), testID)
	assert.ErrorIs(t, err, failure.ErrNoAudioFormat)
	assert.Contains(t, err.Error(), "no audio formats found")
}

func TestMaterialize_invalidID(t *testing.T) {
	src := &fakeSource{body: "x"}
	s := newStore(t, src)
	for _, id := range []string{"", "../../etc/pa", "short", "dQw4w9WgXcQ.mp4"} {
		_, err := s.Materialize(context.Background(), id)
		assert.Equal(t, failure.InvalidInput, failure.KindOf(err), id)
	}
	assert.Zero(t, src.calls.Load())
}

func TestMaterialize_cacheDirIsFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "downloads")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	s := &Store{CacheDir: file, Source: &fakeSource{body: "x"}}

	_, err := s.Materialize(context.Background(), testID)
	require.Error(t, err)
	assert.Equal(t, failure.IO, failure.KindOf(err))
}

func TestOpen_recordsInLibrary(t *testing.T) {
	lib, err := library.Open(filepath.Join(t.TempDir(), "library.db"))
	require.NoError(t, err)
	defer lib.Close()

	s := newStore(t, &fakeSource{body: "with-ledger"})
	s.Library = lib
	ctx := context.Background()

	f, fi, err := s.Open(ctx, testID)
	require.NoError(t, err)
	defer f.Close()
	assert.EqualValues(t, len("with-ledger"), fi.Size())

	rec, ok, err := lib.Get(ctx, testID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "title "+testID, rec.Title)
	assert.Equal(t, "fake", rec.Source)
	assert.EqualValues(t, len("with-ledger"), rec.Size)
	assert.EqualValues(t, 1, rec.Hits)
}
