package materializer

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/snapetech/tubecache/internal/cache"
	"github.com/snapetech/tubecache/internal/failure"
	"github.com/snapetech/tubecache/internal/source"
)

var (
	errEmptyStream = errors.New("upstream returned an empty stream")
	errShortStream = errors.New("upstream stream ended early")
)

// readErrTracker remembers whether a copy failed on the read side, which is
// the upstream's fault, rather than the write side, which is ours.
type readErrTracker struct {
	r   io.Reader
	err error
}

func (t *readErrTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}

// writeFile streams st into a fresh partial file in dir and renames it to
// final. On any error the partial is removed and final is untouched.
func writeFile(dir, id, final string, st *source.Stream) (n int64, err error) {
	f, err := os.CreateTemp(dir, cache.PartialPattern(id))
	if err != nil {
		return 0, failure.IOError("create partial "+id, err)
	}
	partial := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(partial)
		}
	}()

	src := &readErrTracker{r: st.Body}
	n, err = io.Copy(f, src)
	switch {
	case err != nil && src.err != nil:
		return n, failure.Upstream("download "+id, err)
	case err != nil:
		return n, failure.IOError("write "+id, err)
	case n == 0:
		return 0, failure.Upstream("download "+id, errEmptyStream)
	case st.Size > 0 && n != st.Size:
		return n, failure.Upstream("download "+id, fmt.Errorf("%w: got %d of %d bytes", errShortStream, n, st.Size))
	}

	if err = f.Chmod(0o644); err != nil {
		return n, failure.IOError("chmod "+id, err)
	}
	if err = f.Sync(); err != nil {
		return n, failure.IOError("sync "+id, err)
	}
	if err = f.Close(); err != nil {
		return n, failure.IOError("close "+id, err)
	}
	if err = os.Rename(partial, final); err != nil {
		return n, failure.IOError("rename "+id, err)
	}
	return n, nil
}
