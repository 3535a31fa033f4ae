// Package cache maps video ids to files under the cache directory and answers
// whether a file is there. The file itself is the only record of a cached video.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// State is the result of looking for a cache file.
type State int

const (
	Missing State = iota
	Present
)

// ErrNotRegular is returned by Stat when something other than a regular file sits at the cache path.
var ErrNotRegular = errors.New("cache path is not a regular file")

// Stat classifies path. A path that does not exist is Missing with a nil error;
// any other stat failure (permissions, broken parent, non-regular file) is returned
// so callers do not mistake an unreadable cache for an empty one.
func Stat(path string) (State, os.FileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Missing, nil, nil
		}
		return Missing, nil, err
	}
	if !fi.Mode().IsRegular() {
		return Missing, fi, fmt.Errorf("%s: %w", path, ErrNotRegular)
	}
	return Present, fi, nil
}

// Entry is one finished file in the cache directory.
type Entry struct {
	ID      string    `json:"id"`
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// List returns the finished cache files in dir, newest first. A missing dir is an empty cache.
func List(dir string) ([]Entry, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Entry, 0, len(des))
	for _, de := range des {
		if !de.Type().IsRegular() {
			continue
		}
		id := IDFromName(de.Name())
		if id == "" {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		out = append(out, Entry{
			ID:      id,
			Path:    filepath.Join(dir, de.Name()),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ModTime.After(out[j].ModTime)
	})
	return out, nil
}

// CleanPartials removes partial downloads in dir last modified before now-olderThan.
// It returns the removed paths; removal errors are joined and returned alongside them.
func CleanPartials(dir string, olderThan time.Duration, now time.Time) ([]string, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	cutoff := now.Add(-olderThan)
	var removed []string
	var errs []error
	for _, de := range des {
		if !de.Type().IsRegular() || !strings.HasSuffix(de.Name(), PartialExt) {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			continue
		}
		if fi.ModTime().After(cutoff) {
			continue
		}
		p := filepath.Join(dir, de.Name())
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, p)
	}
	return removed, errors.Join(errs...)
}
