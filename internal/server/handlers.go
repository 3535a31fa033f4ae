package server

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/labstack/echo/v4"

	"github.com/snapetech/tubecache/internal/cache"
	"github.com/snapetech/tubecache/internal/failure"
	"github.com/snapetech/tubecache/internal/health"
	"github.com/snapetech/tubecache/internal/library"
	"github.com/snapetech/tubecache/internal/videoid"
)

const contentTypeMP4 = "video/mp4"

// serveIndex reads the landing page on every request so it can be edited
// without a restart.
func (s *Server) serveIndex(c echo.Context) error {
	body := defaultIndex
	if s.IndexHTML != "" {
		b, err := os.ReadFile(s.IndexHTML)
		switch {
		case err == nil:
			body = b
		case !errors.Is(err, fs.ErrNotExist):
			return failure.IOError("read "+s.IndexHTML, err)
		}
	}
	return writeCompressed(c, http.StatusOK, echo.MIMETextHTMLCharsetUTF8, body)
}

func (s *Server) serveWatch(c echo.Context) error {
	vals, ok := c.QueryParams()["v"]
	if !ok {
		return c.NoContent(http.StatusBadRequest)
	}
	id, err := videoid.Resolve(vals[0])
	if err != nil {
		return err
	}
	f, fi, err := s.Cache.Open(c.Request().Context(), id)
	if err != nil {
		return err
	}
	defer f.Close()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, contentTypeMP4)
	http.ServeContent(w, c.Request(), id+cache.Ext, fi.ModTime(), f)
	return nil
}

func (s *Server) serveHealth(c echo.Context) error {
	if err := health.CheckCacheDir(s.CacheDir); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "ok",
		"cache_dir": s.CacheDir,
	})
}

type videoView struct {
	ID         string        `json:"id"`
	Size       int64         `json:"size"`
	ModTime    time.Time     `json:"mod_time"`
	Title      string        `json:"title,omitempty"`
	Author     string        `json:"author,omitempty"`
	Duration   time.Duration `json:"duration_ns,omitempty"`
	Source     string        `json:"source,omitempty"`
	Format     string        `json:"format,omitempty"`
	Hits       int64         `json:"hits,omitempty"`
	LastServed time.Time     `json:"last_served,omitzero"`
}

func (v *videoView) enrich(r library.Record) {
	v.Title, v.Author, v.Duration = r.Title, r.Author, r.Duration
	v.Source, v.Format = r.Source, r.Format
	v.Hits, v.LastServed = r.Hits, r.LastServed
}

// serveVideos lists what is on disk. The directory decides what is listed; the
// library only adds metadata.
func (s *Server) serveVideos(c echo.Context) error {
	entries, err := cache.List(s.CacheDir)
	if err != nil {
		return failure.IOError("list "+s.CacheDir, err)
	}
	records := map[string]library.Record{}
	if s.Library != nil {
		recs, err := s.Library.List(c.Request().Context(), 0)
		if err != nil {
			return failure.IOError("library list", err)
		}
		for _, r := range recs {
			records[r.ID] = r
		}
	}
	out := make([]videoView, 0, len(entries))
	for _, e := range entries {
		v := videoView{ID: e.ID, Size: e.Size, ModTime: e.ModTime}
		if r, ok := records[e.ID]; ok {
			v.enrich(r)
		}
		out = append(out, v)
	}
	body, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return writeCompressed(c, http.StatusOK, echo.MIMEApplicationJSON, body)
}

// serveVideo describes one cached entry. It never triggers an acquisition:
// anything not on disk is a 404.
func (s *Server) serveVideo(c echo.Context) error {
	id := c.Param("id")
	if !videoid.IsValidID(id) {
		return failure.Invalid("video "+id, nil)
	}
	state, fi, err := cache.Stat(cache.Path(s.CacheDir, id))
	if err != nil {
		return failure.IOError("stat "+id, err)
	}
	if state != cache.Present {
		return echo.NewHTTPError(http.StatusNotFound, "not cached")
	}
	v := videoView{ID: id, Size: fi.Size(), ModTime: fi.ModTime()}
	if s.Library != nil {
		rec, ok, err := s.Library.Get(c.Request().Context(), id)
		if err != nil {
			return failure.IOError("library get", err)
		}
		if ok {
			v.enrich(rec)
		}
	}
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeCompressed(c, http.StatusOK, echo.MIMEApplicationJSON, body)
}

// writeCompressed writes body with brotli or gzip when the client accepts it.
func writeCompressed(c echo.Context, code int, contentType string, body []byte) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, contentType)
	cw := brotli.HTTPCompressor(w, c.Request())
	w.WriteHeader(code)
	if _, err := cw.Write(body); err != nil {
		cw.Close()
		return err
	}
	return cw.Close()
}
