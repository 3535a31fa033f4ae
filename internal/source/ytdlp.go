package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/snapetech/tubecache/internal/failure"
	"github.com/snapetech/tubecache/internal/httpclient"
	"github.com/snapetech/tubecache/internal/logger"
	"github.com/snapetech/tubecache/internal/safeurl"
)

// Runner executes an external command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// YTDLP asks a yt-dlp binary for the format list and downloads the chosen
// audio URL directly.
type YTDLP struct {
	path     string
	client   *http.Client
	run      Runner
	checkURL func(string) error
	log      *logger.Logger
}

// NewYTDLP returns a yt-dlp source. path is the binary ("yt-dlp" to search PATH).
func NewYTDLP(path string, client *http.Client, log *logger.Logger) *YTDLP {
	if path == "" {
		path = "yt-dlp"
	}
	return &YTDLP{
		path:     path,
		client:   client,
		run:      execRunner,
		checkURL: safeurl.CheckMedia,
		log:      log.WithComponent("source.ytdlp"),
	}
}

// Name implements Source.
func (y *YTDLP) Name() string { return "ytdlp" }

type ytdlpFormat struct {
	FormatID    string            `json:"format_id"`
	ACodec      string            `json:"acodec"`
	VCodec      string            `json:"vcodec"`
	Ext         string            `json:"ext"`
	Protocol    string            `json:"protocol"`
	URL         string            `json:"url"`
	ABR         float64           `json:"abr"`
	TBR         float64           `json:"tbr"`
	Filesize    int64             `json:"filesize"`
	HTTPHeaders map[string]string `json:"http_headers"`
}

type ytdlpInfo struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Uploader string        `json:"uploader"`
	Duration float64       `json:"duration"`
	Formats  []ytdlpFormat `json:"formats"`
}

// Fetch runs yt-dlp for id, picks an audio-only format and downloads it.
func (y *YTDLP) Fetch(ctx context.Context, id string) (*Stream, error) {
	out, err := y.run(ctx, y.path, "-J", "--no-warnings", "--skip-download", "--no-playlist", WatchURL(id))
	if err != nil {
		return nil, failure.Upstream("ytdlp: metadata "+id, err)
	}
	var info ytdlpInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, failure.Upstream("ytdlp: parse metadata "+id, err)
	}
	f := pickYTDLPFormat(info.Formats)
	if f == nil {
		y.log.Info("no audio-only format", "id", id, "formats", len(info.Formats))
		return nil, failure.NoAudio(id)
	}
	if err := y.checkURL(f.URL); err != nil {
		return nil, failure.Upstream("ytdlp: format "+f.FormatID, err)
	}
	y.log.Debug("selected format", "id", id, "format_id", f.FormatID, "ext", f.Ext, "abr", f.ABR)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, failure.Upstream("ytdlp: request "+id, err)
	}
	for k, v := range f.HTTPHeaders {
		req.Header.Set(k, v)
	}
	resp, err := httpclient.DoWithRetry(ctx, y.client, req, httpclient.DefaultRetryPolicy)
	if err != nil {
		return nil, failure.Upstream("ytdlp: download "+id, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, failure.Upstream("ytdlp: download "+id, fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	size := resp.ContentLength
	if size <= 0 {
		size = -1
	}
	return &Stream{
		Body: resp.Body,
		Size: size,
		Info: Info{
			ID:       id,
			Title:    info.Title,
			Author:   info.Uploader,
			Duration: time.Duration(info.Duration * float64(time.Second)),
			MimeType: "audio/" + f.Ext,
			Bitrate:  int(f.ABR * 1000),
			Format:   f.FormatID,
			Source:   y.Name(),
		},
	}, nil
}

// pickYTDLPFormat returns the highest scoring audio-only format that can be
// fetched with a single GET. nil when there is none.
func pickYTDLPFormat(formats []ytdlpFormat) *ytdlpFormat {
	candidates := make([]ytdlpFormat, 0, len(formats))
	for _, f := range formats {
		if f.URL == "" || !strings.HasPrefix(strings.ToLower(f.Protocol), "http") {
			continue
		}
		if (f.VCodec == "none" || f.VCodec == "") && f.ACodec != "" && f.ACodec != "none" {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return betterFormat(candidates[i], candidates[j])
	})
	return &candidates[0]
}

// betterFormat orders by container (m4a first, since the cache file is .mp4),
// then protocol. Bitrate only breaks ties, so a louder webm never displaces an
// available m4a.
func betterFormat(a, b ytdlpFormat) bool {
	if ra, rb := formatRank(a), formatRank(b); ra != rb {
		return ra > rb
	}
	return formatBitrate(a) > formatBitrate(b)
}

func formatRank(f ytdlpFormat) int {
	rank := 0
	switch strings.ToLower(f.Ext) {
	case "m4a":
		rank = 50
	case "mp4":
		rank = 40
	case "webm":
		rank = 30
	case "ogg", "opus":
		rank = 20
	default:
		rank = 10
	}
	p := strings.ToLower(f.Protocol)
	if strings.HasPrefix(p, "https") {
		rank += 2
	} else if strings.HasPrefix(p, "http") {
		rank++
	}
	return rank
}

func formatBitrate(f ytdlpFormat) float64 {
	if f.ABR > 0 {
		return f.ABR
	}
	return f.TBR
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%s not installed: %w", name, err)
		}
		return nil, fmt.Errorf("%s: %w | %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
