package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/kkdai/youtube/v2"

	"github.com/snapetech/tubecache/internal/failure"
	"github.com/snapetech/tubecache/internal/logger"
)

// videoClient is the part of *youtube.Client we use.
type videoClient interface {
	GetVideoContext(ctx context.Context, url string) (*youtube.Video, error)
	GetStreamContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (io.ReadCloser, int64, error)
}

var _ videoClient = (*youtube.Client)(nil)

// YouTube extracts formats with the native Go client.
type YouTube struct {
	client videoClient
	log    *logger.Logger
}

// NewYouTube returns a YouTube source whose requests go through httpClient.
func NewYouTube(httpClient *http.Client, log *logger.Logger) *YouTube {
	return &YouTube{
		client: &youtube.Client{HTTPClient: httpClient},
		log:    log.WithComponent("source.youtube"),
	}
}

// Name implements Source.
func (y *YouTube) Name() string { return "youtube" }

// Fetch resolves id through the YouTube player API and opens the best
// audio-only stream, preferring audio/mp4.
func (y *YouTube) Fetch(ctx context.Context, id string) (*Stream, error) {
	video, err := y.client.GetVideoContext(ctx, id)
	if err != nil {
		return nil, classifyYouTube("youtube: get video "+id, err)
	}
	format := pickAudioFormat(video.Formats)
	if format == nil {
		y.log.Info("no audio-only format", "id", id, "formats", len(video.Formats))
		return nil, failure.NoAudio(id)
	}
	y.log.Debug("selected format", "id", id, "itag", format.ItagNo, "mime", format.MimeType, "bitrate", bitrateOf(format))

	body, size, err := y.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return nil, classifyYouTube("youtube: open stream "+id, err)
	}
	if size <= 0 {
		size = -1
	}
	return &Stream{
		Body: body,
		Size: size,
		Info: Info{
			ID:       id,
			Title:    video.Title,
			Author:   video.Author,
			Duration: video.Duration,
			MimeType: format.MimeType,
			Bitrate:  bitrateOf(format),
			Format:   strconv.Itoa(format.ItagNo),
			Source:   y.Name(),
		},
	}, nil
}

// pickAudioFormat returns the best audio-only format: audio/mp4 before other
// containers, then the highest bitrate. nil when there is none.
func pickAudioFormat(formats youtube.FormatList) *youtube.Format {
	audio := formats.Type("audio")
	var best *youtube.Format
	for i := range audio {
		f := &audio[i]
		if f.Width != 0 || f.Height != 0 {
			continue
		}
		if best == nil || betterAudio(f, best) {
			best = f
		}
	}
	return best
}

func betterAudio(candidate, current *youtube.Format) bool {
	cm, bm := isMP4Audio(candidate), isMP4Audio(current)
	if cm != bm {
		return cm
	}
	return bitrateOf(candidate) > bitrateOf(current)
}

func isMP4Audio(f *youtube.Format) bool {
	return strings.HasPrefix(f.MimeType, "audio/mp4")
}

func bitrateOf(f *youtube.Format) int {
	if f.AverageBitrate > 0 {
		return f.AverageBitrate
	}
	return f.Bitrate
}

func classifyYouTube(op string, err error) error {
	switch {
	case errors.Is(err, youtube.ErrLoginRequired),
		errors.Is(err, youtube.ErrVideoPrivate),
		errors.Is(err, youtube.ErrNotPlayableInEmbed):
		err = fmt.Errorf("restricted content: %w", err)
	}
	return failure.Upstream(op, err)
}
