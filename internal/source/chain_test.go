package source

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapetech/tubecache/internal/failure"
	"github.com/snapetech/tubecache/internal/logger"
)

type stubSource struct {
	name  string
	err   error
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(ctx context.Context, id string) (*Stream, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &Stream{Body: io.NopCloser(strings.NewReader(s.name)), Size: int64(len(s.name)), Info: Info{ID: id, Source: s.name}}, nil
}

func TestChain_fallsBack(t *testing.T) {
	first := &stubSource{name: "first", err: failure.Upstream("first", errors.New("boom"))}
	second := &stubSource{name: "second"}
	st, err := NewChain(logger.Discard(), first, second).Fetch(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "second", st.Info.Source)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestChain_mixedFailuresAreAcquisition(t *testing.T) {
	first := &stubSource{name: "first", err: failure.Upstream("first", errors.New("boom"))}
	second := &stubSource{name: "second", err: failure.NoAudio("dQw4w9WgXcQ")}
	_, err := NewChain(logger.Discard(), first, second).Fetch(context.Background(), "dQw4w9WgXcQ")
	require.Error(t, err)
	assert.Equal(t, failure.Acquisition, failure.KindOf(err))
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, err.Error(), "no audio formats found")
}

func TestChain_noAudioWhenEverySourceAgrees(t *testing.T) {
	first := &stubSource{name: "first", err: failure.NoAudio("dQw4w9WgXcQ")}
	second := &stubSource{name: "second", err: failure.NoAudio("dQw4w9WgXcQ")}
	_, err := NewChain(logger.Discard(), first, second).Fetch(context.Background(), "dQw4w9WgXcQ")
	assert.Equal(t, failure.NoAudioFormat, failure.KindOf(err))
	assert.ErrorIs(t, err, failure.ErrNoAudioFormat)
}

func TestChain_singleSourceErrorPassesThrough(t *testing.T) {
	only := &stubSource{name: "only", err: failure.NoAudio("dQw4w9WgXcQ")}
	_, err := NewChain(logger.Discard(), only).Fetch(context.Background(), "dQw4w9WgXcQ")
	assert.Equal(t, failure.NoAudioFormat, failure.KindOf(err))
}

func TestChain_stopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	first := &stubSource{name: "first", err: context.Canceled}
	second := &stubSource{name: "second"}
	_, err := NewChain(logger.Discard(), first, second).Fetch(ctx, "dQw4w9WgXcQ")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, second.calls)
}

func TestChain_empty(t *testing.T) {
	_, err := NewChain(logger.Discard()).Fetch(context.Background(), "dQw4w9WgXcQ")
	assert.Equal(t, failure.Acquisition, failure.KindOf(err))
}
