package library

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapetech/tubecache/internal/source"
)

func openTest(t *testing.T) *Library {
	t.Helper()
	lib, err := Open(filepath.Join(t.TempDir(), "state", "library.db"))
	require.NoError(t, err)
	t.Cleanup(func() { lib.Close() })
	return lib
}

func TestRecordAndGet(t *testing.T) {
	lib := openTest(t)
	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_000)
	info := source.Info{
		ID: "dQw4w9WgXcQ", Title: "Never Gonna Give You Up", Author: "Rick Astley",
		Duration: 213 * time.Second, MimeType: "audio/mp4", Bitrate: 129000, Format: "140", Source: "youtube",
	}
	require.NoError(t, lib.Record(ctx, info, 3_433_000, at))

	rec, ok, err := lib.Get(ctx, "dQw4w9WgXcQ")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, info, rec.Info)
	assert.EqualValues(t, 3_433_000, rec.Size)
	assert.True(t, rec.FetchedAt.Equal(at))
	assert.True(t, rec.LastServed.IsZero())
	assert.Zero(t, rec.Hits)

	_, ok, err = lib.Get(ctx, "missing0000")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecord_upsertKeepsHits(t *testing.T) {
	lib := openTest(t)
	ctx := context.Background()
	info := source.Info{ID: "dQw4w9WgXcQ", Title: "old", Source: "youtube"}
	require.NoError(t, lib.Record(ctx, info, 1, time.Now()))
	require.NoError(t, lib.Served(ctx, "dQw4w9WgXcQ", time.Now()))
	require.NoError(t, lib.Served(ctx, "dQw4w9WgXcQ", time.Now()))

	info.Title = "new"
	require.NoError(t, lib.Record(ctx, info, 2, time.Now()))
	rec, _, err := lib.Get(ctx, "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "new", rec.Title)
	assert.EqualValues(t, 2, rec.Size)
	assert.EqualValues(t, 2, rec.Hits)
	assert.False(t, rec.LastServed.IsZero())
}

func TestServed_unknownIsNoop(t *testing.T) {
	lib := openTest(t)
	assert.NoError(t, lib.Served(context.Background(), "handplaced0", time.Now()))
}

func TestListAndForget(t *testing.T) {
	lib := openTest(t)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)
	for i, id := range []string{"aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc"} {
		require.NoError(t, lib.Record(ctx, source.Info{ID: id}, 1, base.Add(time.Duration(i)*time.Minute)))
	}

	all, err := lib.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "ccccccccccc", all[0].ID)

	top, err := lib.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)

	require.NoError(t, lib.Forget(ctx, "ccccccccccc"))
	all, err = lib.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
