package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostSemaphore_AcquireContext(t *testing.T) {
	sem := NewHostSemaphore(1)
	release, err := sem.AcquireContext(context.Background(), "https://example.com/a?b=c")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = sem.AcquireContext(ctx, "https://example.com/other")
	assert.ErrorIs(t, err, context.DeadlineExceeded, "same scheme+host shares the slot")

	other, err := sem.AcquireContext(context.Background(), "https://example.org/")
	require.NoError(t, err)
	other()

	release()
	again, err := sem.AcquireContext(context.Background(), "https://example.com/")
	require.NoError(t, err)
	again()
}

func TestNew_holdsHostSlotUntilBodyClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	client := New(Options{PerHost: 1, UserAgent: "tubecache/test"})

	first, err := client.Get(srv.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	_, err = client.Do(req)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	body, err := io.ReadAll(first.Body)
	require.NoError(t, err)
	assert.Equal(t, "tubecache/test", string(body))
	require.NoError(t, first.Body.Close())
	require.NoError(t, first.Body.Close(), "double close must not double release")

	second, err := client.Get(srv.URL)
	require.NoError(t, err)
	second.Body.Close()
}

func TestNew_pacing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	client := New(Options{PerHost: 4, RPS: 20, Burst: 1})
	start := time.Now()
	for i := 0; i < 3; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}
	// Burst 1 at 20/s: the 2nd and 3rd requests each wait ~50ms.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestNew_zeroPerHostUsesDefault(t *testing.T) {
	lt, ok := New(Options{}).Transport.(*limitedTransport)
	require.True(t, ok)
	assert.Equal(t, DefaultPerHost, lt.sem.limit)

	lt, ok = New(Options{PerHost: 2}).Transport.(*limitedTransport)
	require.True(t, ok)
	assert.Equal(t, 2, lt.sem.limit)
}
