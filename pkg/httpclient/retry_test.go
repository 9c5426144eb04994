package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) Config {
	cfg := DefaultConfig()
	cfg.RetryAttempts = attempts
	cfg.RetryBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	return cfg
}

// statusSequence serves the given statuses in order, repeating the last.
func statusSequence(t *testing.T, hits *atomic.Int32, statuses ...int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		w.WriteHeader(statuses[n])
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRetryTransport_Statuses(t *testing.T) {
	tests := []struct {
		name       string
		statuses   []int
		wantStatus int
		wantHits   int32
	}{
		{name: "success first time", statuses: []int{200}, wantStatus: 200, wantHits: 1},
		{name: "5xx then success", statuses: []int{500, 502, 200}, wantStatus: 200, wantHits: 3},
		{name: "429 then success", statuses: []int{429, 200}, wantStatus: 200, wantHits: 2},
		{name: "408 then success", statuses: []int{408, 200}, wantStatus: 200, wantHits: 2},
		{name: "4xx not retried", statuses: []int{404}, wantStatus: 404, wantHits: 1},
		{name: "attempts exhausted", statuses: []int{503}, wantStatus: 503, wantHits: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := statusSequence(t, &hits, tt.statuses...)
			rt := newRetryTransport(http.DefaultTransport, fastRetry(3))

			req, err := http.NewRequest(http.MethodGet, server.URL, nil)
			require.NoError(t, err)
			resp, err := rt.RoundTrip(req)
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantHits, hits.Load())
		})
	}
}

func TestRetryTransport_NonIdempotent(t *testing.T) {
	t.Run("post not retried by default", func(t *testing.T) {
		var hits atomic.Int32
		server := statusSequence(t, &hits, 500, 200)
		rt := newRetryTransport(http.DefaultTransport, fastRetry(3))

		req, err := http.NewRequest(http.MethodPost, server.URL, strings.NewReader("{}"))
		require.NoError(t, err)
		resp, err := rt.RoundTrip(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("post retried with body replayed when allowed", func(t *testing.T) {
		var hits atomic.Int32
		var bodies []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			bodies = append(bodies, string(b))
			if hits.Add(1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		cfg := fastRetry(3)
		cfg.AllowNonIdempotentRetry = true
		rt := newRetryTransport(http.DefaultTransport, cfg)

		req, err := http.NewRequest(http.MethodPost, server.URL, strings.NewReader(`{"a":1}`))
		require.NoError(t, err)
		resp, err := rt.RoundTrip(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []string{`{"a":1}`, `{"a":1}`}, bodies)
	})
}

func TestRetryTransport_RetryAfterShortensDelay(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := DefaultConfig()
	cfg.RetryAttempts = 1
	cfg.RetryBackoff = 10 * time.Second
	cfg.MaxBackoff = 10 * time.Second
	rt := newRetryTransport(http.DefaultTransport, cfg)

	start := time.Now()
	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRetryTransport_ContextCancelledDuringBackoff(t *testing.T) {
	var hits atomic.Int32
	server := statusSequence(t, &hits, 500)

	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Second
	rt := newRetryTransport(http.DefaultTransport, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)

	_, err = rt.RoundTrip(req)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), hits.Load())
}

func TestRetryTransport_Backoff(t *testing.T) {
	rt := newRetryTransport(nil, Config{RetryAttempts: 5, RetryBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond})

	for attempt, base := range map[int]time.Duration{1: 100, 2: 200, 3: 300, 4: 300} {
		got := rt.backoff(attempt)
		want := base * time.Millisecond
		assert.GreaterOrEqual(t, got, want, "attempt %d", attempt)
		assert.LessOrEqual(t, got, want+want/5, "attempt %d", attempt)
	}
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(io.ErrUnexpectedEOF))
	assert.True(t, isTransient(syscall.ECONNREFUSED))
	assert.False(t, isTransient(context.Canceled))
	assert.False(t, isTransient(io.ErrClosedPipe))
}
