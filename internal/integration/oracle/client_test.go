package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/echo", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]any{"got": in["x"]})
	}))
	defer srv.Close()

	c := NewClient(Config{Name: "test", BaseURL: srv.URL + "/"}, nil)
	var out struct {
		Got float64 `json:"got"`
	}
	require.NoError(t, c.PostJSON(context.Background(), "/echo", map[string]any{"x": 7}, &out))
	assert.Equal(t, 7.0, out.Got)
}

func TestServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(Config{Name: "test", BaseURL: srv.URL}, nil)
	err := c.GetJSON(context.Background(), "/x", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestIsRejected(t *testing.T) {
	codes := map[int]bool{
		http.StatusBadRequest:          true,
		http.StatusUnprocessableEntity: true,
		http.StatusRequestTimeout:      false,
		http.StatusTooManyRequests:     false,
		http.StatusBadGateway:          false,
	}
	for code, want := range codes {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		c := NewClient(Config{Name: "test", BaseURL: srv.URL, BreakerFailures: 10}, nil)
		err := c.GetJSON(context.Background(), "/x", nil)
		srv.Close()

		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnavailable), "status %d", code)
		assert.Equal(t, want, IsRejected(err), "status %d", code)
	}
	assert.False(t, IsRejected(errors.New("connection refused")))
}

func TestMalformedBodyIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	c := NewClient(Config{Name: "test", BaseURL: srv.URL}, nil)
	var out map[string]any
	err := c.GetJSON(context.Background(), "/x", &out)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{Name: "test", BaseURL: srv.URL, BreakerFailures: 2, BreakerTimeout: time.Minute}, nil)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		assert.Error(t, c.GetJSON(ctx, "/x", nil))
	}
	assert.Equal(t, gobreaker.StateOpen, c.State())

	err := c.GetJSON(ctx, "/x", nil)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Equal(t, int32(2), hits.Load(), "open breaker must not reach the server")
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(Config{Name: "test", BaseURL: srv.URL, BreakerFailures: 1}, nil)
	for i := 0; i < 3; i++ {
		assert.Error(t, c.GetJSON(context.Background(), "/x", nil))
	}
	assert.Equal(t, gobreaker.StateClosed, c.State())
}

func TestCancelledCallsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(Config{Name: "test", BaseURL: srv.URL, BreakerFailures: 1, BreakerTimeout: time.Minute}, nil)
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		err := c.GetJSON(cancelled, "/x", nil)
		assert.True(t, errors.Is(err, ErrUnavailable))
	}
	assert.Equal(t, gobreaker.StateClosed, c.State())

	require.NoError(t, c.GetJSON(context.Background(), "/x", nil))
	assert.Equal(t, int32(1), hits.Load())
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(Config{Name: "test", BaseURL: srv.URL, Timeout: 20 * time.Millisecond}, nil)
	err := c.GetJSON(context.Background(), "/slow", nil)
	assert.True(t, errors.Is(err, ErrUnavailable))
}
