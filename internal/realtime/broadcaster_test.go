package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carbonnexus/orchestrator/internal/models"
)

type fakeConn struct {
	mu     sync.Mutex
	fail   bool
	msgs   [][]byte
	closed bool
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.msgs = append(c.msgs, data)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.msgs...)
}

func TestBroadcastDeliversToTopicOnly(t *testing.T) {
	b := NewBroadcaster(8, nil)
	hot, alert := &fakeConn{}, &fakeConn{}
	_, err := b.Subscribe(models.TopicHotspots, hot)
	require.NoError(t, err)
	_, err = b.Subscribe(models.TopicAlerts, alert)
	require.NoError(t, err)

	n := b.Broadcast(models.TopicHotspots, map[string]string{"id": "h1"})
	assert.Equal(t, 1, n)
	require.Len(t, hot.received(), 1)
	assert.JSONEq(t, `{"id":"h1"}`, string(hot.received()[0]))
	assert.Empty(t, alert.received())
}

func TestBroadcastEvictsOnlyFailingConnection(t *testing.T) {
	b := NewBroadcaster(8, nil)
	good1, bad, good2 := &fakeConn{}, &fakeConn{fail: true}, &fakeConn{}
	for _, c := range []*fakeConn{good1, bad, good2} {
		_, err := b.Subscribe(models.TopicAlerts, c)
		require.NoError(t, err)
	}

	n := b.Broadcast(models.TopicAlerts, "x")
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, b.Count(models.TopicAlerts))
	assert.True(t, bad.closed)
	assert.False(t, good1.closed)
	assert.Len(t, good1.received(), 1)
	assert.Len(t, good2.received(), 1)

	b.Broadcast(models.TopicAlerts, "y")
	assert.Len(t, good1.received(), 2)
	assert.Len(t, good2.received(), 2)
}

func TestBroadcastEmptyPool(t *testing.T) {
	b := NewBroadcaster(8, nil)
	assert.Equal(t, 0, b.Broadcast(models.TopicRecommendations, "x"))
}

func TestSubscribeUnknownTopic(t *testing.T) {
	b := NewBroadcaster(8, nil)
	_, err := b.Subscribe(models.Topic("weather"), &fakeConn{})
	assert.Error(t, err)
}

func TestUnsubscribe(t *testing.T) {
	b := NewBroadcaster(8, nil)
	c := &fakeConn{}
	id, err := b.Subscribe(models.TopicHotspots, c)
	require.NoError(t, err)
	b.Unsubscribe(models.TopicHotspots, id)
	b.Unsubscribe(models.TopicHotspots, id)
	assert.Equal(t, 0, b.Count(models.TopicHotspots))
	assert.Equal(t, 0, b.Broadcast(models.TopicHotspots, "x"))
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	b := NewBroadcaster(1, nil)
	c := &fakeConn{}
	_, err := b.Subscribe(models.TopicHotspots, c)
	require.NoError(t, err)

	b.Publish(models.TopicHotspots, "first")
	b.Publish(models.TopicHotspots, "second")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Run(ctx)
		close(done)
	}()
	assert.Eventually(t, func() bool { return len(c.received()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, `"first"`, string(c.received()[0]))
	assert.True(t, c.closed, "Run closes subscribers on shutdown")
}

func TestHandlerEndToEnd(t *testing.T) {
	b := NewBroadcaster(8, nil)
	h := NewHandler(b, []string{"*"}, nil)
	srv := httptest.NewServer(h.ServeTopic(models.TopicHotspots))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return b.Count(models.TopicHotspots) == 1 }, time.Second, 5*time.Millisecond)

	b.Broadcast(models.TopicHotspots, models.Hotspot{ID: "h1", Severity: models.SeverityCritical})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var got models.Hotspot
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "h1", got.ID)
	assert.Equal(t, models.SeverityCritical, got.Severity)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return b.Count(models.TopicHotspots) == 0 }, time.Second, 5*time.Millisecond)
}

func makeRequest(origin string) *http.Request {
	r, _ := http.NewRequest("GET", "/ws/hotspots", nil)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	return r
}

func TestOriginChecking(t *testing.T) {
	tests := []struct {
		name      string
		origins   []string
		reqOrigin string
		want      bool
	}{
		{"allow localhost:3000", nil, "http://localhost:3000", true},
		{"allow localhost:5173", nil, "http://localhost:5173", true},
		{"block external by default", nil, "https://evil.example.com", false},
		{"wildcard allows anything", []string{"*"}, "https://example.com", true},
		{"explicit allow match", []string{"https://app.example.com"}, "https://app.example.com", true},
		{"explicit allow mismatch", []string{"https://app.example.com"}, "https://evil.com", false},
		{"case-insensitive origin", []string{"https://App.Example.Com"}, "https://app.example.com", true},
		{"no origin header allowed", nil, "", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			up := newUpgrader(tc.origins)
			if got := up.CheckOrigin(makeRequest(tc.reqOrigin)); got != tc.want {
				t.Errorf("origin=%q, allowed=%v: got %v, want %v", tc.reqOrigin, tc.origins, got, tc.want)
			}
		})
	}
}
