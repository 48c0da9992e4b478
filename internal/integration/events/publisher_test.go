package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/carbonnexus/orchestrator/internal/models"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	calls  int
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestDisabledPublisherIsNoop(t *testing.T) {
	p, err := NewPublisher(Config{Enabled: false}, nil)
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	p.PublishAlert(&models.Alert{ID: "a1"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, p.Run(ctx))
}

func TestNewPublisherValidation(t *testing.T) {
	_, err := NewPublisher(Config{Enabled: true, Brokers: []string{"localhost:9092"}}, nil)
	assert.Error(t, err)
	_, err = NewPublisher(Config{Enabled: true, Topic: "emissions.alerts"}, nil)
	assert.Error(t, err)
}

func TestPublishAlertWritesKeyedMessage(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisherWithWriter(Config{Topic: "emissions.alerts"}, w, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	p.PublishAlert(&models.Alert{
		ID:        "a1",
		Level:     models.SeverityCritical,
		Message:   "Acme exceeded emissions by 50.0%",
		HotspotID: "h1",
		CreatedAt: time.Now().UTC(),
	})

	require.Eventually(t, func() bool { return len(w.written()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	msg := w.written()[0]
	assert.Equal(t, "h1", string(msg.Key))
	var got models.Alert
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "a1", got.ID)
	assert.Equal(t, models.SeverityCritical, got.Level)
	assert.True(t, w.closed)
}

func TestPublishAlertDropsWhenQueueFull(t *testing.T) {
	w := &fakeWriter{}
	p := newPublisherWithWriter(Config{Topic: "t", QueueSize: 1}, w, zap.NewNop())
	p.PublishAlert(&models.Alert{ID: "a1", HotspotID: "h1"})
	p.PublishAlert(&models.Alert{ID: "a2", HotspotID: "h2"})
	assert.Len(t, p.queue, 1)
}

func TestWriteFailureDoesNotStopRun(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := newPublisherWithWriter(Config{Topic: "t"}, w, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()
	p.PublishAlert(&models.Alert{ID: "a1", HotspotID: "h1"})
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.calls == 1
	}, time.Second, 5*time.Millisecond)

	w.mu.Lock()
	w.err = nil
	w.mu.Unlock()
	p.PublishAlert(&models.Alert{ID: "a2", HotspotID: "h2"})
	require.Eventually(t, func() bool { return len(w.written()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "h2", string(w.written()[0].Key))

	cancel()
	<-done
}
