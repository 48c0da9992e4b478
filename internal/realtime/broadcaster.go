package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/carbonnexus/orchestrator/internal/metrics"
	"github.com/carbonnexus/orchestrator/internal/models"
)

// Package realtime fans newly created hotspots, alerts and recommendations
// out to WebSocket subscribers.
//
// Delivery is at-most-once and best-effort: a connection whose send fails
// is evicted and closed, and delivery continues to the rest of its pool.
// Nothing is retried or queued for redelivery.

const defaultWriteTimeout = 10 * time.Second

// Conn is the subset of *websocket.Conn the broadcaster writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Publisher accepts records for asynchronous broadcast.
type Publisher interface {
	Publish(topic models.Topic, payload any)
}

type subscriber struct {
	id   string
	conn Conn
	// gorilla/websocket allows one concurrent writer per connection.
	mu sync.Mutex
}

func (s *subscriber) send(data []byte, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

type message struct {
	topic   models.Topic
	payload any
}

// Broadcaster owns one subscriber pool per topic.
type Broadcaster struct {
	mu    sync.RWMutex
	pools map[models.Topic]map[string]*subscriber

	queue        chan message
	writeTimeout time.Duration
	log          *zap.Logger
}

// NewBroadcaster creates a Broadcaster with a publish queue of queueSize.
func NewBroadcaster(queueSize int, log *zap.Logger) *Broadcaster {
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	pools := make(map[models.Topic]map[string]*subscriber, len(models.Topics))
	for _, t := range models.Topics {
		pools[t] = make(map[string]*subscriber)
	}
	return &Broadcaster{
		pools:        pools,
		queue:        make(chan message, queueSize),
		writeTimeout: defaultWriteTimeout,
		log:          log.Named("broadcaster"),
	}
}

// Subscribe registers conn on topic and returns its subscription id.
func (b *Broadcaster) Subscribe(topic models.Topic, conn Conn) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pool, ok := b.pools[topic]
	if !ok {
		return "", fmt.Errorf("unknown topic %q", topic)
	}
	id := uuid.NewString()
	pool[id] = &subscriber{id: id, conn: conn}
	metrics.WebSocketConnections.WithLabelValues(string(topic)).Inc()
	return id, nil
}

// Unsubscribe removes a subscription. Unknown ids are ignored.
func (b *Broadcaster) Unsubscribe(topic models.Topic, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(topic, id)
}

func (b *Broadcaster) removeLocked(topic models.Topic, id string) bool {
	pool, ok := b.pools[topic]
	if !ok {
		return false
	}
	if _, ok := pool[id]; !ok {
		return false
	}
	delete(pool, id)
	metrics.WebSocketConnections.WithLabelValues(string(topic)).Dec()
	return true
}

// Count returns the number of live subscribers on topic.
func (b *Broadcaster) Count(topic models.Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.pools[topic])
}

// Broadcast serializes payload once and sends it to every subscriber of
// topic. Subscribers whose send fails are evicted and closed. It returns
// the number of successful deliveries.
func (b *Broadcaster) Broadcast(topic models.Topic, payload any) int {
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Error("failed to encode broadcast payload", zap.String("topic", string(topic)), zap.Error(err))
		return 0
	}

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.pools[topic]))
	for _, s := range b.pools[topic] {
		subs = append(subs, s)
	}
	b.mu.RUnlock()
	if len(subs) == 0 {
		return 0
	}

	var (
		wg     sync.WaitGroup
		failMu sync.Mutex
		failed []*subscriber
	)
	for _, s := range subs {
		wg.Add(1)
		go func(s *subscriber) {
			defer wg.Done()
			if err := s.send(data, b.writeTimeout); err != nil {
				b.log.Debug("evicting subscriber",
					zap.String("topic", string(topic)),
					zap.String("subscriber", s.id),
					zap.Error(err),
				)
				failMu.Lock()
				failed = append(failed, s)
				failMu.Unlock()
			}
		}(s)
	}
	wg.Wait()

	if len(failed) > 0 {
		b.mu.Lock()
		for _, s := range failed {
			if b.removeLocked(topic, s.id) {
				metrics.BroadcastEvictions.WithLabelValues(string(topic)).Inc()
			}
		}
		b.mu.Unlock()
		for _, s := range failed {
			_ = s.conn.Close()
		}
	}

	metrics.BroadcastMessages.WithLabelValues(string(topic)).Inc()
	return len(subs) - len(failed)
}

// Publish enqueues payload for broadcast by Run. It never blocks; when the
// queue is full the message is dropped.
func (b *Broadcaster) Publish(topic models.Topic, payload any) {
	select {
	case b.queue <- message{topic: topic, payload: payload}:
	default:
		metrics.BroadcastDropped.WithLabelValues(string(topic)).Inc()
		b.log.Warn("broadcast queue full, dropping message", zap.String("topic", string(topic)))
	}
}

// Run drains the publish queue until ctx is cancelled, then closes every
// subscriber.
func (b *Broadcaster) Run(ctx context.Context) error {
	defer b.closeAll()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-b.queue:
			b.Broadcast(m.topic, m.payload)
		}
	}
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, pool := range b.pools {
		for id, s := range pool {
			_ = s.conn.Close()
			b.removeLocked(topic, id)
		}
	}
}
