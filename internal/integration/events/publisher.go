package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/carbonnexus/orchestrator/internal/metrics"
	"github.com/carbonnexus/orchestrator/internal/models"
)

// Package events publishes alerts to the Kafka alert bus so that
// downstream notification services can consume them.
//
// Publishing is asynchronous and best-effort: alerts are queued and written
// by a single goroutine; a full queue or a failed write drops the alert.

// AlertSink accepts alerts for delivery.
type AlertSink interface {
	PublishAlert(a *models.Alert)
}

// Config configures the alert publisher.
type Config struct {
	Enabled   bool
	Brokers   []string
	Topic     string
	QueueSize int
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

const (
	defaultQueueSize = 256
	writeTimeout     = 10 * time.Second
)

// Publisher writes alerts to Kafka. A disabled Publisher is a no-op.
type Publisher struct {
	enabled bool
	topic   string
	writer  messageWriter
	queue   chan kafka.Message
	log     *zap.Logger
}

// NewPublisher creates a Publisher. When cfg.Enabled is false no connection
// is made and every publish is discarded.
func NewPublisher(cfg Config, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("alert_bus")
	if !cfg.Enabled {
		log.Info("alert bus disabled")
		return &Publisher{log: log}, nil
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("alert topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: false,
	}
	return newPublisherWithWriter(cfg, w, log), nil
}

func newPublisherWithWriter(cfg Config, w messageWriter, log *zap.Logger) *Publisher {
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Publisher{
		enabled: true,
		topic:   cfg.Topic,
		writer:  w,
		queue:   make(chan kafka.Message, size),
		log:     log,
	}
}

// Enabled reports whether alerts are forwarded to Kafka.
func (p *Publisher) Enabled() bool { return p.enabled }

// PublishAlert queues a for delivery, keyed by hotspot id. It never blocks.
func (p *Publisher) PublishAlert(a *models.Alert) {
	if !p.enabled || a == nil {
		return
	}
	value, err := json.Marshal(a)
	if err != nil {
		metrics.AlertsPublished.WithLabelValues("encode_error").Inc()
		p.log.Error("failed to encode alert", zap.String("alert_id", a.ID), zap.Error(err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(a.HotspotID),
		Value: value,
		Time:  a.CreatedAt,
		Headers: []kafka.Header{
			{Key: "level", Value: []byte(a.Level)},
		},
	}
	select {
	case p.queue <- msg:
	default:
		metrics.AlertsPublished.WithLabelValues("dropped").Inc()
		p.log.Warn("alert queue full, dropping alert", zap.String("alert_id", a.ID))
	}
}

// Run writes queued alerts until ctx is cancelled, then closes the writer.
func (p *Publisher) Run(ctx context.Context) error {
	if !p.enabled {
		<-ctx.Done()
		return nil
	}
	defer func() {
		if err := p.writer.Close(); err != nil {
			p.log.Warn("failed to close kafka writer", zap.Error(err))
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-p.queue:
			p.write(ctx, msg)
		}
	}
}

func (p *Publisher) write(ctx context.Context, msg kafka.Message) {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := p.writer.WriteMessages(wctx, msg); err != nil {
		metrics.AlertsPublished.WithLabelValues("error").Inc()
		p.log.Warn("failed to publish alert",
			zap.String("topic", p.topic),
			zap.String("hotspot_id", string(msg.Key)),
			zap.Error(fmt.Errorf("write messages: %w", err)),
		)
		return
	}
	metrics.AlertsPublished.WithLabelValues("ok").Inc()
}
