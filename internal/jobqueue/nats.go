// Package jobqueue hands completed profile updates to downstream consumers
// (gamification/XP, analytics) over NATS JetStream. Publishing is strictly
// best-effort: a queue outage never fails a caller's request.
package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/lingokit/accuracyd/internal/metrics"
	"github.com/lingokit/accuracyd/pkg/models"
)

// Config holds NATS configuration.
type Config struct {
	URL        string        `json:"url" yaml:"url"`                 // NATS server URL (e.g. "nats://nats:4222")
	StreamName string        `json:"stream_name" yaml:"stream_name"` // JetStream stream name (default: "ACCURACY")
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`         // Connection timeout
}

// Publisher publishes accuracy events to NATS with JetStream durability.
// A nil *Publisher is valid and drops everything, so the service can run
// without a queue configured.
type Publisher struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	streamName string
	metrics    *metrics.Metrics
}

// ProfileEvent is the payload consumed by gamification and analytics.
type ProfileEvent struct {
	UserID    string                   `json:"user_id"`
	Profile   models.AggregatedProfile `json:"profile"`
	Message   models.AccuracySnapshot  `json:"message"`
	TraceID   string                   `json:"trace_id"`
	Timestamp time.Time                `json:"timestamp"`
}

// NewPublisher connects to NATS and ensures the ACCURACY stream exists.
func NewPublisher(cfg Config, m *metrics.Metrics) (*Publisher, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "ACCURACY"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("[JobQueue] NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[JobQueue] NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	p := &Publisher{
		conn:       nc,
		js:         js,
		streamName: cfg.StreamName,
		metrics:    m,
	}

	if err := p.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	log.Printf("[JobQueue] Connected to NATS at %s with JetStream stream %s", cfg.URL, cfg.StreamName)
	return p, nil
}

func (p *Publisher) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      p.streamName,
		Subjects:  []string{"accuracy.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		MaxBytes:  256 * 1024 * 1024,
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	}

	if _, err := p.js.StreamInfo(p.streamName); err != nil {
		if _, err := p.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		log.Printf("[JobQueue] Created JetStream stream: %s", p.streamName)
		return nil
	}

	if _, err := p.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

// PublishProfile publishes an updated profile for downstream consumers.
func (p *Publisher) PublishProfile(ctx context.Context, event *ProfileEvent) error {
	if p == nil {
		return nil
	}
	subject := fmt.Sprintf("accuracy.profiles.%s", event.UserID)
	return p.publish(subject, event)
}

// PublishEvent publishes an operational event.
func (p *Publisher) PublishEvent(ctx context.Context, eventType string, payload interface{}) error {
	if p == nil {
		return nil
	}
	subject := fmt.Sprintf("accuracy.events.%s", eventType)
	return p.publish(subject, payload)
}

func (p *Publisher) publish(subject string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		p.metrics.EventsPublished.WithLabelValues(subject, "failure").Inc()
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if _, err := p.js.Publish(subject, data); err != nil {
		p.metrics.EventsPublished.WithLabelValues(subject, "failure").Inc()
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	p.metrics.EventsPublished.WithLabelValues(subject, "success").Inc()
	return nil
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
