// Package metering publishes per-question usage events to Kafka.
package metering

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/twmb/franz-go/pkg/kgo"

	"kolinsights/pkg/kafka"
	"kolinsights/pkg/logging"
)

const (
	defaultTopic  = "insights.usage"
	defaultSource = "insights"
)

// UsageEvent summarizes one answered question.
type UsageEvent struct {
	RequestID  string    `json:"request_id"`
	TenantID   string    `json:"tenant_id"`
	Model      string    `json:"model"`
	Rounds     int       `json:"rounds"`
	State      string    `json:"state"`
	Tools      []string  `json:"tools"`
	ToolErrors int       `json:"tool_errors"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

type producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
	Close() error
}

type PublisherConfig struct {
	Brokers   []string
	ClusterID string
	Topic     string
	Source    string
	Logger    logging.Logger
	// Messages and Duration come from MetricsCollector.CreateKafkaMetrics.
	Messages *prometheus.CounterVec
	Duration *prometheus.HistogramVec
}

// Publisher is nil-safe: a nil *Publisher drops events.
type Publisher struct {
	producer producer
	topic    string
	source   string
	logger   logging.Logger
	messages *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required for usage publisher")
	}
	clusterID := cfg.ClusterID
	if clusterID == "" {
		clusterID = "local"
	}
	p, err := kafka.NewKafkaProducer(cfg.Brokers, "insights-usage", clusterID, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return newPublisher(p, cfg), nil
}

func newPublisher(p producer, cfg PublisherConfig) *Publisher {
	topic := cfg.Topic
	if topic == "" {
		topic = defaultTopic
	}
	source := cfg.Source
	if source == "" {
		source = defaultSource
	}
	return &Publisher{
		producer: p,
		topic:    topic,
		source:   source,
		logger:   cfg.Logger,
		messages: cfg.Messages,
		duration: cfg.Duration,
	}
}

func (p *Publisher) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// Client returns the underlying Kafka client for health checks, or nil.
func (p *Publisher) Client() *kgo.Client {
	if p == nil {
		return nil
	}
	if kp, ok := p.producer.(*kafka.KafkaProducer); ok {
		return kp.GetClient()
	}
	return nil
}

func (p *Publisher) Topic() string {
	if p == nil {
		return ""
	}
	return p.topic
}

// Publish sends ev keyed by tenant.
func (p *Publisher) Publish(ctx context.Context, ev UsageEvent) error {
	if p == nil || p.producer == nil {
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Tools == nil {
		ev.Tools = []string{}
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal usage event: %w", err)
	}

	start := time.Now()
	err = p.producer.ProduceMessage(ctx, p.topic, []byte(ev.TenantID), payload, map[string]string{
		"source":    p.source,
		"type":      "insights_usage",
		"tenant_id": ev.TenantID,
	})
	if p.duration != nil {
		p.duration.WithLabelValues("produce").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		p.count("error")
		return fmt.Errorf("publish usage event: %w", err)
	}
	p.count("success")
	if p.logger != nil {
		p.logger.WithFields(logging.Fields{
			"tenant_id":  ev.TenantID,
			"request_id": ev.RequestID,
			"topic":      p.topic,
		}).Debug("Published usage event")
	}
	return nil
}

func (p *Publisher) count(status string) {
	if p.messages != nil {
		p.messages.WithLabelValues(p.topic, status).Inc()
	}
}
