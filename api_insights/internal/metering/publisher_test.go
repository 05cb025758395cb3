package metering

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	topic   string
	key     string
	value   []byte
	headers map[string]string
}

type fakeProducer struct {
	sent   []sentMessage
	err    error
	closed bool
}

func (f *fakeProducer) ProduceMessage(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{topic: topic, key: string(key), value: value, headers: headers})
	return nil
}

func (f *fakeProducer) Close() error {
	f.closed = true
	return nil
}

func newMetrics() (*prometheus.CounterVec, *prometheus.HistogramVec) {
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "kafka_messages_total"}, []string{"topic", "status"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "kafka_operation_duration_seconds"}, []string{"operation"})
	return messages, duration
}

func TestPublishKeysByTenant(t *testing.T) {
	fp := &fakeProducer{}
	messages, duration := newMetrics()
	p := newPublisher(fp, PublisherConfig{Messages: messages, Duration: duration})

	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	err := p.Publish(context.Background(), UsageEvent{
		RequestID:  "req-1",
		TenantID:   "tenant-a",
		Model:      "gpt-4o-mini",
		Rounds:     2,
		State:      "finalized",
		Tools:      []string{"kol_recommendation"},
		DurationMs: 1200,
		Timestamp:  ts,
	})
	require.NoError(t, err)
	require.Len(t, fp.sent, 1)

	msg := fp.sent[0]
	assert.Equal(t, defaultTopic, msg.topic)
	assert.Equal(t, "tenant-a", msg.key)
	assert.Equal(t, map[string]string{"source": "insights", "type": "insights_usage", "tenant_id": "tenant-a"}, msg.headers)

	var decoded UsageEvent
	require.NoError(t, json.Unmarshal(msg.value, &decoded))
	assert.Equal(t, "finalized", decoded.State)
	assert.Equal(t, ts, decoded.Timestamp)

	assert.Equal(t, 1.0, testutil.ToFloat64(messages.WithLabelValues(defaultTopic, "success")))
}

func TestPublishDefaultsTimestampAndTools(t *testing.T) {
	fp := &fakeProducer{}
	p := newPublisher(fp, PublisherConfig{Topic: "custom.usage"})

	require.NoError(t, p.Publish(context.Background(), UsageEvent{TenantID: "t"}))
	var raw map[string]any
	require.NoError(t, json.Unmarshal(fp.sent[0].value, &raw))
	assert.Equal(t, []any{}, raw["tools"])
	assert.NotEmpty(t, raw["timestamp"])
	assert.Equal(t, "custom.usage", fp.sent[0].topic)
}

func TestPublishFailureIsCounted(t *testing.T) {
	fp := &fakeProducer{err: errors.New("broker unavailable")}
	messages, _ := newMetrics()
	p := newPublisher(fp, PublisherConfig{Messages: messages})

	err := p.Publish(context.Background(), UsageEvent{TenantID: "t"})
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(messages.WithLabelValues(defaultTopic, "error")))
}

func TestNilPublisherIsNoop(t *testing.T) {
	var p *Publisher
	assert.NoError(t, p.Publish(context.Background(), UsageEvent{}))
	assert.NoError(t, p.Close())
	assert.Equal(t, "", p.Topic())
}

func TestNewPublisherRequiresBrokers(t *testing.T) {
	_, err := NewPublisher(PublisherConfig{})
	assert.Error(t, err)
}

func TestClose(t *testing.T) {
	fp := &fakeProducer{}
	p := newPublisher(fp, PublisherConfig{})
	require.NoError(t, p.Close())
	assert.True(t, fp.closed)
	assert.Nil(t, p.Client())
}
