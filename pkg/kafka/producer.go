package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"
)

const defaultProduceTimeout = 5 * time.Second

// KafkaProducer is a synchronous franz-go producer.
type KafkaProducer struct {
	client    *kgo.Client
	logger    *logrus.Logger
	clusterID string
}

// NewKafkaProducer creates a producer. Brokers are contacted lazily, so
// construction succeeds even when the cluster is unreachable.
func NewKafkaProducer(brokers []string, clientID, clusterID string, logger *logrus.Logger) (*KafkaProducer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if clientID == "" {
		clientID = "kolinsights"
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10 * time.Millisecond),
		kgo.ProducerBatchMaxBytes(1000000),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	return &KafkaProducer{
		client:    client,
		logger:    logger,
		clusterID: clusterID,
	}, nil
}

func (p *KafkaProducer) Close() error {
	p.client.Close()
	return nil
}

// ProduceMessage writes one record and waits for the broker ack. Without a
// deadline on ctx a 5s timeout applies.
func (p *KafkaProducer) ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: value,
	}
	for k, v := range headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	record.Headers = append(record.Headers, kgo.RecordHeader{Key: "cluster_id", Value: []byte(p.clusterID)})

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultProduceTimeout)
		defer cancel()
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce message to %s: %w", topic, err)
	}
	return nil
}

// GetClient returns the underlying kgo.Client for health checks
func (p *KafkaProducer) GetClient() *kgo.Client {
	return p.client
}
