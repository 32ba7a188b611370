package audit

import (
	"context"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaProducer produces audit records to one topic.
type KafkaProducer struct {
	client *kgo.Client
	topic  string
}

// NewKafkaProducer connects to the given brokers. Returns a nil Producer when
// no brokers are configured, so New can tell an unconfigured sink apart from a
// live one.
func NewKafkaProducer(brokers []string, topic string) (Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, err
	}
	return &KafkaProducer{client: client, topic: topic}, nil
}

// Produce sends one record keyed by identity id, waiting for the broker ack.
// The audit worker is the only caller, so synchronous produce keeps ordering
// per identity without extra machinery.
func (k *KafkaProducer) Produce(ctx context.Context, key string, value []byte) error {
	record := &kgo.Record{Topic: k.topic, Key: []byte(key), Value: value}
	return k.client.ProduceSync(ctx, record).FirstErr()
}

// Close flushes and releases the underlying client.
func (k *KafkaProducer) Close() {
	k.client.Close()
}
