package outbox

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher writes framed roster events. Each message carries its own topic.
type Publisher interface {
	Publish(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher is a Publisher backed by a single kafka.Writer. Keys are
// hashed, so all events of one activity share a partition and keep their order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher returns a publisher for brokers.
func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Compression:            kafka.Snappy,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}
}

// Publish writes msgs and waits for every acknowledgement. A partial failure
// is reported as kafka.WriteErrors, indexed like msgs.
func (p *KafkaPublisher) Publish(ctx context.Context, msgs ...kafka.Message) error {
	return p.writer.WriteMessages(ctx, msgs...)
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
