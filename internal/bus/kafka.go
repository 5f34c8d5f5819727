package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the Kafka bus.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
	MaxWait  time.Duration
}

// DefaultKafkaBatchTimeout caps how long a publish waits for a batch to fill.
// Ingest publishes one message at a time, so this is the added latency.
const DefaultKafkaBatchTimeout = 5 * time.Millisecond

// Kafka is a Bus on a single-partition topic. Readers attach to partition 0
// at the latest offset without a consumer group, so every process sees every
// message published after it subscribed.
type Kafka struct {
	cfg    KafkaConfig
	writer *kafka.Writer
	dialer *kafka.Dialer
}

// NewKafka creates the writer; no connection is made until first use.
func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka bus requires at least one broker")
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultChannel
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = time.Second
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               kafka.BalancerFunc(firstPartition),
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           DefaultKafkaBatchTimeout,
		AllowAutoTopicCreation: true,
	}

	return &Kafka{
		cfg:    cfg,
		writer: writer,
		dialer: &kafka.Dialer{
			ClientID:  cfg.ClientID,
			Timeout:   10 * time.Second,
			DualStack: true,
		},
	}, nil
}

// firstPartition pins every message to the partition readers consume.
func firstPartition(_ kafka.Message, partitions ...int) int {
	if len(partitions) == 0 {
		return 0
	}
	return partitions[0]
}

// Publish implements Publisher.
func (b *Kafka) Publish(ctx context.Context, payload []byte) error {
	if err := b.writer.WriteMessages(ctx, kafka.Message{Value: payload}); err != nil {
		return fmt.Errorf("publish to %s: %w", b.cfg.Topic, err)
	}
	return nil
}

// Subscribe implements Subscriber. The partition leader is dialled first so
// an unreachable cluster fails here. Once the reader exists, kafka-go retries
// broker failures internally and Receive keeps blocking.
func (b *Kafka) Subscribe(ctx context.Context) (Subscription, error) {
	if err := b.probeLeader(ctx); err != nil {
		return nil, err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   b.cfg.Brokers,
		Topic:     b.cfg.Topic,
		Partition: 0,
		Dialer:    b.dialer,
		MinBytes:  1,
		MaxBytes:  10e6,
		MaxWait:   b.cfg.MaxWait,
	})
	if err := reader.SetOffset(kafka.LastOffset); err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("seek %s to latest offset: %w", b.cfg.Topic, err)
	}

	return &kafkaSubscription{reader: reader}, nil
}

// probeLeader succeeds as soon as any broker leads us to partition 0.
func (b *Kafka) probeLeader(ctx context.Context) error {
	var errs []error
	for _, broker := range b.cfg.Brokers {
		conn, err := b.dialer.DialLeader(ctx, "tcp", broker, b.cfg.Topic, 0)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", broker, err))
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("dial kafka leader for %s: %w", b.cfg.Topic, errors.Join(errs...))
}

// Close implements Bus.
func (b *Kafka) Close() error {
	return b.writer.Close()
}

type kafkaSubscription struct {
	reader *kafka.Reader
}

func (s *kafkaSubscription) Receive(ctx context.Context) ([]byte, error) {
	msg, err := s.reader.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}
	return msg.Value, nil
}

func (s *kafkaSubscription) Close() error {
	return s.reader.Close()
}
