package transport

import (
	"fmt"

	"github.com/IBM/sarama"

	"github.com/drblury/cekafka/internal/runtime/config"
	errspkg "github.com/drblury/cekafka/internal/runtime/errors"
)

var (
	SaramaClientFactory = func(brokers []string, cfg *sarama.Config) (sarama.Client, error) {
		return sarama.NewClient(brokers, cfg)
	}
	SaramaAsyncProducerFactory = func(client sarama.Client) (sarama.AsyncProducer, error) {
		return sarama.NewAsyncProducerFromClient(client)
	}
)

// KafkaProducer is the producer session's connection: one sarama client for
// metadata and one async producer sharing it.
type KafkaProducer struct {
	client   sarama.Client
	producer sarama.AsyncProducer
}

// NewKafkaProducer connects to the brokers named in conf.
func NewKafkaProducer(conf *config.Config) (*KafkaProducer, error) {
	sc, err := ProducerSaramaConfig(conf)
	if err != nil {
		return nil, fmt.Errorf("%w: producer config: %w", errspkg.ErrConnection, err)
	}
	client, err := SaramaClientFactory(conf.KafkaBrokers, sc)
	if err != nil {
		return nil, fmt.Errorf("%w: kafka client: %w", errspkg.ErrConnection, err)
	}
	producer, err := SaramaAsyncProducerFactory(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: kafka producer: %w", errspkg.ErrConnection, err)
	}
	return &KafkaProducer{client: client, producer: producer}, nil
}

func (k *KafkaProducer) Input() chan<- *sarama.ProducerMessage {
	return k.producer.Input()
}

func (k *KafkaProducer) Successes() <-chan *sarama.ProducerMessage {
	return k.producer.Successes()
}

func (k *KafkaProducer) Errors() <-chan *sarama.ProducerError {
	return k.producer.Errors()
}

// AsyncClose flushes buffered records and closes the producer. Successes and
// Errors are closed once the flush completes.
func (k *KafkaProducer) AsyncClose() {
	k.producer.AsyncClose()
}

// PartitionCount returns the number of partitions of topic from the client's
// metadata.
func (k *KafkaProducer) PartitionCount(topic string) (int, error) {
	partitions, err := k.client.Partitions(topic)
	if err != nil {
		return 0, err
	}
	return len(partitions), nil
}

// RefreshMetadata forces a metadata fetch for topic.
func (k *KafkaProducer) RefreshMetadata(topic string) error {
	return k.client.RefreshMetadata(topic)
}

// Close releases the client. Call it after the producer has drained.
func (k *KafkaProducer) Close() error {
	if k.client.Closed() {
		return nil
	}
	return k.client.Close()
}
