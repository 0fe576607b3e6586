package transport

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/cekafka/internal/runtime/config"
	errspkg "github.com/drblury/cekafka/internal/runtime/errors"
	sinks "github.com/drblury/cekafka/transport"

	// Register the built-in dead-letter sinks.
	_ "github.com/drblury/cekafka/transport/transports"
)

// Transport combines a publisher and subscriber pair produced by a factory.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	// Capabilities of the sink the pair was built from.
	Capabilities sinks.Capabilities
}

// Close releases the publisher and the subscriber.
func (t Transport) Close() error {
	return sinks.Transport{Publisher: t.Publisher, Subscriber: t.Subscriber}.Close()
}

// Factory abstracts how the consumer session's dead-letter sink is created.
type Factory interface {
	Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error)
}

// DefaultFactory returns the factory that resolves the sink named by
// dead.letter.transport through the sink registry.
func DefaultFactory() Factory {
	return defaultFactory{registry: sinks.DefaultRegistry}
}

type defaultFactory struct {
	registry *sinks.Registry
}

func (f defaultFactory) Build(ctx context.Context, conf *config.Config, logger watermill.LoggerAdapter) (Transport, error) {
	if conf == nil {
		return Transport{}, errspkg.ErrConfigRequired
	}

	t, err := f.registry.Build(ctx, sinkConfig{conf}, logger)
	if err != nil {
		return Transport{}, fmt.Errorf("dead-letter sink %q: %w", conf.GetDeadLetterTransport(), err)
	}
	caps, _ := f.registry.Lookup(conf.GetDeadLetterTransport())

	return Transport{
		Publisher:    t.Publisher,
		Subscriber:   t.Subscriber,
		Capabilities: caps,
	}, nil
}

// sinkConfig hands the Kafka sink the same client settings and key-preserving
// marshaler the sessions use.
type sinkConfig struct {
	*config.Config
}

func (c sinkConfig) DeadLetterSaramaConfig() (*sarama.Config, error) {
	return DeadLetterSaramaConfig(c.Config)
}

func (c sinkConfig) KafkaMarshaler() kafka.MarshalerUnmarshaler {
	return RecordMarshaler{}
}
