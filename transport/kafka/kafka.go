// Package kafka provides the Kafka dead-letter sink: failed records are
// written to a dead-letter topic on the same cluster.
package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/cekafka/transport"
)

// TransportName is the name used to register this sink.
const TransportName = "kafka"

// readerGroupSuffix names the consumer group that reads dead letters back.
const readerGroupSuffix = "-dead-letter-reader"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

// Options is implemented by configs that tune the sink's client. Without it
// the sink uses watermill-kafka's defaults and DefaultMarshaler.
type Options interface {
	DeadLetterSaramaConfig() (*sarama.Config, error)
	KafkaMarshaler() kafka.MarshalerUnmarshaler
}

func init() {
	Register()
}

// Register registers the Kafka sink with the default registry.
func Register() {
	transport.Register(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates the Kafka dead-letter sink.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return transport.Transport{}, fmt.Errorf("kafka dead-letter sink: brokers are required")
	}

	var (
		marshaler kafka.MarshalerUnmarshaler = kafka.DefaultMarshaler{}
		sc        *sarama.Config
	)
	if opts, ok := cfg.(Options); ok {
		var err error
		if sc, err = opts.DeadLetterSaramaConfig(); err != nil {
			return transport.Transport{}, fmt.Errorf("kafka dead-letter sink: %w", err)
		}
		if m := opts.KafkaMarshaler(); m != nil {
			marshaler = m
		}
	}

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             marshaler,
			OverwriteSaramaConfig: sc,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:       brokers,
			Unmarshaler:   marshaler,
			ConsumerGroup: cfg.GetConsumerGroup() + readerGroupSuffix,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this sink.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
