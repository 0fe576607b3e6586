package transport

import (
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/cekafka/internal/runtime/config"
)

var (
	KafkaPublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return kafka.NewPublisher(cfg, logger)
	}
	KafkaSubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return kafka.NewSubscriber(cfg, logger)
	}
)

// NewKafkaSubscriber returns the consumer-group subscriber read by the
// consumer session. Records carry their key and coordinates in metadata.
func NewKafkaSubscriber(conf *config.Config, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	sc, err := ConsumerSaramaConfig(conf)
	if err != nil {
		return nil, err
	}
	return KafkaSubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               conf.KafkaBrokers,
			Unmarshaler:           RecordMarshaler{},
			OverwriteSaramaConfig: sc,
			ConsumerGroup:         conf.ConsumerGroup,
			NackResendSleep:       conf.PollTimeout,
			ReconnectRetrySleep:   time.Second,
		},
		logger,
	)
}

// NewKafkaPublisher returns a synchronous publisher that keeps record keys.
// It backs the kafka dead-letter sink.
func NewKafkaPublisher(conf *config.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	sc, err := DeadLetterSaramaConfig(conf)
	if err != nil {
		return nil, err
	}
	return KafkaPublisherFactory(
		kafka.PublisherConfig{
			Brokers:               conf.KafkaBrokers,
			Marshaler:             RecordMarshaler{},
			OverwriteSaramaConfig: sc,
		},
		logger,
	)
}
