package transport

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/cekafka/internal/runtime/config"
)

func TestNewKafkaPublisherReturnsError(t *testing.T) {
	orig := KafkaPublisherFactory
	t.Cleanup(func() { KafkaPublisherFactory = orig })

	KafkaPublisherFactory = func(cfg kafka.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		return nil, errors.New("pub")
	}

	cfg := config.Default()
	_, err := NewKafkaPublisher(&cfg, watermill.NopLogger{})
	assert.Error(t, err)
}

func TestNewKafkaSubscriberReturnsError(t *testing.T) {
	orig := KafkaSubscriberFactory
	t.Cleanup(func() { KafkaSubscriberFactory = orig })

	KafkaSubscriberFactory = func(cfg kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		return nil, errors.New("sub")
	}

	cfg := config.Default()
	_, err := NewKafkaSubscriber(&cfg, watermill.NopLogger{})
	assert.Error(t, err)
}

func TestNewKafkaSubscriberConfig(t *testing.T) {
	orig := KafkaSubscriberFactory
	t.Cleanup(func() { KafkaSubscriberFactory = orig })

	var got kafka.SubscriberConfig
	KafkaSubscriberFactory = func(cfg kafka.SubscriberConfig, _ watermill.LoggerAdapter) (message.Subscriber, error) {
		got = cfg
		return nil, nil
	}

	cfg := config.Default()
	cfg.ConsumerGroup = "billing"
	cfg.KafkaBrokers = []string{"a:9092", "b:9092"}
	_, err := NewKafkaSubscriber(&cfg, watermill.NopLogger{})
	require.NoError(t, err)

	assert.Equal(t, "billing", got.ConsumerGroup)
	assert.Equal(t, []string{"a:9092", "b:9092"}, got.Brokers)
	assert.IsType(t, RecordMarshaler{}, got.Unmarshaler)
	require.NotNil(t, got.OverwriteSaramaConfig)
	assert.Equal(t, sarama.OffsetOldest, got.OverwriteSaramaConfig.Consumer.Offsets.Initial)
}

func TestNewKafkaPublisherKeepsKeys(t *testing.T) {
	orig := KafkaPublisherFactory
	t.Cleanup(func() { KafkaPublisherFactory = orig })

	var got kafka.PublisherConfig
	KafkaPublisherFactory = func(cfg kafka.PublisherConfig, _ watermill.LoggerAdapter) (message.Publisher, error) {
		got = cfg
		return nil, nil
	}

	cfg := config.Default()
	_, err := NewKafkaPublisher(&cfg, watermill.NopLogger{})
	require.NoError(t, err)

	assert.IsType(t, RecordMarshaler{}, got.Marshaler)
	assert.Equal(t, sarama.WaitForAll, got.OverwriteSaramaConfig.Producer.RequiredAcks)
}

func TestNewKafkaSubscriberRejectsBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.KafkaVersion = "not-a-version"
	_, err := NewKafkaSubscriber(&cfg, watermill.NopLogger{})
	assert.ErrorContains(t, err, "kafka version")
}
