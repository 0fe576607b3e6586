package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/cekafka/transport"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	defer func() { transport.DefaultRegistry = original }()

	transport.DefaultRegistry = transport.NewRegistry()
	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "kafka", caps.Name)
	assert.True(t, caps.KeepsRecordKey())
	assert.True(t, caps.SupportsTracing)
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities()
	assert.Equal(t, transport.KafkaCapabilities, caps)
}

func TestBuild(t *testing.T) {
	t.Run("creates transport with mocked factories", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		originalSubFactory := SubscriberFactory
		defer func() {
			PublisherFactory = originalPubFactory
			SubscriberFactory = originalSubFactory
		}()

		mockPub := &mockPublisher{}
		mockSub := &mockSubscriber{}

		PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
			assert.IsType(t, kafka.DefaultMarshaler{}, cfg.Marshaler)
			assert.Nil(t, cfg.OverwriteSaramaConfig)
			return mockPub, nil
		}
		SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
			assert.Equal(t, "test-group-dead-letter-reader", cfg.ConsumerGroup)
			return mockSub, nil
		}

		cfg := &mockConfig{
			brokers:       []string{"localhost:9092"},
			consumerGroup: "test-group",
		}
		tr, err := Build(context.Background(), cfg, watermill.NopLogger{})

		require.NoError(t, err)
		assert.Equal(t, mockPub, tr.Publisher)
		assert.Equal(t, mockSub, tr.Subscriber)
	})

	t.Run("uses tuned client when config provides options", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		originalSubFactory := SubscriberFactory
		defer func() {
			PublisherFactory = originalPubFactory
			SubscriberFactory = originalSubFactory
		}()

		sc := sarama.NewConfig()
		marshaler := &recordingMarshaler{}

		PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			assert.Same(t, sc, cfg.OverwriteSaramaConfig)
			assert.Same(t, marshaler, cfg.Marshaler)
			return &mockPublisher{}, nil
		}
		SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			assert.Same(t, marshaler, cfg.Unmarshaler)
			return &mockSubscriber{}, nil
		}

		cfg := &tunedConfig{
			mockConfig: mockConfig{brokers: []string{"broker:9092"}},
			sc:         sc,
			marshaler:  marshaler,
		}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})
		require.NoError(t, err)
	})

	t.Run("returns error when options fail", func(t *testing.T) {
		cfg := &tunedConfig{
			mockConfig: mockConfig{brokers: []string{"broker:9092"}},
			err:        errors.New("bad sasl"),
		}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})
		assert.ErrorContains(t, err, "bad sasl")
	})

	t.Run("requires brokers", func(t *testing.T) {
		_, err := Build(context.Background(), &mockConfig{}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "brokers are required")
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		defer func() { PublisherFactory = originalPubFactory }()

		PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		cfg := &mockConfig{brokers: []string{"localhost:9092"}}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})

		assert.ErrorContains(t, err, "publisher error")
	})

	t.Run("closes publisher when subscriber factory fails", func(t *testing.T) {
		originalPubFactory := PublisherFactory
		originalSubFactory := SubscriberFactory
		defer func() {
			PublisherFactory = originalPubFactory
			SubscriberFactory = originalSubFactory
		}()

		pub := &mockPublisher{}
		PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return pub, nil
		}
		SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscriber error")
		}

		cfg := &mockConfig{brokers: []string{"localhost:9092"}}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})

		assert.ErrorContains(t, err, "subscriber error")
		assert.True(t, pub.closed)
	})
}

type mockConfig struct {
	brokers       []string
	consumerGroup string
}

func (m *mockConfig) GetDeadLetterTransport() string { return "kafka" }
func (m *mockConfig) GetKafkaBrokers() []string      { return m.brokers }
func (m *mockConfig) GetConsumerGroup() string       { return m.consumerGroup }
func (m *mockConfig) GetRabbitMQURL() string         { return "" }
func (m *mockConfig) GetNATSURL() string             { return "" }

type tunedConfig struct {
	mockConfig
	sc        *sarama.Config
	marshaler kafka.MarshalerUnmarshaler
	err       error
}

func (c *tunedConfig) DeadLetterSaramaConfig() (*sarama.Config, error) { return c.sc, c.err }
func (c *tunedConfig) KafkaMarshaler() kafka.MarshalerUnmarshaler      { return c.marshaler }

type recordingMarshaler struct {
	kafka.DefaultMarshaler
}

type mockPublisher struct {
	closed bool
}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error {
	m.closed = true
	return nil
}

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (m *mockSubscriber) Close() error { return nil }
