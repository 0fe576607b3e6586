// Package rabbitmq provides the RabbitMQ/AMQP dead-letter sink. Dead letters
// land in a durable queue named after the dead-letter topic.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/cekafka/transport"
)

// TransportName is the name used to register this sink.
const TransportName = "rabbitmq"

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

// CloseConnection allows overriding how the shared connection is released
// for testing.
var CloseConnection = func(conn *amqp.ConnectionWrapper) error {
	return conn.Close()
}

// Register registers the RabbitMQ sink with the default registry.
// This should be called from an init() function in an importing package,
// or explicitly before using the sink.
func Register() {
	transport.Register(TransportName, Build, transport.RabbitMQCapabilities)
}

// Build creates the RabbitMQ dead-letter sink. Publisher and subscriber share
// one connection, released once after the subscriber closes. A failed build
// releases everything it opened.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return transport.Transport{}, fmt.Errorf("rabbitmq dead-letter sink: url is required")
	}

	amqpConfig := amqp.NewDurableQueueConfig(url)

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, errors.Join(err, CloseConnection(conn))
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, errors.Join(err, publisher.Close(), CloseConnection(conn))
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: &connSubscriber{Subscriber: subscriber, conn: conn},
	}, nil
}

// connSubscriber owns the connection shared with the publisher.
type connSubscriber struct {
	message.Subscriber
	conn *amqp.ConnectionWrapper
	once sync.Once
}

func (s *connSubscriber) Close() error {
	err := s.Subscriber.Close()
	s.once.Do(func() { err = errors.Join(err, CloseConnection(s.conn)) })
	return err
}

// Capabilities returns the capabilities of this sink.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
