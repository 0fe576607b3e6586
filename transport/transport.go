// Package transport defines the dead-letter sinks a consumer session can
// route failed records to. Each sink (kafka, rabbitmq, nats, channel) lives in
// its own sub-package and registers itself with the registry.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
// The publisher writes dead letters; the subscriber reads them back for
// inspection.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close releases both halves. Sinks that share one connection between
// publisher and subscriber are closed once.
func (t Transport) Close() error {
	var err error
	if t.Publisher != nil {
		err = t.Publisher.Close()
	}
	if t.Subscriber != nil && any(t.Subscriber) != any(t.Publisher) {
		if subErr := t.Subscriber.Close(); err == nil {
			err = subErr
		}
	}
	return err
}

// Builder is the function signature for creating a sink from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the values sinks need without depending on the full
// config package.
type Config interface {
	// GetDeadLetterTransport returns the registered sink name.
	GetDeadLetterTransport() string

	// Kafka
	GetKafkaBrokers() []string
	GetConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string
}
