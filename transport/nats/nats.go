// Package nats provides the NATS Core dead-letter sink.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/cekafka/transport"
)

// TransportName is the name used to register this sink.
const TransportName = "nats"

// ClientName identifies the sink's connections on the NATS server.
const ClientName = "cekafka-dead-letter"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

// Register registers the NATS sink with the default registry.
// This should be called from an init() function in an importing package,
// or explicitly before using the sink.
func Register() {
	transport.Register(TransportName, Build, transport.NATSCapabilities)
}

// ConnectOptions returns the client options shared by the sink's publisher
// and subscriber.
func ConnectOptions() []nc.Option {
	return []nc.Option{
		nc.Name(ClientName),
		nc.MaxReconnects(-1),
		nc.ReconnectWait(time.Second),
	}
}

// Build creates the NATS dead-letter sink.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, fmt.Errorf("nats dead-letter sink: url is required")
	}
	marshaler := &nats.NATSMarshaler{}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: ConnectOptions(),
			Marshaler:   marshaler,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:              url,
			QueueGroupPrefix: cfg.GetConsumerGroup(),
			NatsOptions:      ConnectOptions(),
			Unmarshaler:      marshaler,
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
	return transport.NATSCapabilities
}
