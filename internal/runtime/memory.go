package runtime

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	configpkg "github.com/drblury/cekafka/internal/runtime/config"
	"github.com/drblury/cekafka/internal/runtime/model"
	"github.com/drblury/cekafka/internal/runtime/producer"
	"github.com/drblury/cekafka/internal/runtime/registry"
	transportpkg "github.com/drblury/cekafka/internal/runtime/transport"
	sinks "github.com/drblury/cekafka/transport"
)

// DefaultMemoryPartitions is the partition count of in-memory topics.
const DefaultMemoryPartitions = 6

// InMemoryDependencies runs the service without a broker or a registry. The
// log, the consumer subscription and the dead-letter sink share one
// persistent gochannel, and the customer schemas are served from memory
// under the configured topic's subjects.
func InMemoryDependencies(conf *configpkg.Config, logger watermill.LoggerAdapter, partitions int) (ServiceDependencies, error) {
	if partitions <= 0 {
		partitions = DefaultMemoryPartitions
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	source := registry.NewStaticSource()
	source.Register(registry.KeySubject(conf.Topic), model.KeySchema)
	source.Register(registry.ValueSubject(conf.Topic), model.CustomerEnvelopeSchema)
	serde, err := registry.NewJSONSerde(source, registry.Options{
		UseLatestVersion:    true,
		StrictCompatibility: conf.StrictCompatibility,
		FailInvalidSchema:   conf.FailInvalidSchema,
	})
	if err != nil {
		return ServiceDependencies{}, err
	}

	pubSub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, logger)
	return ServiceDependencies{
		Serde: serde,
		Connect: func(context.Context) (producer.Log, error) {
			return transportpkg.NewMemoryLog(pubSub, partitions), nil
		},
		Subscriber:        pubSub,
		DeadLetterFactory: memoryFactory{pubSub: pubSub},
	}, nil
}

type memoryFactory struct {
	pubSub *gochannel.GoChannel
}

func (f memoryFactory) Build(context.Context, *configpkg.Config, watermill.LoggerAdapter) (transportpkg.Transport, error) {
	return transportpkg.Transport{
		Publisher:    f.pubSub,
		Subscriber:   f.pubSub,
		Capabilities: sinks.ChannelCapabilities,
	}, nil
}
