/*
Package runtime wires the cekafka sessions into a runnable service.

# Package Structure

The envelope, key, partitioning and session logic live in sub-packages:

  - cloudevents: the CloudEvents envelope and its builder
  - keys: the composite record key and the session-scoped rotating counter
  - partition: murmur2 partitioning over the effective key
  - registry: schema registry client and the framed JSON-schema serde
  - producer: the producer session with blocking and asynchronous sends
  - consumer: the bounded poll loop and the record failure policies
  - transport: sarama configuration, Kafka connections and dead-letter sinks
  - config, logging, metrics, tracing, errors, ids: the ambient stack

# Service (service.go)

Service reads a config.Config and opens the sessions on demand:

	svc, err := runtime.NewService(&conf, logger, runtime.ServiceDependencies{})
	receipt, err := svc.Publish(ctx, model.Customer{LastName: "Smith", CustomerID: 42})
	err = svc.RunConsumer(ctx)

ServiceDependencies replaces any connection, which is how InMemoryDependencies
runs the whole pipeline on a Watermill gochannel.

# HTTP (http.go)

Handler serves POST /customers for ingest, GET /stats, GET /healthz and, when
metrics are enabled, GET /metrics.

# Dead letters (deadletters.go)

TailDeadLetters reads the dead-letter sink through a Watermill router and
decodes each record back into its key and customer where possible.
*/
package runtime
