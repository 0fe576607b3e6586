package transport

import "fmt"

// Capabilities describes the features supported by a dead-letter sink.
type Capabilities struct {
	// SupportsOrdering indicates dead letters are read back in the order they
	// were written.
	SupportsOrdering bool

	// SupportsPartitioning indicates the sink keeps the record key and can
	// place dead letters by it.
	SupportsPartitioning bool

	// SupportsTracing indicates the sink carries metadata as native headers,
	// so trace context survives the hop.
	SupportsTracing bool

	// Durable indicates dead letters survive a process restart.
	Durable bool

	SupportsAck  bool
	SupportsNack bool

	// MaxMessageSize is the largest dead letter the sink accepts in bytes,
	// 0 when unknown.
	MaxMessageSize int64

	// Name is the human-readable name of the sink.
	Name string
}

// SupportsReliableDelivery returns true if the sink supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// KeepsRecordKey reports whether a dead letter can be correlated with its
// source record by key alone.
func (c Capabilities) KeepsRecordKey() bool {
	return c.SupportsPartitioning
}

var (
	// ChannelCapabilities for the in-memory sink used in tests and local runs.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// KafkaCapabilities for a dead-letter topic on the same cluster.
	KafkaCapabilities = Capabilities{
		Name:                 "kafka",
		SupportsOrdering:     true,
		SupportsPartitioning: true,
		SupportsTracing:      true,
		Durable:              true,
		SupportsAck:          true,
		MaxMessageSize:       1048576, // Default 1MB
	}

	// RabbitMQCapabilities for a durable AMQP queue.
	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsTracing:  true,
		Durable:          true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// NATSCapabilities for NATS Core subjects.
	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1048576, // Default 1MB
	}
)

// Limitations describes what a dead letter parked on the sink loses next
// to a Kafka dead-letter topic. An empty result means nothing.
func (c Capabilities) Limitations() []string {
	var out []string
	if !c.Durable {
		out = append(out, "dead letters are lost when the process stops")
	}
	if !c.KeepsRecordKey() {
		out = append(out, "dead letters are not placed by record key")
	}
	if !c.SupportsReliableDelivery() {
		out = append(out, "unacknowledged dead letters are not redelivered")
	}
	if !c.SupportsOrdering {
		out = append(out, "dead letters may be read back out of order")
	}
	if !c.SupportsTracing {
		out = append(out, "trace context does not survive the hop")
	}
	if c.MaxMessageSize > 0 {
		out = append(out, fmt.Sprintf("records over %d bytes are rejected", c.MaxMessageSize))
	}
	return out
}

// GetCapabilities returns the capabilities of a sink in the default
// registry, zero for an unknown sink.
func GetCapabilities(name string) Capabilities {
	caps, _ := DefaultRegistry.Lookup(name)
	return caps
}
