// Package cekafka produces and consumes customer records on a Kafka topic as
// CloudEvents envelopes whose JSON schemas live in a Confluent-compatible
// schema registry.
//
// A ProducerSession composes each record key from a client tag and a rotating
// counter, picks the partition with the murmur2 hash of the key mixed with a
// payload affinity (the customer's last name), frames key and value with the
// registry's schema ids and sends them through a Sarama async producer.
// A ConsumerSession subscribes through watermill-kafka, decodes key and value
// against the registry and hands each envelope to a Handler. Records that fail
// to decode or to be handled are skipped, parked on a dead-letter sink or halt
// the session, depending on the RecordPolicy.
//
// Service ties both sessions to a Config loaded from Java client style
// .properties files, CEKAFKA_* environment variables and flag overrides, and
// serves a small HTTP surface: POST /customers publishes a record, GET /stats
// reports session states and counters, and GET /metrics exposes Prometheus
// collectors.
//
// # Dead-letter sinks
//
// Records parked by the dead-letter policy can be sent to:
//   - kafka: a second Kafka topic
//   - rabbitmq: an AMQP queue
//   - nats: a NATS subject
//   - channel: in-process Go channels, for tests
//
// Service.TailDeadLetters reads them back through a watermill router.
//
// # Running without a broker
//
// InMemoryDependencies swaps the broker, the registry and the dead-letter sink
// for a persistent in-process channel and a static schema source, which keeps
// the full encode, partition and decode path under test.
package cekafka
