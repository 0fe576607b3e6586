// Package metadata carries record headers and Kafka coordinates between the
// sarama, Watermill and session layers.
package metadata

import "strconv"

// Keys set on every consumed record.
const (
	KeyRecordKey = "kafka_key"
	KeyTopic     = "kafka_topic"
	KeyPartition = "kafka_partition"
	KeyOffset    = "kafka_offset"
	KeyTimestamp = "kafka_timestamp"
)

// Keys added to records routed to a dead-letter sink.
const (
	KeyDeadLetterError     = "dead_letter_error"
	KeyDeadLetterStage     = "dead_letter_stage"
	KeyDeadLetterTopic     = "dead_letter_origin_topic"
	KeyDeadLetterPartition = "dead_letter_origin_partition"
	KeyDeadLetterOffset    = "dead_letter_origin_offset"
)

// Metadata represents the headers carried alongside a record.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a cloned metadata map containing the supplied entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// Partition returns the partition stored under KeyPartition, or -1.
func (m Metadata) Partition() int32 {
	v, err := strconv.ParseInt(m[KeyPartition], 10, 32)
	if err != nil {
		return -1
	}
	return int32(v)
}

// Offset returns the offset stored under KeyOffset, or -1.
func (m Metadata) Offset() int64 {
	v, err := strconv.ParseInt(m[KeyOffset], 10, 64)
	if err != nil {
		return -1
	}
	return v
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
