package metadata

import (
	"strconv"
	"time"

	"github.com/IBM/sarama"
)

// FromHeaders copies record headers into metadata. Later duplicates win.
func FromHeaders(headers []*sarama.RecordHeader) Metadata {
	md := make(Metadata, len(headers))
	for _, h := range headers {
		if h == nil {
			continue
		}
		md[string(h.Key)] = string(h.Value)
	}
	return md
}

// ToHeaders renders metadata as record headers, skipping the keys that
// describe Kafka coordinates.
func ToHeaders(md Metadata) []sarama.RecordHeader {
	headers := make([]sarama.RecordHeader, 0, len(md))
	for k, v := range md {
		if isCoordinate(k) {
			continue
		}
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}
	return headers
}

// FromConsumerMessage returns the headers of msg plus its coordinates.
func FromConsumerMessage(msg *sarama.ConsumerMessage) Metadata {
	md := FromHeaders(msg.Headers)
	if msg.Key != nil {
		md[KeyRecordKey] = string(msg.Key)
	}
	md[KeyTopic] = msg.Topic
	md[KeyPartition] = strconv.FormatInt(int64(msg.Partition), 10)
	md[KeyOffset] = strconv.FormatInt(msg.Offset, 10)
	if !msg.Timestamp.IsZero() {
		md[KeyTimestamp] = msg.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return md
}

func isCoordinate(key string) bool {
	switch key {
	case KeyRecordKey, KeyTopic, KeyPartition, KeyOffset, KeyTimestamp:
		return true
	}
	return false
}
