package transport

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/cekafka/internal/runtime/cloudevents"
	"github.com/drblury/cekafka/internal/runtime/metadata"
)

func TestRecordMarshalerKeepsKeyAndHeaders(t *testing.T) {
	msg := message.NewMessage("msg-1", []byte("payload"))
	msg.Metadata.Set(metadata.KeyRecordKey, "key-bytes")
	msg.Metadata.Set(metadata.KeyPartition, "3")
	msg.Metadata.Set(cloudevents.HeaderType, "com.example.customer")

	out, err := RecordMarshaler{}.Marshal("customers.dlq", msg)
	require.NoError(t, err)

	assert.Equal(t, "customers.dlq", out.Topic)
	key, err := out.Key.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte("key-bytes"), key)

	headers := map[string]string{}
	for _, h := range out.Headers {
		headers[string(h.Key)] = string(h.Value)
	}
	assert.Equal(t, "com.example.customer", headers[cloudevents.HeaderType])
	assert.Equal(t, "msg-1", headers[uuidHeaderKey])
	assert.NotContains(t, headers, metadata.KeyPartition)
	assert.NotContains(t, headers, metadata.KeyRecordKey)
}

func TestRecordMarshalerWithoutKey(t *testing.T) {
	out, err := RecordMarshaler{}.Marshal("t", message.NewMessage("m", []byte("x")))
	require.NoError(t, err)
	assert.Nil(t, out.Key)
}

func TestRecordUnmarshalerCoordinates(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	raw := &sarama.ConsumerMessage{
		Topic:     "customers",
		Partition: 2,
		Offset:    41,
		Key:       []byte("k"),
		Value:     []byte("v"),
		Timestamp: ts,
		Headers: []*sarama.RecordHeader{
			{Key: []byte(cloudevents.HeaderID), Value: []byte("evt-1")},
		},
	}

	msg, err := RecordMarshaler{}.Unmarshal(raw)
	require.NoError(t, err)

	assert.Equal(t, "evt-1", msg.UUID)
	assert.Equal(t, []byte("v"), []byte(msg.Payload))
	md := metadata.FromWatermill(msg.Metadata)
	assert.Equal(t, "k", md[metadata.KeyRecordKey])
	assert.Equal(t, int32(2), md.Partition())
	assert.Equal(t, int64(41), md.Offset())
	assert.Equal(t, ts.Format(time.RFC3339Nano), md[metadata.KeyTimestamp])
}

func TestRecordUnmarshalerPrefersWatermillUUID(t *testing.T) {
	raw := &sarama.ConsumerMessage{
		Topic: "customers",
		Headers: []*sarama.RecordHeader{
			{Key: []byte(uuidHeaderKey), Value: []byte("wm-uuid")},
			{Key: []byte(cloudevents.HeaderID), Value: []byte("evt-1")},
		},
	}

	msg, err := RecordMarshaler{}.Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, "wm-uuid", msg.UUID)
	assert.Empty(t, msg.Metadata.Get(uuidHeaderKey))
}

func TestRecordUnmarshalerGeneratesUUID(t *testing.T) {
	msg, err := RecordMarshaler{}.Unmarshal(&sarama.ConsumerMessage{Topic: "customers"})
	require.NoError(t, err)
	assert.Len(t, msg.UUID, 26)
}
