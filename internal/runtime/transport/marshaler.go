package transport

import (
	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/cekafka/internal/runtime/cloudevents"
	idspkg "github.com/drblury/cekafka/internal/runtime/ids"
	"github.com/drblury/cekafka/internal/runtime/metadata"
)

// RecordMarshaler converts between sarama records and Watermill messages
// without losing the record key. The key travels in metadata under
// metadata.KeyRecordKey, next to the partition, offset and timestamp.
type RecordMarshaler struct{}

// uuidHeaderKey matches the header watermill-kafka's DefaultMarshaler uses for
// message UUIDs, so both marshalers can read each other's records.
const uuidHeaderKey = kafka.UUIDHeaderKey

var _ kafka.MarshalerUnmarshaler = RecordMarshaler{}

func (RecordMarshaler) Marshal(topic string, msg *message.Message) (*sarama.ProducerMessage, error) {
	md := metadata.FromWatermill(msg.Metadata)

	headers := metadata.ToHeaders(md)
	headers = append(headers, sarama.RecordHeader{
		Key:   []byte(uuidHeaderKey),
		Value: []byte(msg.UUID),
	})

	out := &sarama.ProducerMessage{
		Topic:   topic,
		Value:   sarama.ByteEncoder(msg.Payload),
		Headers: headers,
	}
	if key, ok := md[metadata.KeyRecordKey]; ok {
		out.Key = sarama.ByteEncoder(key)
	}
	return out, nil
}

func (RecordMarshaler) Unmarshal(raw *sarama.ConsumerMessage) (*message.Message, error) {
	md := metadata.FromConsumerMessage(raw)

	uuid := md[uuidHeaderKey]
	delete(md, uuidHeaderKey)
	if uuid == "" {
		uuid = md[cloudevents.HeaderID]
	}
	if uuid == "" {
		uuid = idspkg.CreateULID()
	}

	msg := message.NewMessage(uuid, raw.Value)
	msg.Metadata = metadata.ToWatermill(md)
	return msg, nil
}
