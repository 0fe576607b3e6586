package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill/message"
)

// MemoryLog is an in-process stand-in for a Kafka topic. It accepts producer
// records like a sarama async producer, assigns per-partition offsets and
// republishes each record through a Watermill publisher in the same shape
// RecordMarshaler gives consumed Kafka records. Pair it with a persistent
// gochannel to run producer and consumer sessions without a broker.
type MemoryLog struct {
	publisher  message.Publisher
	partitions int

	input     chan *sarama.ProducerMessage
	successes chan *sarama.ProducerMessage
	errors    chan *sarama.ProducerError
	closeOnce sync.Once

	mu      sync.Mutex
	offsets map[string]map[int32]int64
	closed  bool
}

// NewMemoryLog starts a log whose topics all report the given partition count.
func NewMemoryLog(publisher message.Publisher, partitions int) *MemoryLog {
	l := &MemoryLog{
		publisher:  publisher,
		partitions: partitions,
		input:      make(chan *sarama.ProducerMessage, 256),
		successes:  make(chan *sarama.ProducerMessage, 256),
		errors:     make(chan *sarama.ProducerError, 256),
		offsets:    make(map[string]map[int32]int64),
	}
	go l.run()
	return l
}

func (l *MemoryLog) run() {
	for msg := range l.input {
		if err := l.append(msg); err != nil {
			l.errors <- &sarama.ProducerError{Msg: msg, Err: err}
			continue
		}
		l.successes <- msg
	}
	close(l.successes)
	close(l.errors)
}

func (l *MemoryLog) append(msg *sarama.ProducerMessage) error {
	if msg.Partition < 0 || int(msg.Partition) >= l.partitions {
		return sarama.ErrInvalidPartition
	}

	l.mu.Lock()
	topic := l.offsets[msg.Topic]
	if topic == nil {
		topic = make(map[int32]int64)
		l.offsets[msg.Topic] = topic
	}
	msg.Offset = topic[msg.Partition]
	topic[msg.Partition]++
	l.mu.Unlock()

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	record, err := consumerRecord(msg)
	if err != nil {
		return err
	}
	wm, err := RecordMarshaler{}.Unmarshal(record)
	if err != nil {
		return err
	}
	return l.publisher.Publish(msg.Topic, wm)
}

func consumerRecord(msg *sarama.ProducerMessage) (*sarama.ConsumerMessage, error) {
	record := &sarama.ConsumerMessage{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Timestamp,
	}
	if msg.Key != nil {
		key, err := msg.Key.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode key: %w", err)
		}
		record.Key = key
	}
	if msg.Value != nil {
		value, err := msg.Value.Encode()
		if err != nil {
			return nil, fmt.Errorf("encode value: %w", err)
		}
		record.Value = value
	}
	for i := range msg.Headers {
		h := msg.Headers[i]
		record.Headers = append(record.Headers, &h)
	}
	return record, nil
}

func (l *MemoryLog) Input() chan<- *sarama.ProducerMessage     { return l.input }
func (l *MemoryLog) Successes() <-chan *sarama.ProducerMessage { return l.successes }
func (l *MemoryLog) Errors() <-chan *sarama.ProducerError      { return l.errors }

// AsyncClose stops accepting records. Successes and Errors close once the
// records already accepted have been appended.
func (l *MemoryLog) AsyncClose() {
	l.closeOnce.Do(func() { close(l.input) })
}

// PartitionCount reports the configured partition count for every topic.
func (l *MemoryLog) PartitionCount(string) (int, error) {
	return l.partitions, nil
}

// RefreshMetadata is a no-op: the partition count of a memory log is fixed.
func (l *MemoryLog) RefreshMetadata(string) error { return nil }

// Close marks the log closed. The publisher is owned by the caller.
func (l *MemoryLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// EndOffset returns the next offset of topic's partition.
func (l *MemoryLog) EndOffset(topic string, partition int32) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offsets[topic][partition]
}
