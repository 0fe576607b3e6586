// Package partition maps composite record keys onto topic partitions with
// Kafka's murmur2 rule.
package partition

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/drblury/cekafka/internal/runtime/cloudevents"
	errspkg "github.com/drblury/cekafka/internal/runtime/errors"
	"github.com/drblury/cekafka/internal/runtime/keys"
	loggingpkg "github.com/drblury/cekafka/internal/runtime/logging"
)

// KeySeparator joins the client id and the payload affinity field.
const KeySeparator = "+"

// Lookup reports how many partitions a topic has.
type Lookup func(topic string) (int, error)

// Affinity extracts the payload field mixed into structured keys.
type Affinity[P any] func(payload P) string

// Partitioner assigns partitions for one producer session.
//
// The partition count is read through the Lookup on first use and cached
// until Refresh is called; a topic that grows is not noticed before then.
// A zero count is never cached so a topic created later is picked up.
type Partitioner[P any] struct {
	affinity Affinity[P]
	logger   loggingpkg.ServiceLogger

	mu    sync.Mutex
	count int
}

// New returns a partitioner using affinity for structured keys. A nil logger
// disables the per-assignment debug line.
func New[P any](affinity Affinity[P], logger loggingpkg.ServiceLogger) *Partitioner[P] {
	if affinity == nil {
		panic("cekafka: partition affinity cannot be nil")
	}
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}
	return &Partitioner[P]{affinity: affinity, logger: logger}
}

// Assign returns the partition for a record. keyBytes is the serialized key
// and must be non-nil. When key is set the effective partitioning input is
// "<clientID>+<affinity(value.Data)>"; otherwise keyBytes is hashed directly.
func (p *Partitioner[P]) Assign(topic string, key *keys.Key, keyBytes []byte, value cloudevents.Event[P], lookup Lookup) (int32, error) {
	keyLabel := ""
	if key != nil {
		keyLabel = key.String()
	}

	n, err := p.partitionCount(topic, lookup)
	if err != nil {
		return 0, errspkg.NewRecordError("assign", topic, keyLabel, err)
	}

	if keyBytes == nil {
		return 0, errspkg.NewRecordError("assign", topic, keyLabel, errspkg.ErrMissingKey)
	}

	effective := keyBytes
	if key != nil {
		effective = EffectiveKey(*key, p.affinity(value.Data))
	}

	if n <= 0 {
		return 0, errspkg.NewRecordError("assign", topic, keyLabel, fmt.Errorf("%w: topic %q reports %d partitions", errspkg.ErrNoPartitionsAvailable, topic, n))
	}

	hash := Murmur2(effective)
	partition := ToPositive(hash) % int32(n)

	p.logger.Debug("Partition assigned", loggingpkg.LogFields{
		"topic":         topic,
		"effective_key": string(effective),
		"hash":          hash,
		"partition":     partition,
		"partitions":    n,
	})
	return partition, nil
}

// PartitionCount returns the cached count, or 0 if none is cached.
func (p *Partitioner[P]) PartitionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Refresh drops the cached partition count so the next Assign queries the
// lookup again.
func (p *Partitioner[P]) Refresh() {
	p.mu.Lock()
	p.count = 0
	p.mu.Unlock()
}

func (p *Partitioner[P]) partitionCount(topic string, lookup Lookup) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.count > 0 {
		return p.count, nil
	}
	if lookup == nil {
		return 0, fmt.Errorf("%w: no partition lookup configured", errspkg.ErrNoPartitionsAvailable)
	}
	n, err := lookup(topic)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errspkg.ErrNoPartitionsAvailable, err)
	}
	if n > 0 {
		p.count = n
	}
	return n, nil
}

// EffectiveKey builds the partitioning input for a structured key.
func EffectiveKey(key keys.Key, affinity string) []byte {
	return []byte(strconv.FormatInt(key.ClientID, 10) + KeySeparator + affinity)
}

// ForKey is the stateless form of Assign for a known partition count.
func ForKey(effective []byte, n int) (int32, error) {
	if effective == nil {
		return 0, errspkg.ErrMissingKey
	}
	if n <= 0 {
		return 0, errspkg.ErrNoPartitionsAvailable
	}
	return ToPositive(Murmur2(effective)) % int32(n), nil
}
