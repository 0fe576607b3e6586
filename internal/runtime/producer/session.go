// Package producer implements the producer session: envelopes are serialized
// through the schema registry, placed on a partition by the composite-key
// partitioner and acknowledged by every in-sync replica before Send returns.
package producer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/cekafka/internal/runtime/cloudevents"
	"github.com/drblury/cekafka/internal/runtime/config"
	errspkg "github.com/drblury/cekafka/internal/runtime/errors"
	idspkg "github.com/drblury/cekafka/internal/runtime/ids"
	"github.com/drblury/cekafka/internal/runtime/keys"
	loggingpkg "github.com/drblury/cekafka/internal/runtime/logging"
	"github.com/drblury/cekafka/internal/runtime/metadata"
	"github.com/drblury/cekafka/internal/runtime/metrics"
	"github.com/drblury/cekafka/internal/runtime/partition"
	"github.com/drblury/cekafka/internal/runtime/registry"
	"github.com/drblury/cekafka/internal/runtime/tracing"
	"github.com/drblury/cekafka/internal/runtime/transport"
)

// Log is the session's connection to the broker.
type Log interface {
	Input() chan<- *sarama.ProducerMessage
	Successes() <-chan *sarama.ProducerMessage
	Errors() <-chan *sarama.ProducerError
	AsyncClose()
	PartitionCount(topic string) (int, error)
	RefreshMetadata(topic string) error
	Close() error
}

// ConnectFunc opens the session's connection.
type ConnectFunc func(ctx context.Context) (Log, error)

// KafkaConnect returns a ConnectFunc dialing the brokers named in conf.
func KafkaConnect(conf *config.Config) ConnectFunc {
	return func(context.Context) (Log, error) {
		return transport.NewKafkaProducer(conf)
	}
}

// Options configures a Session.
type Options[P any] struct {
	Topic string

	// ClientTag and CounterModulus configure the session's key composer.
	ClientTag      string
	CounterModulus int

	// EventType and EventSource are the attributes Publish builds envelopes with.
	EventType   string
	EventSource string

	Serde    registry.Serde
	Affinity partition.Affinity[P]
	Connect  ConnectFunc

	// Listener is told about every completion. Defaults to LoggingListener.
	Listener Listener
	Logger   loggingpkg.ServiceLogger
	Metrics  *metrics.Metrics
}

func (o Options[P]) validate() error {
	var errs []error
	if o.Topic == "" {
		errs = append(errs, errspkg.ErrTopicRequired)
	}
	if o.Serde == nil {
		errs = append(errs, errspkg.ErrSerdeRequired)
	}
	if o.Affinity == nil {
		errs = append(errs, errors.New("partition affinity is required"))
	}
	if o.Connect == nil {
		errs = append(errs, errors.New("connect function is required"))
	}
	if o.Logger == nil {
		errs = append(errs, errspkg.ErrLoggerRequired)
	}
	return errspkg.NewConfigValidationError(errors.Join(errs...))
}

// Session publishes envelopes of payload type P to one topic.
//
// Send is safe for concurrent use. The key counter and the partition count
// cache are shared by every caller of the session.
type Session[P any] struct {
	opts        Options[P]
	logger      loggingpkg.ServiceLogger
	listener    Listener
	composer    *keys.Composer
	partitioner *partition.Partitioner[P]

	state atomicState

	// mu orders the state check of an enqueue against Close. It is never
	// held while a record waits for room on the producer input.
	mu         sync.RWMutex
	log        Log
	inflight   sync.WaitGroup
	senders    sync.WaitGroup
	workerDone chan struct{}

	closing      chan struct{}
	closingOnce  sync.Once
	released     chan struct{}
	releasedOnce sync.Once
}

// abortTimeout bounds the flush of a session closed after a connection loss.
const abortTimeout = 30 * time.Second

type outcome struct {
	receipt Receipt
	err     error
}

// pending travels with a record through the producer as its Metadata.
type pending struct {
	receipt Receipt
	started time.Time
	span    trace.Span
	done    chan outcome
}

// New validates opts and returns a configured session.
func New[P any](opts Options[P]) (*Session[P], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger.With(loggingpkg.LogFields{"topic": opts.Topic, "component": "producer"})
	listener := opts.Listener
	if listener == nil {
		listener = LoggingListener(logger)
	}

	s := &Session[P]{
		opts:        opts,
		logger:      logger,
		listener:    listener,
		composer:    keys.NewComposer(opts.ClientTag, keys.NewCounter(opts.CounterModulus)),
		partitioner: partition.New(opts.Affinity, logger),
		workerDone:  make(chan struct{}),
		closing:     make(chan struct{}),
		released:    make(chan struct{}),
	}
	s.state.Store(StateConfigured)
	return s, nil
}

// State returns the session's lifecycle state.
func (s *Session[P]) State() State {
	return s.state.Load()
}

// Start opens the connection and the completion worker. A failed start
// closes the session for good.
func (s *Session[P]) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch st := s.state.Load(); st {
	case StateConfigured:
	case StateClosed:
		return errspkg.ErrSessionClosed
	default:
		return fmt.Errorf("cekafka: producer cannot start in state %s", st)
	}

	log, err := s.opts.Connect(ctx)
	if err != nil {
		s.state.Store(StateClosed)
		s.markReleased()
		if errors.Is(err, errspkg.ErrConnection) {
			return err
		}
		return fmt.Errorf("%w: %w", errspkg.ErrConnection, err)
	}

	s.log = log
	go s.complete()
	s.state.Store(StateRunning)
	s.logger.Info("Producer session started", loggingpkg.LogFields{
		"client_tag": s.composer.ClientTag(),
		"modulus":    s.composer.Counter().Modulus(),
	})
	return nil
}

// ComposeKey returns the next key for baseID from the session's counter.
func (s *Session[P]) ComposeKey(baseID int64) keys.Key {
	return s.composer.Compose(baseID)
}

// RefreshPartitions reloads the topic metadata from the brokers and drops the
// cached partition count, so the next send sees partitions added since.
func (s *Session[P]) RefreshPartitions() error {
	s.mu.RLock()
	log := s.log
	s.mu.RUnlock()

	var err error
	if log != nil {
		if err = log.RefreshMetadata(s.opts.Topic); err != nil {
			err = fmt.Errorf("%w: refresh metadata of %q: %w", errspkg.ErrConnection, s.opts.Topic, err)
		}
	}
	s.partitioner.Refresh()
	return err
}

// Publish wraps payload in an envelope carrying the session's type and
// source, keys it with the next composed key for baseID and sends it.
//
// The envelope's partitionkey extension carries the effective partitioning
// input, "<clientID>+<affinity>".
func (s *Session[P]) Publish(ctx context.Context, payload P, baseID int64) (Receipt, error) {
	key := s.ComposeKey(baseID)

	attrs := cloudevents.Attributes(s.opts.EventType, s.opts.EventSource)
	attrs[cloudevents.ExtCorrelationID] = idspkg.CreateULID()
	attrs[cloudevents.ExtPartitionKey] = string(partition.EffectiveKey(key, s.opts.Affinity(payload)))

	env, err := cloudevents.Build(payload, attrs)
	if err != nil {
		return Receipt{}, errspkg.NewRecordError("publish", s.opts.Topic, key.String(), err)
	}
	return s.Send(ctx, env, &key)
}

// Send publishes env under key and blocks until the broker acknowledges the
// record, the send fails, or ctx is done.
func (s *Session[P]) Send(ctx context.Context, env cloudevents.Event[P], key *keys.Key) (Receipt, error) {
	p, err := s.enqueue(ctx, env, key, true)
	if err != nil {
		return Receipt{}, err
	}
	select {
	case out := <-p.done:
		return out.receipt, out.err
	case <-ctx.Done():
		return Receipt{}, errspkg.NewRecordError("send", p.receipt.Topic, p.receipt.Key, ctx.Err())
	}
}

// SendAsync enqueues env without waiting for the acknowledgment. The
// outcome is reported to the session's Listener.
func (s *Session[P]) SendAsync(ctx context.Context, env cloudevents.Event[P], key *keys.Key) error {
	_, err := s.enqueue(ctx, env, key, false)
	return err
}

func (s *Session[P]) enqueue(ctx context.Context, env cloudevents.Event[P], key *keys.Key, wait bool) (*pending, error) {
	topic := s.opts.Topic
	if s.state.Load() != StateRunning {
		return nil, errspkg.NewRecordError("send", topic, keyLabel(key), errspkg.ErrSessionClosed)
	}

	p, msg, err := s.prepare(ctx, env, key)
	if err != nil {
		s.opts.Metrics.SendRejected(topic)
		if errors.Is(err, errspkg.ErrConnection) {
			s.abort(err)
		}
		return nil, err
	}
	if wait {
		p.done = make(chan outcome, 1)
	}
	msg.Metadata = p

	s.mu.RLock()
	if s.state.Load() != StateRunning {
		s.mu.RUnlock()
		s.finishSpan(p, errspkg.ErrSessionClosed)
		return nil, errspkg.NewRecordError("send", topic, p.receipt.Key, errspkg.ErrSessionClosed)
	}
	s.inflight.Add(1)
	s.senders.Add(1)
	s.mu.RUnlock()
	defer s.senders.Done()

	p.started = time.Now()
	select {
	case <-s.closing:
		s.inflight.Done()
		s.finishSpan(p, errspkg.ErrSessionClosed)
		return nil, errspkg.NewRecordError("send", topic, p.receipt.Key, errspkg.ErrSessionClosed)
	default:
	}
	select {
	case s.log.Input() <- msg:
		s.opts.Metrics.SendStarted(topic)
		return p, nil
	case <-ctx.Done():
		s.inflight.Done()
		s.finishSpan(p, ctx.Err())
		return nil, errspkg.NewRecordError("send", topic, p.receipt.Key, ctx.Err())
	case <-s.closing:
		s.inflight.Done()
		s.finishSpan(p, errspkg.ErrSessionClosed)
		return nil, errspkg.NewRecordError("send", topic, p.receipt.Key, errspkg.ErrSessionClosed)
	}
}

// abort closes a running session in the background after the registry or
// the brokers became unreachable. Later sends fail with ErrSessionClosed.
func (s *Session[P]) abort(cause error) {
	if s.state.Load() != StateRunning {
		return
	}
	s.logger.Error("Producer session aborted", cause, nil)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
		defer cancel()
		_ = s.Close(ctx)
	}()
}

// prepare serializes the record, assigns its partition and builds the
// producer message. The span started here ends when the record completes.
func (s *Session[P]) prepare(ctx context.Context, env cloudevents.Event[P], key *keys.Key) (*pending, *sarama.ProducerMessage, error) {
	topic := s.opts.Topic
	if key == nil {
		return nil, nil, errspkg.NewRecordError("send", topic, "", errspkg.ErrMissingKey)
	}
	label := key.String()
	if err := env.Validate(); err != nil {
		return nil, nil, errspkg.NewRecordError("send", topic, label, err)
	}

	keyBytes, err := s.opts.Serde.Serialize(ctx, registry.KeySubject(topic), key)
	if err != nil {
		return nil, nil, errspkg.NewRecordError("send", topic, label, err)
	}
	valueBytes, err := s.opts.Serde.Serialize(ctx, registry.ValueSubject(topic), env)
	if err != nil {
		return nil, nil, errspkg.NewRecordError("send", topic, label, err)
	}

	part, err := s.partitioner.Assign(topic, key, keyBytes, env, s.log.PartitionCount)
	if err != nil {
		return nil, nil, err
	}
	s.opts.Metrics.Assigned(topic, part)

	spanCtx, span := tracing.StartSend(ctx, topic, label, env.ID())
	md := metadata.Metadata(cloudevents.Headers(env))
	tracing.Inject(spanCtx, md)
	headers := metadata.ToHeaders(md)

	p := &pending{
		receipt: Receipt{
			Topic:     topic,
			Partition: part,
			Offset:    sarama.OffsetNewest,
			Key:       label,
			EventID:   env.ID(),
		},
		span: span,
	}

	return p, &sarama.ProducerMessage{
		Topic:     topic,
		Partition: part,
		Key:       sarama.ByteEncoder(keyBytes),
		Value:     sarama.ByteEncoder(valueBytes),
		Headers:   headers,
	}, nil
}

// complete routes acknowledgments and failures back to their senders until
// the producer has flushed and closed both channels.
func (s *Session[P]) complete() {
	defer close(s.workerDone)

	successes := s.log.Successes()
	failures := s.log.Errors()
	for successes != nil || failures != nil {
		select {
		case msg, ok := <-successes:
			if !ok {
				successes = nil
				continue
			}
			s.finish(msg, nil)
		case perr, ok := <-failures:
			if !ok {
				failures = nil
				continue
			}
			s.finish(perr.Msg, fmt.Errorf("%w: %w", errspkg.ErrDelivery, perr.Err))
		}
	}
}

func (s *Session[P]) finish(msg *sarama.ProducerMessage, err error) {
	if msg == nil {
		return
	}
	p, ok := msg.Metadata.(*pending)
	if !ok {
		s.logger.Error("Completion without pending record", err, loggingpkg.LogFields{"partition": msg.Partition})
		return
	}
	defer s.inflight.Done()

	receipt := p.receipt
	if err == nil {
		receipt.Partition = msg.Partition
		receipt.Offset = msg.Offset
		receipt.Timestamp = msg.Timestamp
		if receipt.Timestamp.IsZero() {
			receipt.Timestamp = time.Now().UTC()
		}
	} else {
		err = errspkg.NewRecordError("send", receipt.Topic, receipt.Key, err)
	}

	s.opts.Metrics.SendCompleted(receipt.Topic, time.Since(p.started), err)
	s.finishSpanWith(p, receipt, err)

	if p.done != nil {
		p.done <- outcome{receipt: receipt, err: err}
	}
	s.notify(receipt, err)
}

func (s *Session[P]) notify(receipt Receipt, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Completion listener panicked", fmt.Errorf("panic: %v", r), loggingpkg.LogFields{
				"key":      receipt.Key,
				"event_id": receipt.EventID,
			})
		}
	}()
	s.listener.OnCompletion(receipt, err)
}

func (s *Session[P]) finishSpan(p *pending, err error) {
	s.finishSpanWith(p, p.receipt, err)
}

func (s *Session[P]) finishSpanWith(p *pending, receipt Receipt, err error) {
	if err != nil {
		tracing.Fail(p.span, err)
	} else {
		tracing.Delivered(p.span, receipt.Partition, receipt.Offset)
	}
	p.span.End()
}

// Close stops accepting sends, waits for in-flight records (bounded by ctx),
// flushes the producer and releases the connection. Sends still waiting for
// room on the producer input fail with ErrSessionClosed. Close is idempotent:
// a second call waits, bounded by its ctx, for the first to release the
// connection.
func (s *Session[P]) Close(ctx context.Context) error {
	s.closingOnce.Do(func() { close(s.closing) })

	s.mu.Lock()
	prev := s.state.Swap(StateClosed)
	s.mu.Unlock()
	if prev != StateRunning {
		if prev == StateConfigured {
			s.markReleased()
		}
		select {
		case <-s.released:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer s.markReleased()

	// Every sender has seen closing by now, so none is left that could
	// write to the input after AsyncClose.
	s.senders.Wait()

	var errs []error
	if err := waitContext(ctx, s.inflight.Wait); err != nil {
		errs = append(errs, fmt.Errorf("waiting for in-flight sends: %w", err))
	}

	s.log.AsyncClose()
	select {
	case <-s.workerDone:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for producer flush: %w", ctx.Err()))
	}

	if err := s.log.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing connection: %w", err))
	}
	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("Producer session closed with errors", err, nil)
	} else {
		s.logger.Info("Producer session closed", nil)
	}
	return err
}

func (s *Session[P]) markReleased() {
	s.releasedOnce.Do(func() { close(s.released) })
}

func waitContext(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func keyLabel(key *keys.Key) string {
	if key == nil {
		return ""
	}
	return key.String()
}
