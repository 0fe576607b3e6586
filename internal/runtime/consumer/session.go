// Package consumer implements the consumer session: a bounded poll loop that
// decodes records through the schema registry and hands them to a typed
// handler in the order they were read.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/cekafka/internal/runtime/cloudevents"
	errspkg "github.com/drblury/cekafka/internal/runtime/errors"
	"github.com/drblury/cekafka/internal/runtime/keys"
	loggingpkg "github.com/drblury/cekafka/internal/runtime/logging"
	"github.com/drblury/cekafka/internal/runtime/metadata"
	"github.com/drblury/cekafka/internal/runtime/metrics"
	"github.com/drblury/cekafka/internal/runtime/registry"
	"github.com/drblury/cekafka/internal/runtime/tracing"
)

const (
	DefaultPollTimeout    = 100 * time.Millisecond
	DefaultMaxPollRecords = 500
)

// Failure stages recorded on dead letters.
const (
	StageKey     = "key"
	StageValue   = "value"
	StageHandler = "handler"
)

// Handler processes one decoded record. The context it receives is not
// cancelled when the session stops.
type Handler[P any] func(ctx context.Context, key keys.Key, env cloudevents.Event[P]) error

// Options configures a Session.
type Options[P any] struct {
	Topic string
	// Group is the consumer group, used for tracing and logs.
	Group string

	Subscriber message.Subscriber
	Serde      registry.Serde
	Handler    Handler[P]

	// PollTimeout bounds how long one poll waits for its first record.
	PollTimeout time.Duration
	// MaxPollRecords bounds how many records one poll processes.
	MaxPollRecords int

	Policy          RecordPolicy
	DeadLetter      message.Publisher
	DeadLetterTopic string

	Logger  loggingpkg.ServiceLogger
	Metrics *metrics.Metrics
}

func (o Options[P]) withDefaults() Options[P] {
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.MaxPollRecords <= 0 {
		o.MaxPollRecords = DefaultMaxPollRecords
	}
	return o
}

func (o Options[P]) validate() error {
	var errs []error
	if o.Topic == "" {
		errs = append(errs, errspkg.ErrTopicRequired)
	}
	if o.Subscriber == nil {
		errs = append(errs, errspkg.ErrSubscriberNeeded)
	}
	if o.Serde == nil {
		errs = append(errs, errspkg.ErrSerdeRequired)
	}
	if o.Handler == nil {
		errs = append(errs, errspkg.ErrHandlerRequired)
	}
	if o.Logger == nil {
		errs = append(errs, errspkg.ErrLoggerRequired)
	}
	if o.Policy == PolicyDeadLetter {
		if o.DeadLetter == nil {
			errs = append(errs, fmt.Errorf("dead-letter policy: %w", errspkg.ErrPublisherRequired))
		}
		if o.DeadLetterTopic == "" {
			errs = append(errs, fmt.Errorf("dead-letter policy: %w", errspkg.ErrTopicRequired))
		}
	}
	return errspkg.NewConfigValidationError(errors.Join(errs...))
}

// Session reads one topic. Run owns the subscription exclusively and must
// be called from a single goroutine.
type Session[P any] struct {
	opts   Options[P]
	logger loggingpkg.ServiceLogger

	state atomicState
	stop  atomic.Bool

	messages      <-chan *message.Message
	cancelSub     context.CancelFunc
	runDone       chan struct{}
	shutdownOnce  sync.Once
	shutdownError error
}

// New validates opts and returns an unsubscribed session.
func New[P any](opts Options[P]) (*Session[P], error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return &Session[P]{
		opts: opts,
		logger: opts.Logger.With(loggingpkg.LogFields{
			"topic":     opts.Topic,
			"group":     opts.Group,
			"component": "consumer",
		}),
		runDone: make(chan struct{}),
	}, nil
}

// State returns the session's lifecycle state.
func (s *Session[P]) State() State {
	return s.state.Load()
}

// Subscribe joins the topic. The subscription outlives ctx and ends when the
// session shuts down. A failure closes the session.
func (s *Session[P]) Subscribe(ctx context.Context) error {
	if !s.state.CompareAndSwap(StateUninitialized, StateSubscribed) {
		if s.state.Load() == StateClosed {
			return errspkg.ErrSessionClosed
		}
		return fmt.Errorf("cekafka: consumer cannot subscribe in state %s", s.state.Load())
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	messages, err := s.opts.Subscriber.Subscribe(subCtx, s.opts.Topic)
	if err != nil {
		cancel()
		s.state.Store(StateClosed)
		return fmt.Errorf("%w: subscribe %q: %w", errspkg.ErrConnection, s.opts.Topic, err)
	}
	s.messages = messages
	s.cancelSub = cancel
	s.logger.Info("Consumer subscribed", loggingpkg.LogFields{"policy": s.opts.Policy.String()})
	return nil
}

// Run polls until ctx is done or Stop is called, then closes the session.
// It returns nil on a clean stop, the record error under PolicyHalt, or an
// ErrConnection when the subscription ends underneath it.
func (s *Session[P]) Run(ctx context.Context) error {
	if s.state.Load() == StateUninitialized {
		if err := s.Subscribe(ctx); err != nil {
			return err
		}
	}
	if !s.state.CompareAndSwap(StateSubscribed, StatePolling) {
		if s.state.Load() == StateClosed {
			return errspkg.ErrSessionClosed
		}
		return fmt.Errorf("cekafka: consumer cannot run in state %s", s.state.Load())
	}
	defer close(s.runDone)
	defer s.shutdown()

	for !s.stop.Load() && ctx.Err() == nil {
		if _, err := s.Poll(ctx); err != nil {
			s.logger.Error("Consumer stopped", err, nil)
			return err
		}
	}
	return nil
}

// Stop asks Run to return after the current poll.
func (s *Session[P]) Stop() {
	s.stop.Store(true)
}

// Close stops the session. When Run is active it waits, bounded by ctx, for
// Run to finish its current poll; otherwise it releases the subscription
// directly.
func (s *Session[P]) Close(ctx context.Context) error {
	s.Stop()
	if s.state.Load() == StatePolling {
		select {
		case <-s.runDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.shutdown()
}

func (s *Session[P]) shutdown() error {
	s.shutdownOnce.Do(func() {
		s.state.Store(StateStopping)
		if s.cancelSub != nil {
			s.cancelSub()
		}
		s.shutdownError = s.opts.Subscriber.Close()
		s.state.Store(StateClosed)
		s.logger.Info("Consumer closed", nil)
	})
	return s.shutdownError
}

// Poll waits up to the poll timeout for a record, then processes it and any
// further records already available, up to the poll limit. It returns how
// many records were processed. Waiting with nothing to read is not an error.
func (s *Session[P]) Poll(ctx context.Context) (int, error) {
	if s.messages == nil {
		return 0, errspkg.ErrSessionNotRunning
	}

	timer := time.NewTimer(s.opts.PollTimeout)
	defer timer.Stop()

	var first *message.Message
	select {
	case msg, ok := <-s.messages:
		if !ok {
			return 0, fmt.Errorf("%w: subscription to %q closed", errspkg.ErrConnection, s.opts.Topic)
		}
		first = msg
	case <-timer.C:
		s.opts.Metrics.Polled(s.opts.Topic, 0)
		return 0, nil
	case <-ctx.Done():
		return 0, nil
	}

	n := 0
	msg := first
	for {
		n++
		if err := s.process(ctx, msg); err != nil {
			s.opts.Metrics.Polled(s.opts.Topic, n)
			return n, err
		}
		if n >= s.opts.MaxPollRecords {
			break
		}

		var ok bool
		select {
		case msg, ok = <-s.messages:
			if !ok {
				s.opts.Metrics.Polled(s.opts.Topic, n)
				return n, fmt.Errorf("%w: subscription to %q closed", errspkg.ErrConnection, s.opts.Topic)
			}
		default:
			msg = nil
		}
		if msg == nil {
			break
		}
	}
	s.opts.Metrics.Polled(s.opts.Topic, n)
	return n, nil
}

// process decodes and handles one record. It returns an error only when the
// session must stop.
func (s *Session[P]) process(ctx context.Context, msg *message.Message) error {
	md := metadata.FromWatermill(msg.Metadata)
	hctx, span := tracing.StartProcess(context.WithoutCancel(ctx), s.opts.Topic, s.opts.Group, md)
	defer span.End()
	msg.SetContext(hctx)

	key, env, stage, err := s.decode(hctx, md, msg.Payload)
	if err == nil {
		stage = StageHandler
		err = s.handle(hctx, key, env)
	}
	if err == nil {
		msg.Ack()
		s.opts.Metrics.Record(s.opts.Topic, metrics.OutcomeHandled)
		s.logger.Debug("Record handled", loggingpkg.LogFields{
			"key":       key.String(),
			"event_id":  env.ID(),
			"partition": md.Partition(),
			"offset":    md.Offset(),
		})
		return nil
	}

	tracing.Fail(span, err)
	return s.fail(hctx, msg, md, stage, err)
}

func (s *Session[P]) decode(ctx context.Context, md metadata.Metadata, payload []byte) (keys.Key, cloudevents.Event[P], string, error) {
	var (
		key keys.Key
		env cloudevents.Event[P]
	)
	// A present but empty key is handed to the key serde, which rejects it as
	// unframed.
	raw, ok := md[metadata.KeyRecordKey]
	if !ok {
		return key, env, StageKey, errspkg.NewRecordError("poll", s.opts.Topic, "", errspkg.ErrMissingKey)
	}
	if err := s.opts.Serde.Deserialize(ctx, registry.KeySubject(s.opts.Topic), []byte(raw), &key); err != nil {
		return key, env, StageKey, errspkg.NewRecordError("poll", s.opts.Topic, "", err)
	}
	if err := s.opts.Serde.Deserialize(ctx, registry.ValueSubject(s.opts.Topic), payload, &env); err != nil {
		return key, env, StageValue, errspkg.NewRecordError("poll", s.opts.Topic, key.String(), err)
	}
	return key, env, "", nil
}

func (s *Session[P]) handle(ctx context.Context, key keys.Key, env cloudevents.Event[P]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
		err = errspkg.NewRecordError("handle", s.opts.Topic, key.String(), err)
	}()
	return s.opts.Handler(ctx, key, env)
}

func (s *Session[P]) fail(ctx context.Context, msg *message.Message, md metadata.Metadata, stage string, err error) error {
	key, _ := errspkg.KeyOf(err)
	fields := loggingpkg.LogFields{
		"key":       key,
		"stage":     stage,
		"partition": md.Partition(),
		"offset":    md.Offset(),
		"policy":    s.opts.Policy.String(),
	}

	// A registry or broker outage is not the record's fault. The record is
	// redelivered once the session is restarted.
	if errors.Is(err, errspkg.ErrConnection) {
		msg.Nack()
		s.opts.Metrics.Record(s.opts.Topic, metrics.OutcomeHalted)
		s.logger.Error("Record not processed, connection lost", err, fields)
		return err
	}

	switch s.opts.Policy {
	case PolicyDeadLetter:
		if dlErr := s.deadLetter(msg, md, stage, err); dlErr != nil {
			msg.Nack()
			s.opts.Metrics.Record(s.opts.Topic, metrics.OutcomeHalted)
			return fmt.Errorf("dead-letter publish to %q failed: %w (record error: %w)", s.opts.DeadLetterTopic, dlErr, err)
		}
		msg.Ack()
		s.opts.Metrics.Record(s.opts.Topic, metrics.OutcomeDeadLettered)
		s.logger.Error("Record sent to dead-letter topic", err, fields)
		return nil
	case PolicyHalt:
		msg.Nack()
		s.opts.Metrics.Record(s.opts.Topic, metrics.OutcomeHalted)
		return err
	default:
		msg.Ack()
		s.opts.Metrics.Record(s.opts.Topic, metrics.OutcomeSkipped)
		s.logger.Error("Record skipped", err, fields)
		return nil
	}
}

// deadLetter republishes the raw record with the failure reason and its
// origin coordinates. The record key is kept so key-aware sinks can place it.
func (s *Session[P]) deadLetter(msg *message.Message, md metadata.Metadata, stage string, cause error) error {
	out := message.NewMessage(msg.UUID, msg.Payload)
	dl := md.WithAll(metadata.New(
		metadata.KeyDeadLetterError, cause.Error(),
		metadata.KeyDeadLetterStage, stage,
		metadata.KeyDeadLetterTopic, s.opts.Topic,
		metadata.KeyDeadLetterPartition, md[metadata.KeyPartition],
		metadata.KeyDeadLetterOffset, md[metadata.KeyOffset],
	))
	out.Metadata = metadata.ToWatermill(dl)
	out.SetContext(msg.Context())
	return s.opts.DeadLetter.Publish(s.opts.DeadLetterTopic, out)
}
