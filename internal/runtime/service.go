package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/cekafka/internal/runtime/config"
	"github.com/drblury/cekafka/internal/runtime/consumer"
	errspkg "github.com/drblury/cekafka/internal/runtime/errors"
	loggingpkg "github.com/drblury/cekafka/internal/runtime/logging"
	"github.com/drblury/cekafka/internal/runtime/metrics"
	"github.com/drblury/cekafka/internal/runtime/model"
	"github.com/drblury/cekafka/internal/runtime/producer"
	"github.com/drblury/cekafka/internal/runtime/registry"
	"github.com/drblury/cekafka/internal/runtime/tracing"
	transportpkg "github.com/drblury/cekafka/internal/runtime/transport"
)

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to use the connections described by the configuration.
type ServiceDependencies struct {
	// Serde replaces the schema registry client built from the configuration.
	Serde registry.Serde
	// Connect replaces the Kafka connection of the producer session.
	Connect producer.ConnectFunc
	// Subscriber replaces the Kafka subscriber of the consumer session.
	Subscriber message.Subscriber
	// DeadLetterFactory builds the sink used by the dead-letter record policy.
	DeadLetterFactory transportpkg.Factory
	// Handler processes consumed customers. Defaults to LogCustomerHandler.
	Handler consumer.Handler[model.Customer]
	// Listener is told about every produced record.
	Listener producer.Listener
	// Registerer receives the session collectors. Defaults to the Prometheus
	// default registerer.
	Registerer prometheus.Registerer
}

// Service wires the configuration to a producer session, a consumer session
// and the HTTP surface around them.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	deps     ServiceDependencies
	wmLogger watermill.LoggerAdapter
	metrics  *metrics.Metrics
	serde    registry.Serde

	mu         sync.Mutex
	closed     bool
	producer   *producer.Session[model.Customer]
	consumer   *consumer.Session[model.Customer]
	subscriber message.Subscriber
	deadLetter *transportpkg.Transport

	resourceTracker *resourceTracker
}

// NewService constructs a Service for the supplied configuration. Sessions are
// opened lazily by StartProducer and NewConsumer.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	log.Info("Creating cekafka service", loggingpkg.LogFields{
		"topic":  conf.Topic,
		"config": conf.String(),
	})

	tracing.InstallPropagator()

	registerer := deps.Registerer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := metrics.New(registerer)
	if conf.MetricsEnabled {
		if err := m.Register(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	serde := deps.Serde
	if serde == nil {
		var err error
		serde, err = NewSerde(conf)
		if err != nil {
			return nil, err
		}
	}

	if deps.DeadLetterFactory == nil {
		deps.DeadLetterFactory = transportpkg.DefaultFactory()
	}

	return &Service{
		Conf:            conf,
		Logger:          log,
		deps:            deps,
		wmLogger:        loggingpkg.NewWatermillAdapter(log),
		metrics:         m,
		serde:           serde,
		resourceTracker: newResourceTracker(),
	}, nil
}

// NewSerde builds the registry serde described by conf.
func NewSerde(conf *configpkg.Config) (*registry.JSONSerde, error) {
	opts := []registry.ClientOption{registry.WithLatestTTL(conf.SchemaCacheTTL)}
	if conf.SchemaRegistryUserInfo != "" {
		opts = append(opts, registry.WithBasicAuth(conf.SchemaRegistryUserInfo))
	}
	client, err := registry.NewClient(conf.SchemaRegistryURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("schema registry: %w", err)
	}
	return registry.NewJSONSerde(client, registry.Options{
		AutoRegister:        conf.AutoRegisterSchemas,
		UseLatestVersion:    conf.UseLatestVersion,
		StrictCompatibility: conf.StrictCompatibility,
		FailInvalidSchema:   conf.FailInvalidSchema,
	})
}

// Metrics returns the collectors shared by the sessions.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// StartProducer opens the producer session, or returns the one already open.
// A session that closed itself after losing its connection is replaced.
func (s *Service) StartProducer(ctx context.Context) (*producer.Session[model.Customer], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errspkg.ErrSessionClosed
	}
	if s.producer != nil {
		if s.producer.State() != producer.StateClosed {
			return s.producer, nil
		}
		s.Logger.Info("Reopening producer session", nil)
	}
	if err := s.Conf.ValidateProducer(); err != nil {
		return nil, err
	}

	connect := s.deps.Connect
	if connect == nil {
		connect = producer.KafkaConnect(s.Conf)
	}

	session, err := producer.New(producer.Options[model.Customer]{
		Topic:          s.Conf.Topic,
		ClientTag:      s.Conf.ClientTag,
		CounterModulus: s.Conf.CounterModulus,
		EventType:      s.Conf.EventType,
		EventSource:    s.Conf.EventSource,
		Serde:          s.serde,
		Affinity:       model.LastNameAffinity,
		Connect:        connect,
		Listener:       s.deps.Listener,
		Logger:         s.Logger,
		Metrics:        s.metrics,
	})
	if err != nil {
		return nil, err
	}
	if err := session.Start(ctx); err != nil {
		return nil, err
	}
	s.producer = session
	return session, nil
}

// Publish validates customer and sends it through the producer session,
// using the customer id as the key's base id. It waits at most the configured
// send timeout for the acknowledgement.
func (s *Service) Publish(ctx context.Context, customer model.Customer) (producer.Receipt, error) {
	if err := customer.Validate(); err != nil {
		return producer.Receipt{}, fmt.Errorf("%w: %w", errInvalidCustomer, err)
	}

	session, err := s.StartProducer(ctx)
	if err != nil {
		return producer.Receipt{}, err
	}

	if s.Conf.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Conf.SendTimeout)
		defer cancel()
	}
	return session.Publish(ctx, customer, customer.CustomerID)
}

var errInvalidCustomer = errors.New("invalid customer")

// NewConsumer creates the consumer session, or returns the one already
// created. The dead-letter sink is opened only for the dead-letter policy.
func (s *Service) NewConsumer(ctx context.Context) (*consumer.Session[model.Customer], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errspkg.ErrSessionClosed
	}
	if s.consumer != nil {
		return s.consumer, nil
	}
	if err := s.Conf.ValidateConsumer(); err != nil {
		return nil, err
	}
	policy, err := consumer.ParsePolicy(s.Conf.RecordPolicy)
	if err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	subscriber := s.deps.Subscriber
	if subscriber == nil {
		subscriber, err = transportpkg.NewKafkaSubscriber(s.Conf, s.wmLogger)
		if err != nil {
			return nil, err
		}
	}

	var deadLetter message.Publisher
	if policy == consumer.PolicyDeadLetter {
		sink, err := s.deps.DeadLetterFactory.Build(ctx, s.Conf, s.wmLogger)
		if err != nil {
			_ = subscriber.Close()
			return nil, err
		}
		s.deadLetter = &sink
		deadLetter = sink.Publisher
		if limits := sink.Capabilities.Limitations(); len(limits) > 0 {
			s.Logger.Info("Dead-letter sink limitations", loggingpkg.LogFields{
				"sink":        sink.Capabilities.Name,
				"limitations": limits,
			})
		}
	}

	handler := s.deps.Handler
	if handler == nil {
		handler = LogCustomerHandler(s.Logger)
	}

	session, err := consumer.New(consumer.Options[model.Customer]{
		Topic:           s.Conf.Topic,
		Group:           s.Conf.ConsumerGroup,
		Subscriber:      subscriber,
		Serde:           s.serde,
		Handler:         handler,
		PollTimeout:     s.Conf.PollTimeout,
		MaxPollRecords:  s.Conf.MaxPollRecords,
		Policy:          policy,
		DeadLetter:      deadLetter,
		DeadLetterTopic: s.Conf.DeadLetterTopic,
		Logger:          s.Logger,
		Metrics:         s.metrics,
	})
	if err != nil {
		_ = subscriber.Close()
		return nil, err
	}
	s.consumer = session
	s.subscriber = subscriber
	return session, nil
}

// RunConsumer polls the topic until ctx is done or the session halts.
func (s *Service) RunConsumer(ctx context.Context) error {
	session, err := s.NewConsumer(ctx)
	if err != nil {
		return err
	}
	return session.Run(ctx)
}

// Close flushes the producer and stops the consumer, bounded by the configured
// shutdown timeout.
func (s *Service) Close(ctx context.Context) error {
	if s.Conf.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Conf.ShutdownTimeout)
		defer cancel()
	}

	// The sessions are closed outside the lock so Stats keeps answering
	// while they drain.
	s.mu.Lock()
	s.closed = true
	prod, cons, deadLetter := s.producer, s.consumer, s.deadLetter
	s.deadLetter = nil
	s.mu.Unlock()

	var errs []error
	if prod != nil {
		if err := prod.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("producer: %w", err))
		}
	}
	if cons != nil {
		if err := cons.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("consumer: %w", err))
		}
	}
	if deadLetter != nil {
		if err := deadLetter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("dead-letter sink: %w", err))
		}
	}
	s.Logger.Info("Service closed", nil)
	return errors.Join(errs...)
}

// shutdownContext returns a context for draining work after ctx is done.
func (s *Service) shutdownContext() (context.Context, context.CancelFunc) {
	timeout := s.Conf.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}
