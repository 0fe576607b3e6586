package runtime

import (
	"context"
	"errors"
	"fmt"

	wmmetrics "github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/cekafka/internal/runtime/cloudevents"
	errspkg "github.com/drblury/cekafka/internal/runtime/errors"
	idspkg "github.com/drblury/cekafka/internal/runtime/ids"
	"github.com/drblury/cekafka/internal/runtime/keys"
	loggingpkg "github.com/drblury/cekafka/internal/runtime/logging"
	"github.com/drblury/cekafka/internal/runtime/metadata"
	"github.com/drblury/cekafka/internal/runtime/model"
	"github.com/drblury/cekafka/internal/runtime/registry"
)

const metadataKeyCorrelationID = "correlation_id"

// DeadLetter is a record the consumer session could not process, as read back
// from the dead-letter sink.
type DeadLetter struct {
	UUID            string `json:"uuid"`
	CorrelationID   string `json:"correlationId"`
	Error           string `json:"error"`
	Stage           string `json:"stage"`
	OriginTopic     string `json:"originTopic"`
	OriginPartition string `json:"originPartition"`
	OriginOffset    string `json:"originOffset"`
	// Key is the decoded record key, empty when the key itself was the problem.
	Key string `json:"key,omitempty"`
	// Customer is the decoded payload, nil when the value could not be decoded.
	Customer *model.Customer `json:"customer,omitempty"`
	Payload  []byte          `json:"payload"`
}

// DeadLetterFunc receives each dead letter. Returning an error leaves the
// message unacknowledged.
type DeadLetterFunc func(ctx context.Context, dl DeadLetter) error

// TailDeadLetters reads the configured dead-letter topic until ctx is done.
func (s *Service) TailDeadLetters(ctx context.Context, fn DeadLetterFunc) error {
	if fn == nil {
		return errspkg.ErrHandlerRequired
	}
	if s.Conf.DeadLetterTopic == "" {
		return errspkg.NewConfigValidationError(errors.New("dead-letter: dead.letter.topic is required"))
	}

	sink, err := s.deps.DeadLetterFactory.Build(ctx, s.Conf, s.wmLogger)
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: s.Conf.ShutdownTimeout}, s.wmLogger)
	if err != nil {
		return fmt.Errorf("dead-letter router: %w", err)
	}

	if s.Conf.MetricsEnabled {
		registerer := s.deps.Registerer
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}
		wmmetrics.NewPrometheusMetricsBuilder(registerer, "cekafka", "dead_letters").AddPrometheusRouterMetrics(router)
	}

	router.AddMiddleware(
		correlationIDMiddleware,
		logMessagesMiddleware(s.Logger),
		middleware.Recoverer,
	)
	router.AddNoPublisherHandler(
		"dead_letters",
		s.Conf.DeadLetterTopic,
		sink.Subscriber,
		s.deadLetterHandler(fn),
	)

	s.Logger.Info("Tailing dead letters", loggingpkg.LogFields{
		"transport": s.Conf.DeadLetterTransport,
		"topic":     s.Conf.DeadLetterTopic,
	})
	return router.Run(ctx)
}

func (s *Service) deadLetterHandler(fn DeadLetterFunc) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		return fn(msg.Context(), s.decodeDeadLetter(msg))
	}
}

// decodeDeadLetter reads the failure details and, where the schemas allow,
// the original key and customer.
func (s *Service) decodeDeadLetter(msg *message.Message) DeadLetter {
	md := metadata.FromWatermill(msg.Metadata)
	dl := DeadLetter{
		UUID:            msg.UUID,
		CorrelationID:   md[metadataKeyCorrelationID],
		Error:           md[metadata.KeyDeadLetterError],
		Stage:           md[metadata.KeyDeadLetterStage],
		OriginTopic:     md[metadata.KeyDeadLetterTopic],
		OriginPartition: md[metadata.KeyDeadLetterPartition],
		OriginOffset:    md[metadata.KeyDeadLetterOffset],
		Payload:         msg.Payload,
	}
	if dl.OriginTopic == "" {
		dl.OriginTopic = s.Conf.Topic
	}

	ctx := msg.Context()
	if raw := md[metadata.KeyRecordKey]; raw != "" {
		var key keys.Key
		if err := s.serde.Deserialize(ctx, registry.KeySubject(dl.OriginTopic), []byte(raw), &key); err == nil {
			dl.Key = key.String()
		}
	}
	var env cloudevents.Event[model.Customer]
	if err := s.serde.Deserialize(ctx, registry.ValueSubject(dl.OriginTopic), msg.Payload, &env); err == nil {
		dl.Customer = &env.Data
	}
	return dl
}

// correlationIDMiddleware injects a correlation ID into the message metadata when missing.
func correlationIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if msg.Metadata.Get(metadataKeyCorrelationID) == "" {
			msg.Metadata.Set(metadataKeyCorrelationID, idspkg.CreateULID())
		}
		return h(msg)
	}
}

// logMessagesMiddleware logs every handled message with its metadata.
func logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}
