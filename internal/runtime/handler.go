package runtime

import (
	"context"

	"github.com/drblury/cekafka/internal/runtime/cloudevents"
	"github.com/drblury/cekafka/internal/runtime/consumer"
	"github.com/drblury/cekafka/internal/runtime/keys"
	loggingpkg "github.com/drblury/cekafka/internal/runtime/logging"
	"github.com/drblury/cekafka/internal/runtime/model"
)

// LogCustomerHandler logs every consumed customer with its key and envelope
// attributes.
func LogCustomerHandler(logger loggingpkg.ServiceLogger) consumer.Handler[model.Customer] {
	return func(_ context.Context, key keys.Key, env cloudevents.Event[model.Customer]) error {
		logger.Info("Customer received", loggingpkg.LogFields{
			"key":            key.String(),
			"event_id":       env.ID(),
			"event_type":     env.Type,
			"event_source":   env.Source,
			"event_time":     cloudevents.FormatTime(env.Time),
			"correlation_id": env.GetExtensionString(cloudevents.ExtCorrelationID),
			"partition_key":  env.GetExtensionString(cloudevents.ExtPartitionKey),
			"customer_id":    env.Data.CustomerID,
			"last_name":      env.Data.LastName,
		})
		return nil
	}
}
