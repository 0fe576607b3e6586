package producer

import (
	"time"

	errspkg "github.com/drblury/cekafka/internal/runtime/errors"
	loggingpkg "github.com/drblury/cekafka/internal/runtime/logging"
)

// Receipt describes a record the broker acknowledged.
type Receipt struct {
	Topic     string    `json:"topic"`
	Partition int32     `json:"partition"`
	Offset    int64     `json:"offset"`
	Key       string    `json:"key"`
	EventID   string    `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`
}

// Listener is told about every record once the broker has answered. It runs
// on the session's completion goroutine after any waiting sender has been
// released, so it must not block for long.
type Listener interface {
	OnCompletion(receipt Receipt, err error)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(receipt Receipt, err error)

func (f ListenerFunc) OnCompletion(receipt Receipt, err error) {
	f(receipt, err)
}

// LoggingListener logs each completion.
func LoggingListener(logger loggingpkg.ServiceLogger) Listener {
	return ListenerFunc(func(r Receipt, err error) {
		if err != nil {
			key, _ := errspkg.KeyOf(err)
			logger.Error("Record delivery failed", err, loggingpkg.LogFields{
				"topic":    r.Topic,
				"key":      key,
				"event_id": r.EventID,
			})
			return
		}
		logger.Info("Record delivered", loggingpkg.LogFields{
			"topic":     r.Topic,
			"partition": r.Partition,
			"offset":    r.Offset,
			"key":       r.Key,
			"event_id":  r.EventID,
		})
	})
}
