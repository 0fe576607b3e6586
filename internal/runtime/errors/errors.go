package errors

import (
	sterrors "errors"
	"fmt"
	"strings"
)

var (
	ErrConfigRequired    = sterrors.New("cekafka: configuration is required")
	ErrLoggerRequired    = sterrors.New("cekafka: logger is required")
	ErrTopicRequired     = sterrors.New("cekafka: topic is required")
	ErrSerdeRequired     = sterrors.New("cekafka: registry serde is required")
	ErrHandlerRequired   = sterrors.New("cekafka: handler function is required")
	ErrSubscriberNeeded  = sterrors.New("cekafka: subscriber is required")
	ErrPublisherRequired = sterrors.New("cekafka: publisher is required")

	// ErrInvalidAttributes is returned when an envelope is built without its required attributes.
	ErrInvalidAttributes = sterrors.New("cekafka: invalid envelope attributes")

	// ErrMissingKey rejects records that carry no key bytes. Every record must be keyed.
	ErrMissingKey = sterrors.New("cekafka: record key is required")

	// ErrNoPartitionsAvailable is returned when the topic reports zero partitions
	// or its partition metadata cannot be read.
	ErrNoPartitionsAvailable = sterrors.New("cekafka: no partitions available")

	ErrSerialization   = sterrors.New("cekafka: serialization failed")
	ErrDeserialization = sterrors.New("cekafka: deserialization failed")

	// ErrDelivery wraps a failure reported by the broker for a produced record.
	ErrDelivery = sterrors.New("cekafka: delivery failed")

	// ErrConnection marks a failure to open or keep the broker or registry connection.
	// It is terminal for the session that observed it.
	ErrConnection = sterrors.New("cekafka: connection failed")

	ErrSessionClosed     = sterrors.New("cekafka: session is closed")
	ErrSessionNotRunning = sterrors.New("cekafka: session is not running")
)

// RecordError attaches the failing record's topic and key to a per-record error.
type RecordError struct {
	Op    string
	Topic string
	Key   string
	Err   error
}

// NewRecordError wraps err with the record coordinates. A nil err yields nil.
func NewRecordError(op, topic, key string, err error) error {
	if err == nil {
		return nil
	}
	return &RecordError{Op: op, Topic: topic, Key: key, Err: err}
}

func (e *RecordError) Error() string {
	var b strings.Builder
	b.WriteString("cekafka: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	fmt.Fprintf(&b, "topic=%q", e.Topic)
	if e.Key != "" {
		fmt.Fprintf(&b, " key=%q", e.Key)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// KeyOf returns the record key carried by err, if any.
func KeyOf(err error) (string, bool) {
	var recErr *RecordError
	if sterrors.As(err, &recErr) && recErr.Key != "" {
		return recErr.Key, true
	}
	return "", false
}

// IsRecordFailure reports whether err only affects a single record and leaves the session usable.
func IsRecordFailure(err error) bool {
	if err == nil {
		return false
	}
	if sterrors.Is(err, ErrConnection) || sterrors.Is(err, ErrSessionClosed) {
		return false
	}
	return sterrors.Is(err, ErrMissingKey) ||
		sterrors.Is(err, ErrNoPartitionsAvailable) ||
		sterrors.Is(err, ErrSerialization) ||
		sterrors.Is(err, ErrDeserialization) ||
		sterrors.Is(err, ErrDelivery) ||
		sterrors.Is(err, ErrInvalidAttributes)
}

// ConfigValidationError reports an invalid configuration.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "cekafka: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil for a nil err.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
