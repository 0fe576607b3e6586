package cekafka

import (
	runtimepkg "github.com/drblury/cekafka/internal/runtime"
	ce "github.com/drblury/cekafka/internal/runtime/cloudevents"
	configpkg "github.com/drblury/cekafka/internal/runtime/config"
	consumerpkg "github.com/drblury/cekafka/internal/runtime/consumer"
	errspkg "github.com/drblury/cekafka/internal/runtime/errors"
	idspkg "github.com/drblury/cekafka/internal/runtime/ids"
	jsoncodec "github.com/drblury/cekafka/internal/runtime/jsoncodec"
	keyspkg "github.com/drblury/cekafka/internal/runtime/keys"
	loggingpkg "github.com/drblury/cekafka/internal/runtime/logging"
	metadatapkg "github.com/drblury/cekafka/internal/runtime/metadata"
	metricspkg "github.com/drblury/cekafka/internal/runtime/metrics"
	modelpkg "github.com/drblury/cekafka/internal/runtime/model"
	partitionpkg "github.com/drblury/cekafka/internal/runtime/partition"
	producerpkg "github.com/drblury/cekafka/internal/runtime/producer"
	registrypkg "github.com/drblury/cekafka/internal/runtime/registry"
	transportpkg "github.com/drblury/cekafka/internal/runtime/transport"
	sinks "github.com/drblury/cekafka/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	StatsResponse       = runtimepkg.StatsResponse
	DeadLetter          = runtimepkg.DeadLetter
	DeadLetterFunc      = runtimepkg.DeadLetterFunc

	// Envelope
	Event[P any] = ce.Event[P]

	// Keys and partitioning
	Key                = keyspkg.Key
	Counter            = keyspkg.Counter
	Composer           = keyspkg.Composer
	Affinity[P any]    = partitionpkg.Affinity[P]
	Partitioner[P any] = partitionpkg.Partitioner[P]
	PartitionLookup    = partitionpkg.Lookup

	// Sessions
	ProducerSession[P any] = producerpkg.Session[P]
	ProducerOptions[P any] = producerpkg.Options[P]
	ProducerState          = producerpkg.State
	Receipt                = producerpkg.Receipt
	Listener               = producerpkg.Listener
	ListenerFunc           = producerpkg.ListenerFunc
	Log                    = producerpkg.Log
	ConnectFunc            = producerpkg.ConnectFunc

	ConsumerSession[P any] = consumerpkg.Session[P]
	ConsumerOptions[P any] = consumerpkg.Options[P]
	ConsumerState          = consumerpkg.State
	Handler[P any]         = consumerpkg.Handler[P]
	RecordPolicy           = consumerpkg.RecordPolicy

	// Registry
	Serde          = registrypkg.Serde
	SerdeOptions   = registrypkg.Options
	JSONSerde      = registrypkg.JSONSerde
	Schema         = registrypkg.Schema
	SchemaSource   = registrypkg.SchemaSource
	StaticSource   = registrypkg.StaticSource
	RegistryClient = registrypkg.Client

	// Payload
	Customer = modelpkg.Customer

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	Metrics         = metricspkg.Metrics
	MetricsSnapshot = metricspkg.Snapshot
	TopicStats      = metricspkg.TopicStats

	RecordError           = errspkg.RecordError
	ConfigValidationError = errspkg.ConfigValidationError

	// Dead-letter sinks
	Transport             = transportpkg.Transport
	TransportFactory      = transportpkg.Factory
	MemoryLog             = transportpkg.MemoryLog
	TransportBuilder      = sinks.Builder
	TransportConfig       = sinks.Config
	TransportRegistry     = sinks.Registry
	TransportCapabilities = sinks.Capabilities
)

var (
	NewService           = runtimepkg.NewService
	NewSerde             = runtimepkg.NewSerde
	InMemoryDependencies = runtimepkg.InMemoryDependencies
	LogCustomerHandler   = runtimepkg.LogCustomerHandler

	DefaultConfig  = configpkg.Default
	LoadConfig     = configpkg.Load
	ConfigFromEnv  = configpkg.FromEnv
	ValidateConfig = configpkg.ValidateConfig

	NewCounter       = keyspkg.NewCounter
	NewComposer      = keyspkg.NewComposer
	ComposeKey       = keyspkg.Compose
	Murmur2          = partitionpkg.Murmur2
	ToPositive       = partitionpkg.ToPositive
	EffectiveKey     = partitionpkg.EffectiveKey
	PartitionFor     = partitionpkg.ForKey
	LastNameAffinity = modelpkg.LastNameAffinity

	EventAttributes = ce.Attributes
	KafkaConnect    = producerpkg.KafkaConnect
	LoggingListener = producerpkg.LoggingListener
	ParsePolicy     = consumerpkg.ParsePolicy

	NewRegistryClient = registrypkg.NewClient
	NewStaticSource   = registrypkg.NewStaticSource
	NewJSONSerde      = registrypkg.NewJSONSerde
	KeySubject        = registrypkg.KeySubject
	ValueSubject      = registrypkg.ValueSubject

	NewKafkaSubscriber = transportpkg.NewKafkaSubscriber
	NewKafkaPublisher  = transportpkg.NewKafkaPublisher
	NewMemoryLog       = transportpkg.NewMemoryLog
	DefaultFactory     = transportpkg.DefaultFactory

	DefaultTransportRegistry = sinks.DefaultRegistry
	RegisterTransport        = sinks.Register
	BuildTransport           = sinks.Build
	GetCapabilities          = sinks.GetCapabilities

	NewMetrics = metricspkg.New

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrConfigRequired        = errspkg.ErrConfigRequired
	ErrLoggerRequired        = errspkg.ErrLoggerRequired
	ErrTopicRequired         = errspkg.ErrTopicRequired
	ErrSerdeRequired         = errspkg.ErrSerdeRequired
	ErrHandlerRequired       = errspkg.ErrHandlerRequired
	ErrInvalidAttributes     = errspkg.ErrInvalidAttributes
	ErrMissingKey            = errspkg.ErrMissingKey
	ErrNoPartitionsAvailable = errspkg.ErrNoPartitionsAvailable
	ErrSerialization         = errspkg.ErrSerialization
	ErrDeserialization       = errspkg.ErrDeserialization
	ErrDelivery              = errspkg.ErrDelivery
	ErrConnection            = errspkg.ErrConnection
	ErrSessionClosed         = errspkg.ErrSessionClosed
	KeyOf                    = errspkg.KeyOf
	IsRecordFailure          = errspkg.IsRecordFailure

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewHandlerLogger     = loggingpkg.NewHandlerLogger
	NewNopLogger         = loggingpkg.NewNopLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
	NewEventID = idspkg.NewEventID
)

// DefaultMemoryPartitions is the partition count of in-memory topics.
const DefaultMemoryPartitions = runtimepkg.DefaultMemoryPartitions

// Record policies for consumer-side failures.
const (
	PolicySkip       = consumerpkg.PolicySkip
	PolicyDeadLetter = consumerpkg.PolicyDeadLetter
	PolicyHalt       = consumerpkg.PolicyHalt
)

// Metadata keys set on consumed and dead-lettered records.
const (
	MetadataKeyRecordKey = metadatapkg.KeyRecordKey
	MetadataKeyPartition = metadatapkg.KeyPartition
	MetadataKeyOffset    = metadatapkg.KeyOffset

	MetadataKeyDeadLetterError = metadatapkg.KeyDeadLetterError
	MetadataKeyDeadLetterStage = metadatapkg.KeyDeadLetterStage
	MetadataKeyDeadLetterTopic = metadatapkg.KeyDeadLetterTopic
)

// CloudEvents attribute names accepted by BuildEvent.
const (
	AttrID              = ce.AttrID
	AttrType            = ce.AttrType
	AttrSource          = ce.AttrSource
	AttrTime            = ce.AttrTime
	AttrSubject         = ce.AttrSubject
	AttrDataContentType = ce.AttrDataContentType
	ExtCorrelationID    = ce.ExtCorrelationID
)

// BuildEvent wraps payload in a CloudEvents envelope.
func BuildEvent[P any](payload P, attributes map[string]any) (Event[P], error) {
	return ce.Build(payload, attributes)
}

// NewProducer returns a configured producer session.
func NewProducer[P any](opts ProducerOptions[P]) (*ProducerSession[P], error) {
	return producerpkg.New(opts)
}

// NewConsumer returns an unsubscribed consumer session.
func NewConsumer[P any](opts ConsumerOptions[P]) (*ConsumerSession[P], error) {
	return consumerpkg.New(opts)
}

// NewPartitioner returns a partitioner mixing affinity into the effective key.
func NewPartitioner[P any](affinity Affinity[P], logger ServiceLogger) *Partitioner[P] {
	return partitionpkg.New(affinity, logger)
}
