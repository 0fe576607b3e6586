package transport

import (
	"crypto/tls"
	"fmt"
	"regexp"
	"strings"

	"github.com/IBM/sarama"

	"github.com/drblury/cekafka/internal/runtime/config"
)

var invalidClientIDChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// NewSaramaConfig translates the connection settings shared by every Kafka
// client: version, client id, TLS, SASL/PLAIN, DNS handling and topic
// auto-creation (always disabled).
func NewSaramaConfig(conf *config.Config, clientID string) (*sarama.Config, error) {
	if conf == nil {
		return nil, fmt.Errorf("config is required")
	}
	sc := sarama.NewConfig()

	if conf.KafkaVersion != "" {
		version, err := sarama.ParseKafkaVersion(conf.KafkaVersion)
		if err != nil {
			return nil, fmt.Errorf("kafka version: %w", err)
		}
		sc.Version = version
	}

	if id := SanitizeClientID(clientID); id != "" {
		sc.ClientID = id
	}
	sc.Metadata.AllowAutoTopicCreation = false
	sc.Net.ResolveCanonicalBootstrapServers = conf.ClientDNSLookup == config.DNSResolveCanonicalOnly

	if conf.IsTLS() {
		sc.Net.TLS.Enable = true
		sc.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if conf.IsSASL() {
		user, pass, err := conf.SASLCredentials()
		if err != nil {
			return nil, err
		}
		sc.Net.SASL.Enable = true
		sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		sc.Net.SASL.Handshake = true
		sc.Net.SASL.User = user
		sc.Net.SASL.Password = pass
	}
	return sc, nil
}

// ProducerSaramaConfig returns the configuration of the producer session:
// acks from all in-sync replicas, success and error reporting, and manual
// partitioning so the session's partitioner decides placement.
func ProducerSaramaConfig(conf *config.Config) (*sarama.Config, error) {
	sc, err := NewSaramaConfig(conf, conf.ProducerID)
	if err != nil {
		return nil, err
	}
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Partitioner = sarama.NewManualPartitioner

	if conf.EnableIdempotence {
		sc.Producer.Idempotent = true
		sc.Net.MaxOpenRequests = 1
		if sc.Producer.Retry.Max < 1 {
			sc.Producer.Retry.Max = 1
		}
		if !sc.Version.IsAtLeast(sarama.V0_11_0_0) {
			sc.Version = sarama.V0_11_0_0
		}
	}
	return sc, sc.Validate()
}

// ConsumerSaramaConfig returns the configuration of the consumer group.
func ConsumerSaramaConfig(conf *config.Config) (*sarama.Config, error) {
	sc, err := NewSaramaConfig(conf, conf.ConsumerGroup)
	if err != nil {
		return nil, err
	}
	sc.Consumer.Return.Errors = true
	switch strings.ToLower(conf.AutoOffsetReset) {
	case "latest":
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	return sc, sc.Validate()
}

// DeadLetterSaramaConfig returns the configuration of the synchronous
// publisher writing to the dead-letter topic.
func DeadLetterSaramaConfig(conf *config.Config) (*sarama.Config, error) {
	sc, err := NewSaramaConfig(conf, conf.ConsumerGroup+"-dead-letter")
	if err != nil {
		return nil, err
	}
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Retry.Max = 10
	return sc, sc.Validate()
}

// SanitizeClientID replaces characters Kafka rejects in client ids.
func SanitizeClientID(id string) string {
	return invalidClientIDChars.ReplaceAllString(strings.TrimSpace(id), "-")
}
