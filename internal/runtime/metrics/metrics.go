// Package metrics exposes Prometheus collectors for the producer and consumer
// sessions. A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded for sends and consumed records.
const (
	OutcomeSuccess      = "success"
	OutcomeFailure      = "failure"
	OutcomeHandled      = "handled"
	OutcomeSkipped      = "skipped"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeHalted       = "halted"
)

// Metrics tracks session statistics.
type Metrics struct {
	mu sync.RWMutex

	// Per-topic counts
	topics map[string]*TopicStats

	// Prometheus collectors
	sendsTotal       *prometheus.CounterVec
	sendDuration     *prometheus.HistogramVec
	assignmentsTotal *prometheus.CounterVec
	pollsTotal       *prometheus.CounterVec
	recordsTotal     *prometheus.CounterVec
	inFlight         *prometheus.GaugeVec

	registerer prometheus.Registerer
	registered bool
}

// TopicStats holds the counters of one topic.
type TopicStats struct {
	Sent          uint64    `json:"sent"`
	SendFailures  uint64    `json:"send_failures"`
	Polls         uint64    `json:"polls"`
	EmptyPolls    uint64    `json:"empty_polls"`
	Handled       uint64    `json:"handled"`
	Skipped       uint64    `json:"skipped"`
	DeadLettered  uint64    `json:"dead_lettered"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// Snapshot provides a point-in-time view of the session metrics.
type Snapshot struct {
	TotalSent    uint64                 `json:"total_sent"`
	TotalHandled uint64                 `json:"total_handled"`
	Topics       map[string]*TopicStats `json:"topics"`
	CollectedAt  time.Time              `json:"collected_at"`
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cekafka",
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// New creates the collectors. They are not registered until Register is called.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		topics:           make(map[string]*TopicStats),
		registerer:       registerer,
		sendsTotal:       newCounterVec("producer", "sends_total", "Records sent, by outcome", []string{"topic", "outcome"}),
		assignmentsTotal: newCounterVec("producer", "assignments_total", "Records assigned to each partition", []string{"topic", "partition"}),
		pollsTotal:       newCounterVec("consumer", "polls_total", "Poll iterations, by whether records were returned", []string{"topic", "result"}),
		recordsTotal:     newCounterVec("consumer", "records_total", "Consumed records, by outcome", []string{"topic", "outcome"}),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cekafka",
				Subsystem: "producer",
				Name:      "send_duration_seconds",
				Help:      "Time from enqueue to broker acknowledgment",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"topic"},
		),
		inFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "cekafka",
				Subsystem: "producer",
				Name:      "in_flight",
				Help:      "Records enqueued and not yet acknowledged",
			},
			[]string{"topic"},
		),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.sendsTotal,
		m.sendDuration,
		m.assignmentsTotal,
		m.pollsTotal,
		m.recordsTotal,
		m.inFlight,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// SendStarted marks a record as enqueued.
func (m *Metrics) SendStarted(topic string) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(topic).Inc()
}

// SendCompleted records the acknowledgment (or failure) of a record.
func (m *Metrics) SendCompleted(topic string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.statsFor(topic)
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
		stats.SendFailures++
	} else {
		stats.Sent++
	}
	stats.LastUpdatedAt = time.Now()
	m.mu.Unlock()

	m.inFlight.WithLabelValues(topic).Dec()
	m.sendsTotal.WithLabelValues(topic, outcome).Inc()
	m.sendDuration.WithLabelValues(topic).Observe(elapsed.Seconds())
}

// SendRejected records a send refused before it reached the producer.
func (m *Metrics) SendRejected(topic string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.statsFor(topic)
	stats.SendFailures++
	stats.LastUpdatedAt = time.Now()
	m.mu.Unlock()

	m.sendsTotal.WithLabelValues(topic, OutcomeFailure).Inc()
}

// Assigned records a partition assignment.
func (m *Metrics) Assigned(topic string, partition int32) {
	if m == nil {
		return
	}
	m.assignmentsTotal.WithLabelValues(topic, strconv.FormatInt(int64(partition), 10)).Inc()
}

// Polled records one poll iteration returning n records.
func (m *Metrics) Polled(topic string, n int) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.statsFor(topic)
	stats.Polls++
	result := "records"
	if n == 0 {
		stats.EmptyPolls++
		result = "empty"
	}
	stats.LastUpdatedAt = time.Now()
	m.mu.Unlock()

	m.pollsTotal.WithLabelValues(topic, result).Inc()
}

// Record records the outcome of one consumed record.
func (m *Metrics) Record(topic, outcome string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.statsFor(topic)
	switch outcome {
	case OutcomeHandled:
		stats.Handled++
	case OutcomeSkipped:
		stats.Skipped++
	case OutcomeDeadLettered:
		stats.DeadLettered++
	}
	stats.LastUpdatedAt = time.Now()
	m.mu.Unlock()

	m.recordsTotal.WithLabelValues(topic, outcome).Inc()
}

// GetSnapshot returns a point-in-time snapshot of all topics.
func (m *Metrics) GetSnapshot() Snapshot {
	snapshot := Snapshot{
		Topics:      make(map[string]*TopicStats),
		CollectedAt: time.Now(),
	}
	if m == nil {
		return snapshot
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for topic, stats := range m.topics {
		statsCopy := *stats
		snapshot.Topics[topic] = &statsCopy
		snapshot.TotalSent += stats.Sent
		snapshot.TotalHandled += stats.Handled
	}
	return snapshot
}

// Topic returns a copy of the counters of topic, or nil.
func (m *Metrics) Topic(topic string) *TopicStats {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if stats, ok := m.topics[topic]; ok {
		statsCopy := *stats
		return &statsCopy
	}
	return nil
}

func (m *Metrics) statsFor(topic string) *TopicStats {
	if stats, ok := m.topics[topic]; ok {
		return stats
	}
	stats := &TopicStats{}
	m.topics[topic] = stats
	return stats
}

// Reset resets all metrics (useful for testing).
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.topics = make(map[string]*TopicStats)
	m.sendsTotal.Reset()
	m.sendDuration.Reset()
	m.assignmentsTotal.Reset()
	m.pollsTotal.Reset()
	m.recordsTotal.Reset()
	m.inFlight.Reset()
}
