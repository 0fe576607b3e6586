package producer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/cekafka/internal/runtime/cloudevents"
	errspkg "github.com/drblury/cekafka/internal/runtime/errors"
	"github.com/drblury/cekafka/internal/runtime/keys"
	loggingpkg "github.com/drblury/cekafka/internal/runtime/logging"
	"github.com/drblury/cekafka/internal/runtime/metrics"
	"github.com/drblury/cekafka/internal/runtime/model"
	"github.com/drblury/cekafka/internal/runtime/registry"
)

const testTopic = "customers"

type fakeLog struct {
	input     chan *sarama.ProducerMessage
	successes chan *sarama.ProducerMessage
	errors    chan *sarama.ProducerError
	hold      chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	partitions int
	// brokerPartitions, when set, is what a metadata refresh reads.
	brokerPartitions int
	partErr          error
	refreshErr       error
	fail             error
	sent             []*sarama.ProducerMessage
	lookups          int
	refreshes        int
	closed           bool
}

func newFakeLog(partitions int) *fakeLog {
	f := &fakeLog{
		input:      make(chan *sarama.ProducerMessage, 16),
		successes:  make(chan *sarama.ProducerMessage),
		errors:     make(chan *sarama.ProducerError),
		partitions: partitions,
	}
	return f
}

func (f *fakeLog) run() {
	var offset int64
	for msg := range f.input {
		if f.hold != nil {
			<-f.hold
		}
		f.mu.Lock()
		f.sent = append(f.sent, msg)
		fail := f.fail
		f.mu.Unlock()

		if fail != nil {
			f.errors <- &sarama.ProducerError{Msg: msg, Err: fail}
			continue
		}
		msg.Offset = offset
		offset++
		f.successes <- msg
	}
	close(f.successes)
	close(f.errors)
}

func (f *fakeLog) Input() chan<- *sarama.ProducerMessage     { return f.input }
func (f *fakeLog) Successes() <-chan *sarama.ProducerMessage { return f.successes }
func (f *fakeLog) Errors() <-chan *sarama.ProducerError      { return f.errors }

func (f *fakeLog) AsyncClose() {
	f.closeOnce.Do(func() { close(f.input) })
}

func (f *fakeLog) PartitionCount(string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	return f.partitions, f.partErr
}

func (f *fakeLog) RefreshMetadata(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return f.refreshErr
	}
	if f.brokerPartitions > 0 {
		f.partitions = f.brokerPartitions
	}
	return nil
}

func (f *fakeLog) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeLog) sentMessages() []*sarama.ProducerMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*sarama.ProducerMessage(nil), f.sent...)
}

func newSerde(t *testing.T) registry.Serde {
	t.Helper()
	source := registry.NewStaticSource()
	source.Register(registry.KeySubject(testTopic), model.KeySchema)
	source.Register(registry.ValueSubject(testTopic), model.CustomerEnvelopeSchema)
	serde, err := registry.NewJSONSerde(source, registry.DefaultOptions())
	require.NoError(t, err)
	return serde
}

func testOptions(t *testing.T, log *fakeLog) Options[model.Customer] {
	return Options[model.Customer]{
		Topic:       testTopic,
		ClientTag:   "heinz57",
		EventType:   model.CustomerEventType,
		EventSource: "/customers",
		Serde:       newSerde(t),
		Affinity:    model.LastNameAffinity,
		Connect: func(context.Context) (Log, error) {
			go log.run()
			return log, nil
		},
		Logger:  loggingpkg.NewNopLogger(),
		Metrics: metrics.New(prometheus.NewRegistry()),
	}
}

func startSession(t *testing.T, opts Options[model.Customer]) *Session[model.Customer] {
	t.Helper()
	s, err := New(opts)
	require.NoError(t, err)
	require.Equal(t, StateConfigured, s.State())
	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, StateRunning, s.State())
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func customer(t *testing.T, lastName string, id int64) cloudevents.Event[model.Customer] {
	t.Helper()
	env, err := cloudevents.Build(model.Customer{FirstName: "Ann", LastName: lastName, CustomerID: id}, cloudevents.Attributes(model.CustomerEventType, "/customers"))
	require.NoError(t, err)
	return env
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options[model.Customer]{})
	var cfgErr errspkg.ConfigValidationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, errspkg.ErrTopicRequired)
	assert.ErrorIs(t, err, errspkg.ErrSerdeRequired)
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)
}

func TestSendBeforeStart(t *testing.T) {
	s, err := New(testOptions(t, newFakeLog(6)))
	require.NoError(t, err)

	key := keys.Key{Client: "heinz57", ClientID: 42}
	_, err = s.Send(context.Background(), customer(t, "Smith", 42), &key)
	assert.ErrorIs(t, err, errspkg.ErrSessionClosed)
}

func TestPublishFirstRecord(t *testing.T) {
	log := newFakeLog(6)
	s := startSession(t, testOptions(t, log))

	receipt, err := s.Publish(context.Background(), model.Customer{FirstName: "Ann", LastName: "Smith", CustomerID: 42}, 42)
	require.NoError(t, err)

	assert.Equal(t, "heinz57/42", receipt.Key)
	assert.Equal(t, int32(5), receipt.Partition)
	assert.Equal(t, int64(0), receipt.Offset)
	assert.NotEmpty(t, receipt.EventID)
	assert.False(t, receipt.Timestamp.IsZero())

	sent := log.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, int32(5), sent[0].Partition)

	headers := map[string]string{}
	for _, h := range sent[0].Headers {
		headers[string(h.Key)] = string(h.Value)
	}
	assert.Equal(t, receipt.EventID, headers[cloudevents.HeaderID])
	assert.Equal(t, model.CustomerEventType, headers[cloudevents.HeaderType])
	assert.Equal(t, cloudevents.ContentTypeStructuredJSON, headers[cloudevents.HeaderContentType])

	keyBytes, err := sent[0].Key.Encode()
	require.NoError(t, err)
	var decoded keys.Key
	require.NoError(t, newSerde(t).Deserialize(context.Background(), registry.KeySubject(testTopic), keyBytes, &decoded))
	assert.Equal(t, keys.Key{Client: "heinz57", ClientID: 42}, decoded)
}

func TestCounterCyclesAcrossSends(t *testing.T) {
	log := newFakeLog(6)
	s := startSession(t, testOptions(t, log))

	want := []int32{5, 2, 2, 0, 1, 2, 2, 2, 5}
	for i, partition := range want {
		receipt, err := s.Publish(context.Background(), model.Customer{LastName: "Smith", CustomerID: 42}, 42)
		require.NoError(t, err)
		assert.Equal(t, partition, receipt.Partition, "send %d", i)
	}

	// The tenth send wraps back to offset 0.
	receipt, err := s.Publish(context.Background(), model.Customer{LastName: "Smith", CustomerID: 42}, 42)
	require.NoError(t, err)
	assert.Equal(t, "heinz57/42", receipt.Key)
	assert.Equal(t, int32(5), receipt.Partition)

	log.mu.Lock()
	assert.Equal(t, 1, log.lookups)
	log.mu.Unlock()
}

func TestSendRejectsMissingKey(t *testing.T) {
	log := newFakeLog(6)
	s := startSession(t, testOptions(t, log))

	_, err := s.Send(context.Background(), customer(t, "Smith", 42), nil)
	assert.ErrorIs(t, err, errspkg.ErrMissingKey)
	assert.Empty(t, log.sentMessages())
}

func TestSendNoPartitions(t *testing.T) {
	log := newFakeLog(0)
	s := startSession(t, testOptions(t, log))

	key := s.ComposeKey(42)
	_, err := s.Send(context.Background(), customer(t, "Smith", 42), &key)
	assert.ErrorIs(t, err, errspkg.ErrNoPartitionsAvailable)
	k, ok := errspkg.KeyOf(err)
	assert.True(t, ok)
	assert.Equal(t, "heinz57/42", k)

	log.mu.Lock()
	log.partitions = 3
	log.mu.Unlock()
	key = s.ComposeKey(42)
	receipt, err := s.Send(context.Background(), customer(t, "Smith", 42), &key)
	require.NoError(t, err)
	assert.Less(t, receipt.Partition, int32(3))
}

func TestSendSerializationFailure(t *testing.T) {
	log := newFakeLog(6)
	s := startSession(t, testOptions(t, log))

	key := s.ComposeKey(1)
	_, err := s.Send(context.Background(), customer(t, "", 1), &key)
	assert.ErrorIs(t, err, errspkg.ErrSerialization)
	assert.Empty(t, log.sentMessages())

	// The session stays usable after a per-record failure.
	key = s.ComposeKey(1)
	_, err = s.Send(context.Background(), customer(t, "Jones", 1), &key)
	require.NoError(t, err)
}

func TestDeliveryFailureReachesSenderAndListener(t *testing.T) {
	log := newFakeLog(6)
	log.fail = sarama.ErrNotEnoughReplicas

	var (
		mu     sync.Mutex
		gotErr error
	)
	opts := testOptions(t, log)
	opts.Listener = ListenerFunc(func(r Receipt, err error) {
		mu.Lock()
		defer mu.Unlock()
		gotErr = err
	})
	s := startSession(t, opts)

	key := s.ComposeKey(42)
	_, err := s.Send(context.Background(), customer(t, "Smith", 42), &key)
	assert.ErrorIs(t, err, errspkg.ErrDelivery)
	assert.ErrorIs(t, err, sarama.ErrNotEnoughReplicas)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return errors.Is(gotErr, errspkg.ErrDelivery)
	}, time.Second, 5*time.Millisecond)
}

func TestListenerPanicIsRecovered(t *testing.T) {
	log := newFakeLog(6)
	var calls atomic.Int32
	opts := testOptions(t, log)
	opts.Listener = ListenerFunc(func(Receipt, error) {
		calls.Add(1)
		panic("listener bug")
	})
	s := startSession(t, opts)

	for i := 0; i < 2; i++ {
		_, err := s.Publish(context.Background(), model.Customer{LastName: "Smith", CustomerID: 7}, 7)
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestSendAsyncNotifiesListener(t *testing.T) {
	log := newFakeLog(6)
	receipts := make(chan Receipt, 1)
	opts := testOptions(t, log)
	opts.Listener = ListenerFunc(func(r Receipt, err error) {
		assert.NoError(t, err)
		receipts <- r
	})
	s := startSession(t, opts)

	key := s.ComposeKey(42)
	env := customer(t, "Smith", 42)
	require.NoError(t, s.SendAsync(context.Background(), env, &key))

	select {
	case r := <-receipts:
		assert.Equal(t, env.ID(), r.EventID)
		assert.Equal(t, int32(5), r.Partition)
	case <-time.After(time.Second):
		t.Fatal("listener not called")
	}
}

func TestSendContextCancelledWhileWaiting(t *testing.T) {
	log := newFakeLog(6)
	log.hold = make(chan struct{})
	s := startSession(t, testOptions(t, log))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	key := s.ComposeKey(42)
	_, err := s.Send(ctx, customer(t, "Smith", 42), &key)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(log.hold)
}

func TestCloseIsIdempotentAndFinal(t *testing.T) {
	log := newFakeLog(6)
	s := startSession(t, testOptions(t, log))

	_, err := s.Publish(context.Background(), model.Customer{LastName: "Smith", CustomerID: 1}, 1)
	require.NoError(t, err)

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, StateClosed, s.State())

	log.mu.Lock()
	assert.True(t, log.closed)
	log.mu.Unlock()

	_, err = s.Publish(context.Background(), model.Customer{LastName: "Smith", CustomerID: 1}, 1)
	assert.ErrorIs(t, err, errspkg.ErrSessionClosed)
	assert.ErrorIs(t, s.Start(context.Background()), errspkg.ErrSessionClosed)
}

func TestCloseWaitsForInFlightSends(t *testing.T) {
	log := newFakeLog(6)
	log.hold = make(chan struct{})
	delivered := make(chan struct{})
	opts := testOptions(t, log)
	opts.Listener = ListenerFunc(func(Receipt, error) { close(delivered) })
	s := startSession(t, opts)

	key := s.ComposeKey(42)
	require.NoError(t, s.SendAsync(context.Background(), customer(t, "Smith", 42), &key))

	closed := make(chan error, 1)
	go func() { closed <- s.Close(context.Background()) }()

	select {
	case <-closed:
		t.Fatal("Close returned before the in-flight record completed")
	case <-time.After(30 * time.Millisecond):
	}

	close(log.hold)
	<-delivered
	require.NoError(t, <-closed)
}

func TestCloseBoundedByContext(t *testing.T) {
	log := newFakeLog(6)
	log.hold = make(chan struct{})
	s := startSession(t, testOptions(t, log))

	key := s.ComposeKey(42)
	require.NoError(t, s.SendAsync(context.Background(), customer(t, "Smith", 42), &key))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(log.hold)
}

func TestStartFailureClosesSession(t *testing.T) {
	opts := testOptions(t, newFakeLog(6))
	opts.Connect = func(context.Context) (Log, error) {
		return nil, sarama.ErrOutOfBrokers
	}
	s, err := New(opts)
	require.NoError(t, err)

	err = s.Start(context.Background())
	assert.ErrorIs(t, err, errspkg.ErrConnection)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	assert.Equal(t, StateClosed, s.State())
	require.NoError(t, s.Close(context.Background()))
}

func TestConcurrentSends(t *testing.T) {
	log := newFakeLog(6)
	opts := testOptions(t, log)
	s := startSession(t, opts)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := s.Publish(context.Background(), model.Customer{LastName: "Smith", CustomerID: id}, id)
			assert.NoError(t, err)
		}(int64(i))
	}
	wg.Wait()

	assert.Len(t, log.sentMessages(), 20)
	assert.Equal(t, int64(20%keys.DefaultModulus), s.composer.Counter().Peek())
	assert.Equal(t, uint64(20), opts.Metrics.Topic(testTopic).Sent)
}

func TestRefreshPartitions(t *testing.T) {
	log := newFakeLog(3)
	log.brokerPartitions = 6
	s := startSession(t, testOptions(t, log))

	_, err := s.Publish(context.Background(), model.Customer{LastName: "Smith", CustomerID: 1}, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, s.partitioner.PartitionCount())

	require.NoError(t, s.RefreshPartitions())
	receipt, err := s.Publish(context.Background(), model.Customer{LastName: "Smith", CustomerID: 42}, 42)
	require.NoError(t, err)
	assert.Equal(t, int32(5), receipt.Partition)
	assert.Equal(t, 6, s.partitioner.PartitionCount())

	log.mu.Lock()
	assert.Equal(t, 2, log.lookups)
	assert.Equal(t, 1, log.refreshes)
	log.mu.Unlock()
}

func TestRefreshPartitionsFailureStillDropsCache(t *testing.T) {
	log := newFakeLog(6)
	log.refreshErr = sarama.ErrOutOfBrokers
	s := startSession(t, testOptions(t, log))

	_, err := s.Publish(context.Background(), model.Customer{LastName: "Smith", CustomerID: 1}, 1)
	require.NoError(t, err)

	err = s.RefreshPartitions()
	assert.ErrorIs(t, err, errspkg.ErrConnection)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	assert.Zero(t, s.partitioner.PartitionCount())
}

func TestPublishSetsPartitionKeyExtension(t *testing.T) {
	log := newFakeLog(6)
	s := startSession(t, testOptions(t, log))

	_, err := s.Publish(context.Background(), model.Customer{FirstName: "Ann", LastName: "Smith", CustomerID: 42}, 42)
	require.NoError(t, err)

	sent := log.sentMessages()
	require.Len(t, sent, 1)
	value, err := sent[0].Value.Encode()
	require.NoError(t, err)
	var env cloudevents.Event[model.Customer]
	require.NoError(t, newSerde(t).Deserialize(context.Background(), registry.ValueSubject(testTopic), value, &env))
	assert.Equal(t, "42+Smith", env.GetExtensionString(cloudevents.ExtPartitionKey))
	assert.NotEmpty(t, env.GetExtensionString(cloudevents.ExtCorrelationID))
}

func TestCloseReleasesSendersBlockedOnInput(t *testing.T) {
	log := newFakeLog(6)
	log.input = make(chan *sarama.ProducerMessage)
	log.hold = make(chan struct{})
	defer close(log.hold)
	s := startSession(t, testOptions(t, log))

	// The run loop takes the first record and stalls on hold, so the second
	// send has nowhere to go.
	first := s.ComposeKey(1)
	require.NoError(t, s.SendAsync(context.Background(), customer(t, "Smith", 1), &first))

	blocked := make(chan error, 1)
	go func() {
		key := s.ComposeKey(2)
		blocked <- s.SendAsync(context.Background(), customer(t, "Jones", 2), &key)
	}()
	select {
	case err := <-blocked:
		t.Fatalf("second send returned early: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	closed := make(chan error, 1)
	go func() { closed <- s.Close(ctx) }()

	select {
	case err := <-closed:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("Close ignored its deadline")
	}
	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, errspkg.ErrSessionClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked send was not released")
	}
	assert.Equal(t, StateClosed, s.State())
}

// unreachableSerde fails every encode the way the registry client does when
// the registry cannot be dialled.
type unreachableSerde struct {
	registry.Serde
}

func (unreachableSerde) Serialize(_ context.Context, subject string, _ any) ([]byte, error) {
	cause := fmt.Errorf("%w: schema registry: dial tcp 127.0.0.1:8081: connect: connection refused", errspkg.ErrConnection)
	return nil, fmt.Errorf("%w: subject %q: %w", errspkg.ErrSerialization, subject, cause)
}

func TestRegistryOutageClosesSession(t *testing.T) {
	log := newFakeLog(6)
	opts := testOptions(t, log)
	opts.Serde = unreachableSerde{Serde: opts.Serde}
	s := startSession(t, opts)

	key := s.ComposeKey(42)
	_, err := s.Send(context.Background(), customer(t, "Smith", 42), &key)
	require.ErrorIs(t, err, errspkg.ErrConnection)
	assert.False(t, errspkg.IsRecordFailure(err))

	require.Eventually(t, func() bool {
		log.mu.Lock()
		defer log.mu.Unlock()
		return log.closed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateClosed, s.State())

	key = s.ComposeKey(42)
	_, err = s.Send(context.Background(), customer(t, "Smith", 42), &key)
	assert.ErrorIs(t, err, errspkg.ErrSessionClosed)
	require.NoError(t, s.Close(context.Background()))
}

func TestCloseBeforeStart(t *testing.T) {
	s, err := New(testOptions(t, newFakeLog(6)))
	require.NoError(t, err)

	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Start(context.Background()), errspkg.ErrSessionClosed)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "unknown", State(42).String())
}
