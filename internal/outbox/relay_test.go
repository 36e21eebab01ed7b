package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"example.com/roster/internal/events"
)

type recordingPublisher struct {
	mu    sync.Mutex
	sent  []kafka.Message
	errFn func(msgs []kafka.Message) error
}

func (p *recordingPublisher) Publish(_ context.Context, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msgs...)
	if p.errFn != nil {
		return p.errFn(msgs)
	}
	return nil
}

type countingRegistry struct {
	calls int
	id    int
	err   error
}

func (r *countingRegistry) EnsureSchema(context.Context, string, string) (int, error) {
	r.calls++
	return r.id, r.err
}

func newTestRelay(t *testing.T, pub Publisher, reg SchemaRegistry) *Relay {
	t.Helper()
	return NewRelay(nil, pub, reg, RelayConfig{}, zaptest.NewLogger(t))
}

func pending(id int64, activity, eventType string) pendingEvent {
	return pendingEvent{
		ID:            id,
		Activity:      activity,
		EventType:     eventType,
		Topic:         "roster_events",
		SchemaSubject: "roster_events-value",
		PartitionKey:  activity,
		Payload:       []byte(`{"activity":"` + activity + `"}`),
	}
}

func TestRelayConfigDefaults(t *testing.T) {
	cfg := RelayConfig{BatchSize: 10}.withDefaults()

	require.Equal(t, 10, cfg.BatchSize)
	require.Equal(t, 2*time.Second, cfg.PollInterval)
	require.Equal(t, time.Minute, cfg.ClaimTimeout)
	require.Equal(t, time.Minute, cfg.RetryBase)
}

func TestDeliverFramesRecordsWithHeaders(t *testing.T) {
	pub := &recordingPublisher{}
	reg := &countingRegistry{id: 4}
	r := newTestRelay(t, pub, reg)

	published, failed, err := r.deliver(context.Background(), []pendingEvent{
		pending(1, "Chess Club", events.TypeParticipantEnrolled),
		pending(2, "Gym Class", events.TypeParticipantRemoved),
	})
	require.NoError(t, err)
	require.Empty(t, failed)
	require.Equal(t, []int64{1, 2}, published)
	require.Equal(t, 1, reg.calls, "schema id is cached per subject")

	require.Len(t, pub.sent, 2)
	msg := pub.sent[0]
	require.Equal(t, "roster_events", msg.Topic)
	require.Equal(t, "Chess Club", string(msg.Key))
	require.Equal(t, encodeWireFormat(4, []byte(`{"activity":"Chess Club"}`)), msg.Value)
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	require.Equal(t, map[string]string{
		"event_type":     events.TypeParticipantEnrolled,
		"schema_subject": "roster_events-value",
		"aggregate_id":   "Chess Club",
	}, headers)
}

func TestDeliverDeadLettersOnlyFailedWrites(t *testing.T) {
	pub := &recordingPublisher{errFn: func(msgs []kafka.Message) error {
		return kafka.WriteErrors{nil, errors.New("leader not available"), nil}
	}}
	r := newTestRelay(t, pub, &countingRegistry{id: 1})

	published, failed, err := r.deliver(context.Background(), []pendingEvent{
		pending(1, "Chess Club", events.TypeParticipantEnrolled),
		pending(2, "Gym Class", events.TypeParticipantEnrolled),
		pending(3, "Art Club", events.TypeParticipantEnrolled),
	})
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3}, published)
	require.Len(t, failed, 1)
	for reason, ids := range failed {
		require.Contains(t, reason, "leader not available")
		require.Equal(t, []int64{2}, ids)
	}
}

func TestDeliverDeadLettersWholeBatchOnBrokerError(t *testing.T) {
	pub := &recordingPublisher{errFn: func([]kafka.Message) error { return errors.New("dial tcp: connection refused") }}
	r := newTestRelay(t, pub, &countingRegistry{id: 1})

	published, failed, err := r.deliver(context.Background(), []pendingEvent{
		pending(1, "Chess Club", events.TypeParticipantEnrolled),
		pending(2, "Gym Class", events.TypeParticipantEnrolled),
	})
	require.NoError(t, err)
	require.Empty(t, published)
	require.Len(t, failed, 1)
	for _, ids := range failed {
		require.Equal(t, []int64{1, 2}, ids)
	}
}

func TestDeliverDeadLettersUnknownEventTypeAlone(t *testing.T) {
	pub := &recordingPublisher{}
	r := newTestRelay(t, pub, &countingRegistry{id: 1})

	published, failed, err := r.deliver(context.Background(), []pendingEvent{
		pending(1, "Chess Club", "roster.renamed"),
		pending(2, "Gym Class", events.TypeParticipantEnrolled),
	})
	require.NoError(t, err)
	require.Equal(t, []int64{2}, published)
	require.Equal(t, map[string][]int64{"no schema for event type roster.renamed": {1}}, failed)
	require.Len(t, pub.sent, 1)
}

func TestDeliverReportsCancellationWithoutSettling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pub := &recordingPublisher{errFn: func([]kafka.Message) error {
		cancel()
		return context.Canceled
	}}
	r := newTestRelay(t, pub, &countingRegistry{id: 1})

	published, failed, err := r.deliver(ctx, []pendingEvent{pending(1, "Chess Club", events.TypeParticipantEnrolled)})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, published)
	require.Empty(t, failed)
}

func TestDeliverStopsWhenRegistryLookupIsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pub := &recordingPublisher{}
	r := newTestRelay(t, pub, &countingRegistry{err: context.Canceled})

	_, failed, err := r.deliver(ctx, []pendingEvent{pending(1, "Chess Club", events.TypeParticipantEnrolled)})
	require.Error(t, err)
	require.Empty(t, failed)
	require.Empty(t, pub.sent)
}
