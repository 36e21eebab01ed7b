package consumer

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"example.com/roster/internal/events"
)

var fastBackoff = WithBackoff(Backoff{Initial: time.Millisecond, Max: 4 * time.Millisecond})

func encode(schemaID uint32, payload []byte) []byte {
	value := make([]byte, 5+len(payload))
	value[0] = 0
	binary.BigEndian.PutUint32(value[1:5], schemaID)
	copy(value[5:], payload)
	return value
}

func rosterMessage(offset int64, activity, eventType string) kafka.Message {
	return kafka.Message{
		Topic:     "roster_events",
		Partition: 0,
		Offset:    offset,
		Key:       []byte(activity),
		Time:      time.Now().UTC(),
		Value:     encode(42, []byte(`{"activity":"`+activity+`"}`)),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "schema_subject", Value: []byte("roster_events-value")},
		},
	}
}

func TestProcessorCommitsOnSuccess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{messages: []kafka.Message{rosterMessage(10, "Chess Club", events.TypeParticipantEnrolled)}, cancel: cancel}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler, WithLogger(zaptest.NewLogger(t))).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 1, handler.calls)
	require.Equal(t, []int64{10}, reader.committed)
	require.Equal(t, events.TypeParticipantEnrolled, handler.last.EventType)
	require.Equal(t, "Chess Club", handler.last.Activity)
	require.Equal(t, 42, handler.last.SchemaID)
	require.JSONEq(t, `{"activity":"Chess Club"}`, string(handler.last.Payload))
}

func TestProcessorRetriesFailedMessageBeforeMovingOn(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{
		messages: []kafka.Message{
			rosterMessage(20, "Gym Class", events.TypeParticipantRemoved),
			rosterMessage(21, "Chess Club", events.TypeParticipantEnrolled),
		},
		cancel: cancel,
	}
	handler := &stubHandler{errs: []error{errors.New("db unavailable"), errors.New("db unavailable")}}

	err := NewProcessor(reader, handler, fastBackoff, WithLogger(zaptest.NewLogger(t))).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, []string{"Gym Class", "Gym Class", "Gym Class", "Chess Club"}, handler.activities)
	require.Equal(t, []int64{20, 21}, reader.committed)
}

func TestProcessorStopsWithoutCommitWhenCancelledDuringRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{
		messages: []kafka.Message{
			rosterMessage(30, "Gym Class", events.TypeParticipantRemoved),
			rosterMessage(31, "Chess Club", events.TypeParticipantEnrolled),
		},
		cancel: cancel,
	}
	handler := HandlerFunc(func(context.Context, Message) error {
		if reader.index == 1 {
			cancel()
		}
		return errors.New("db unavailable")
	})

	err := NewProcessor(reader, handler, fastBackoff).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Empty(t, reader.committed)
	require.Equal(t, 1, reader.index, "the next message is not fetched")
}

func TestProcessorCommitsPastPermanentFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{
		messages: []kafka.Message{
			rosterMessage(40, "Gym Class", events.TypeParticipantRemoved),
			rosterMessage(41, "Chess Club", events.TypeParticipantEnrolled),
		},
		cancel: cancel,
	}
	handler := &stubHandler{errs: []error{fmtPermanent("unsupported payload")}}

	err := NewProcessor(reader, handler, fastBackoff).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, []string{"Gym Class", "Chess Club"}, handler.activities)
	require.Equal(t, []int64{40, 41}, reader.committed)
}

func TestProcessorBacksOffOnFetchErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{
		fetchErrs: []error{errors.New("broker not available"), errors.New("broker not available")},
		messages:  []kafka.Message{rosterMessage(50, "Art Club", events.TypeParticipantEnrolled)},
		cancel:    cancel,
	}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler, fastBackoff, WithLogger(zaptest.NewLogger(t))).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 4, reader.fetchCalls)
	require.Equal(t, []int64{50}, reader.committed)
}

func TestProcessorCommitsMalformedMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &stubReader{
		messages: []kafka.Message{
			{Topic: "roster_events", Offset: 1, Value: []byte{0, 1}},
			{Topic: "roster_events", Offset: 2, Value: encode(1, []byte(`{}`))},
			{Topic: "roster_events", Offset: 3, Value: encode(1, []byte(`{not json`)), Headers: []kafka.Header{{Key: "event_type", Value: []byte("x")}}},
		},
		cancel: cancel,
	}
	handler := &stubHandler{}

	err := NewProcessor(reader, handler).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.Equal(t, 0, handler.calls)
	require.Equal(t, []int64{1, 2, 3}, reader.committed)
}

func TestBackoffDoublesUpToMax(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second}

	var d time.Duration
	var got []time.Duration
	for i := 0; i < 6; i++ {
		d = b.next(d)
		got = append(got, d)
	}
	require.Equal(t, []time.Duration{
		100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond,
		800 * time.Millisecond, time.Second, time.Second,
	}, got)
}

func TestLogHandlerDecodesRosterEvents(t *testing.T) {
	handler := NewLogHandler(zap.NewNop())

	err := handler.Handle(context.Background(), Message{
		EventType: events.TypeParticipantEnrolled,
		Payload:   []byte(`{"event_id":"e1","activity":"Chess Club","participant":"a@x.edu","change":"enrolled","roster_size":3,"capacity":12}`),
	})
	require.NoError(t, err)

	err = handler.Handle(context.Background(), Message{EventType: events.TypeParticipantEnrolled, Payload: []byte(`[]`)})
	var permanent *PermanentError
	require.ErrorAs(t, err, &permanent)
}

func TestPermanentWrapsAndUnwraps(t *testing.T) {
	require.NoError(t, Permanent(nil))

	cause := errors.New("bad payload")
	err := Permanent(cause)
	require.ErrorIs(t, err, cause)
	require.EqualError(t, err, "permanent: bad payload")
}

func TestHandlerFuncAdapts(t *testing.T) {
	var seen string
	h := HandlerFunc(func(_ context.Context, msg Message) error {
		seen = msg.Activity
		return nil
	})
	require.NoError(t, h.Handle(context.Background(), Message{Activity: "Art Club"}))
	require.Equal(t, "Art Club", seen)
}

func fmtPermanent(msg string) error {
	return Permanent(errors.New(msg))
}

// stubReader serves fetchErrs, then messages, then cancels the run.
type stubReader struct {
	fetchErrs  []error
	messages   []kafka.Message
	index      int
	fetchCalls int
	committed  []int64
	cancel     context.CancelFunc
}

func (r *stubReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.fetchCalls++
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		return kafka.Message{}, err
	}
	if r.index >= len(r.messages) {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.messages[r.index]
	r.index++
	return msg, nil
}

func (r *stubReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *stubReader) Close() error { return nil }

// stubHandler returns errs in order, then succeeds.
type stubHandler struct {
	calls      int
	errs       []error
	last       Message
	activities []string
}

func (h *stubHandler) Handle(_ context.Context, msg Message) error {
	h.calls++
	h.last = msg
	h.activities = append(h.activities, msg.Activity)
	if len(h.errs) > 0 {
		err := h.errs[0]
		h.errs = h.errs[1:]
		return err
	}
	return nil
}
