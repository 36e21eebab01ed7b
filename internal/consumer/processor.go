// Package consumer reads roster events published by the outbox relay and
// hands them to a Handler.
package consumer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"example.com/roster/internal/logging"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded messages from Kafka. A returned error is retried
// unless it is a *PermanentError.
type Handler interface {
	Handle(context.Context, Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Message) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// PermanentError marks a handler failure that retrying cannot fix. The
// processor commits past the message.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err in a *PermanentError. It returns nil for a nil err.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// Message is the decoded representation of a Kafka record emitted by the outbox relay.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	EventType     string
	Activity      string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

// Backoff bounds the delay between retries. The delay starts at Initial and
// doubles up to Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff is used unless WithBackoff overrides it.
var DefaultBackoff = Backoff{Initial: 200 * time.Millisecond, Max: 30 * time.Second}

func (b Backoff) next(prev time.Duration) time.Duration {
	if prev <= 0 {
		return b.Initial
	}
	if next := 2 * prev; next < b.Max {
		return next
	}
	return b.Max
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		p.logger = logging.OrNop(logger)
	}
}

// WithBackoff overrides the retry delays for fetch and handler failures.
func WithBackoff(b Backoff) Option {
	return func(p *Processor) {
		p.backoff = b
	}
}

// Processor pulls messages from Kafka, decodes them, and dispatches to a Handler.
// Offsets are committed in order: a message that keeps failing holds its
// partition until it succeeds or the context ends.
type Processor struct {
	reader  Reader
	handler Handler
	logger  *zap.Logger
	backoff Backoff
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:  reader,
		handler: handler,
		logger:  zap.NewNop(),
		backoff: DefaultBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes Kafka messages until the context is cancelled, then returns
// the context error. A message is committed only once it has been handled,
// skipped as permanent, or found malformed.
func (p *Processor) Run(ctx context.Context) error {
	for {
		msg, err := p.fetch(ctx)
		if err != nil {
			return err
		}

		event, decodeErr := decodeMessage(msg)
		if decodeErr != nil {
			p.logger.Warn("decode failed",
				zap.String("topic", msg.Topic),
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(decodeErr),
			)
			recordEvent(msg.Topic, "", outcomeMalformed)
			p.commit(ctx, msg)
			continue
		}

		if err := p.handle(ctx, event); err != nil {
			return err
		}
		p.commit(ctx, msg)
	}
}

func (p *Processor) fetch(ctx context.Context) (kafka.Message, error) {
	var delay time.Duration
	for {
		msg, err := p.reader.FetchMessage(ctx)
		if err == nil {
			return msg, nil
		}
		if ctx.Err() != nil {
			return kafka.Message{}, ctx.Err()
		}
		delay = p.backoff.next(delay)
		p.logger.Warn("fetch failed", zap.Duration("retry_in", delay), zap.Error(err))
		recordFetchError()
		if err := sleep(ctx, delay); err != nil {
			return kafka.Message{}, err
		}
	}
}

// handle retries event until the handler accepts it, rejects it permanently,
// or ctx ends. Only the last case returns an error.
func (p *Processor) handle(ctx context.Context, event Message) error {
	var delay time.Duration
	for attempt := 1; ; attempt++ {
		err := p.handler.Handle(ctx, event)
		if err == nil {
			recordEvent(event.Topic, event.EventType, outcomeProcessed)
			recordLastEvent(event)
			return nil
		}

		fields := []zap.Field{
			zap.String("event_type", event.EventType),
			zap.String("activity", event.Activity),
			zap.Int("partition", event.Partition),
			zap.Int64("offset", event.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err),
		}

		var permanent *PermanentError
		if errors.As(err, &permanent) {
			p.logger.Error("handler rejected event, skipping", fields...)
			recordEvent(event.Topic, event.EventType, outcomeSkipped)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay = p.backoff.next(delay)
		p.logger.Warn("handler failed, retrying", append(fields, zap.Duration("retry_in", delay))...)
		recordEvent(event.Topic, event.EventType, outcomeRetried)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (p *Processor) commit(ctx context.Context, msg kafka.Message) {
	// Commits are cumulative per partition, so a failed commit is covered by
	// the next successful one.
	if err := p.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
		p.logger.Warn("commit failed",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func decodeMessage(msg kafka.Message) (Message, error) {
	if len(msg.Value) < 5 {
		return Message{}, fmt.Errorf("invalid payload length: %d", len(msg.Value))
	}
	if msg.Value[0] != 0 {
		return Message{}, fmt.Errorf("unexpected magic byte %d", msg.Value[0])
	}

	eventType, ok := headerValue(msg, "event_type")
	if !ok {
		return Message{}, errors.New("missing event_type header")
	}
	activity, ok := headerValue(msg, "aggregate_id")
	if !ok {
		activity = msg.Key
	}
	schemaSubject, _ := headerValue(msg, "schema_subject")

	schemaID := int(binary.BigEndian.Uint32(msg.Value[1:5]))
	payload := json.RawMessage(append([]byte(nil), msg.Value[5:]...))
	if !json.Valid(payload) {
		return Message{}, errors.New("payload is not valid JSON")
	}

	return Message{
		Topic:         msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Timestamp:     msg.Time,
		EventType:     string(eventType),
		Activity:      string(activity),
		SchemaSubject: string(schemaSubject),
		SchemaID:      schemaID,
		Payload:       payload,
	}, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}
