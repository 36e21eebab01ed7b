// Package outbox relays roster events committed to the outbox table to Kafka
// and retries the ones that could not be delivered.
package outbox

import (
	"cmp"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"example.com/roster/internal/logging"
)

// SchemaRegistry resolves the schema id used to frame a subject's payloads.
type SchemaRegistry interface {
	EnsureSchema(ctx context.Context, subject, schema string) (int, error)
}

// RelayConfig tunes the relay loop.
type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// ClaimTimeout is how long a claimed row stays invisible to other relays.
	// A relay that dies mid-batch releases its rows once it elapses.
	ClaimTimeout time.Duration
	// RetryBase is the first retry delay for a dead-lettered event; it doubles
	// with every failed attempt, capped at one hour.
	RetryBase time.Duration
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = time.Minute
	}
	if c.RetryBase <= 0 {
		c.RetryBase = time.Minute
	}
	return c
}

// Relay publishes pending outbox rows. Several relays may share one table.
type Relay struct {
	pool      *pgxpool.Pool
	publisher Publisher
	registry  SchemaRegistry
	cfg       RelayConfig
	logger    *zap.Logger

	mu        sync.Mutex
	schemaIDs map[string]int
}

// NewRelay constructs a Relay.
func NewRelay(pool *pgxpool.Pool, publisher Publisher, registry SchemaRegistry, cfg RelayConfig, logger *zap.Logger) *Relay {
	return &Relay{
		pool:      pool,
		publisher: publisher,
		registry:  registry,
		cfg:       cfg.withDefaults(),
		logger:    logging.OrNop(logger).With(zap.String("component", "outbox")),
		schemaIDs: make(map[string]int),
	}
}

// Run relays batches until ctx is cancelled. A full batch is followed
// immediately by the next one; otherwise the relay waits PollInterval.
func (r *Relay) Run(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		n, err := r.RelayOnce(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Error("relay batch failed", zap.Error(err))
		}
		wait := r.cfg.PollInterval
		if err == nil && n == r.cfg.BatchSize {
			wait = 0
		}
		timer.Reset(wait)
	}
}

// pendingEvent is an outbox row claimed by this relay.
type pendingEvent struct {
	ID            int64
	Activity      string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

// RelayOnce claims one batch and settles every row in it: published,
// dead-lettered, or released for another attempt when ctx ends mid-batch.
// It returns the number of rows claimed.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	start := time.Now()

	batch, err := r.claim(ctx)
	if err != nil || len(batch) == 0 {
		return 0, err
	}
	defer relayBatchSeconds.Observe(time.Since(start).Seconds())

	published, failed, err := r.deliver(ctx, batch)
	if err != nil && ctx.Err() != nil {
		// Shutdown, not a delivery failure: hand the rows back untouched.
		releaseErr := r.release(context.WithoutCancel(ctx), batch)
		return len(batch), errors.Join(err, releaseErr)
	}

	settleCtx := context.WithoutCancel(ctx)
	if err := r.markPublished(settleCtx, published); err != nil {
		return len(batch), err
	}
	for reason, ids := range failed {
		if err := r.deadLetter(settleCtx, ids, reason); err != nil {
			return len(batch), err
		}
	}
	return len(batch), nil
}

// claim takes up to BatchSize rows that are neither settled nor held by a
// live claim, in event order.
func (r *Relay) claim(ctx context.Context) ([]pendingEvent, error) {
	const query = `WITH next AS (
            SELECT event_id FROM outbox
             WHERE published_at IS NULL AND failed_at IS NULL
               AND (claimed_at IS NULL OR claimed_at < NOW() - make_interval(secs => $2))
             ORDER BY event_id
             LIMIT $1
             FOR UPDATE SKIP LOCKED)
        UPDATE outbox o SET claimed_at = NOW()
          FROM next
         WHERE o.event_id = next.event_id
        RETURNING o.event_id, o.aggregate_id, o.event_type, o.topic, o.schema_subject, o.partition_key, o.payload`

	rows, err := r.pool.Query(ctx, query, r.cfg.BatchSize, r.cfg.ClaimTimeout.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim outbox rows: %w", err)
	}
	defer rows.Close()

	var batch []pendingEvent
	for rows.Next() {
		var e pendingEvent
		if err := rows.Scan(&e.ID, &e.Activity, &e.EventType, &e.Topic, &e.SchemaSubject, &e.PartitionKey, &e.Payload); err != nil {
			return nil, err
		}
		batch = append(batch, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.SortFunc(batch, func(a, b pendingEvent) int { return cmp.Compare(a.ID, b.ID) })
	return batch, nil
}

// deliver publishes batch and sorts the outcome into published ids and
// failed ids grouped by reason. A non-nil error means nothing was settled.
func (r *Relay) deliver(ctx context.Context, batch []pendingEvent) (published []int64, failed map[string][]int64, err error) {
	failed = make(map[string][]int64)
	fail := func(id int64, reason string) {
		failed[reason] = append(failed[reason], id)
		relayEvents.WithLabelValues("dead_lettered").Inc()
	}

	var (
		msgs []kafka.Message
		sent []pendingEvent
	)
	for _, e := range batch {
		schemaID, err := r.schemaID(ctx, e)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, err
			}
			fail(e.ID, err.Error())
			continue
		}
		msgs = append(msgs, kafka.Message{
			Topic: e.Topic,
			Key:   []byte(e.PartitionKey),
			Value: encodeWireFormat(schemaID, e.Payload),
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(e.EventType)},
				{Key: "schema_subject", Value: []byte(e.SchemaSubject)},
				{Key: "aggregate_id", Value: []byte(e.Activity)},
			},
		})
		sent = append(sent, e)
	}
	if len(msgs) == 0 {
		return nil, failed, nil
	}

	pubErr := r.publisher.Publish(ctx, msgs...)
	if pubErr != nil && ctx.Err() != nil {
		return nil, nil, pubErr
	}

	var perMessage kafka.WriteErrors
	perMessageErrs := errors.As(pubErr, &perMessage) && len(perMessage) == len(sent)
	for i, e := range sent {
		switch {
		case pubErr == nil, perMessageErrs && perMessage[i] == nil:
			published = append(published, e.ID)
			relayEvents.WithLabelValues("published").Inc()
		case perMessageErrs:
			fail(e.ID, fmt.Sprintf("publish to %s: %v", e.Topic, perMessage[i]))
		default:
			fail(e.ID, fmt.Sprintf("publish to %s: %v", e.Topic, pubErr))
		}
	}
	if pubErr != nil {
		r.logger.Warn("publish failed", zap.Int("events", len(sent)-len(published)), zap.Error(pubErr))
	}
	return published, failed, nil
}

func (r *Relay) schemaID(ctx context.Context, e pendingEvent) (int, error) {
	schema, ok := eventSchemas[e.EventType]
	if !ok {
		return 0, fmt.Errorf("no schema for event type %s", e.EventType)
	}

	r.mu.Lock()
	id, cached := r.schemaIDs[e.SchemaSubject]
	r.mu.Unlock()
	if cached {
		return id, nil
	}

	id, err := r.registry.EnsureSchema(ctx, e.SchemaSubject, schema)
	if err != nil {
		return 0, fmt.Errorf("resolve schema %s: %w", e.SchemaSubject, err)
	}
	r.mu.Lock()
	r.schemaIDs[e.SchemaSubject] = id
	r.mu.Unlock()
	return id, nil
}

func (r *Relay) markPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, ids)
	return err
}

func (r *Relay) release(ctx context.Context, batch []pendingEvent) error {
	ids := make([]int64, len(batch))
	for i, e := range batch {
		ids[i] = e.ID
	}
	_, err := r.pool.Exec(ctx, `UPDATE outbox SET claimed_at = NULL WHERE event_id = ANY($1) AND published_at IS NULL`, ids)
	return err
}

// deadLetter marks ids failed and records them in outbox_dlq with a retry
// time that doubles per attempt.
func (r *Relay) deadLetter(ctx context.Context, ids []int64, reason string) error {
	const stmt = `WITH failed AS (
            UPDATE outbox SET failed_at = NOW(), claimed_at = NULL
             WHERE event_id = ANY($1)
            RETURNING event_id, attempts)
        INSERT INTO outbox_dlq (event_id, reason, attempts, next_retry_at)
        SELECT event_id, $2::text, attempts,
               NOW() + LEAST(make_interval(secs => $3 * power(2, LEAST(attempts, 20))), interval '1 hour')
          FROM failed
        ON CONFLICT (event_id) DO UPDATE
           SET reason = EXCLUDED.reason,
               attempts = EXCLUDED.attempts,
               next_retry_at = EXCLUDED.next_retry_at,
               quarantined_at = NULL`

	if _, err := r.pool.Exec(ctx, stmt, ids, reason, r.cfg.RetryBase.Seconds()); err != nil {
		return fmt.Errorf("dead-letter %d events: %w", len(ids), err)
	}
	r.logger.Warn("events dead-lettered", zap.Int64s("event_ids", ids), zap.String("reason", reason))
	return nil
}

// encodeWireFormat prefixes payload with the Confluent magic byte and schema id.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}
