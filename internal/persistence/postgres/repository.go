// Package postgres provides Postgres-backed persistence for activities and outbox events.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/roster/internal/domain"
	"example.com/roster/internal/events"
)

// Repository implements domain.Repository on top of a pgx pool.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LoadAll returns every activity keyed by name.
func (r *Repository) LoadAll(ctx context.Context) (map[string]domain.Activity, error) {
	const query = `SELECT name, description, schedule, max_participants, participants FROM activities`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]domain.Activity)
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.Name, &a.Description, &a.Schedule, &a.Capacity, &a.Participants); err != nil {
			return nil, err
		}
		if a.Participants == nil {
			a.Participants = []string{}
		}
		out[a.Name] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Save upserts the activity and records the roster change in the outbox inside a single transaction.
func (r *Repository) Save(ctx context.Context, activity domain.Activity, change domain.RosterChange) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const upsert = `INSERT INTO activities (name, description, schedule, max_participants, participants, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (name) DO UPDATE SET participants = EXCLUDED.participants, updated_at = EXCLUDED.updated_at`

	if _, err = tx.Exec(ctx, upsert,
		activity.Name,
		activity.Description,
		activity.Schedule,
		activity.Capacity,
		participantsOrEmpty(activity.Participants),
		change.OccurredAt,
	); err != nil {
		return err
	}

	eventType, payload := events.FromChange(change)
	if err = insertOutbox(ctx, tx, eventType, payload); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ClearAndSeed replaces the catalog. Pending outbox rows are left alone.
func (r *Repository) ClearAndSeed(ctx context.Context, activities []domain.Activity) (err error) {
	if err := domain.ValidateCatalog(activities); err != nil {
		return err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM activities`); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, a := range activities {
		batch.Queue(`INSERT INTO activities (name, description, schedule, max_participants, participants) VALUES ($1,$2,$3,$4,$5)`,
			a.Name, a.Description, a.Schedule, a.Capacity, participantsOrEmpty(a.Participants))
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func insertOutbox(ctx context.Context, tx pgx.Tx, eventType string, payload events.RosterChanged) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = tx.Exec(ctx, stmt,
		"activity",
		payload.Activity,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		meta.PartitionKeyFn(payload),
		body,
		payload.EventID,
	)
	return err
}

func participantsOrEmpty(p []string) []string {
	if p == nil {
		return []string{}
	}
	return p
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(events.RosterChanged) string
}

// Roster events for one activity share a partition so consumers see them in commit order.
var eventCatalog = map[string]EventMetadata{
	events.TypeParticipantEnrolled: {
		Topic:         "roster_events",
		SchemaSubject: "roster_events-value",
		PartitionKeyFn: func(e events.RosterChanged) string {
			return e.Activity
		},
	},
	events.TypeParticipantRemoved: {
		Topic:         "roster_events",
		SchemaSubject: "roster_events-value",
		PartitionKeyFn: func(e events.RosterChanged) string {
			return e.Activity
		},
	},
}
