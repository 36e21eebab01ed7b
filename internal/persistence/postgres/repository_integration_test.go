//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/roster/internal/domain"
)

func TestRepositoryRoundTripWritesOutbox(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	repo := NewRepository(pool)

	chess := domain.Activity{
		Name:         "Chess Club",
		Description:  "Learn strategies and compete in chess tournaments",
		Schedule:     "Fridays, 3:30 PM - 5:00 PM",
		Capacity:     12,
		Participants: []string{"michael@mergington.edu", "daniel@mergington.edu"},
	}
	require.NoError(t, repo.ClearAndSeed(ctx, []domain.Activity{chess}))

	next := domain.WithParticipant(chess, "new@x.edu")
	require.NoError(t, repo.Save(ctx, next, domain.RosterChange{
		Kind:        domain.ChangeEnrolled,
		Activity:    "Chess Club",
		Participant: "new@x.edu",
		Roster:      3,
		Capacity:    12,
		OccurredAt:  time.Now().UTC(),
	}))

	all, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Equal(t, next.Participants, all["Chess Club"].Participants)

	var eventType, topic, key string
	require.NoError(t, pool.QueryRow(ctx, `SELECT event_type, topic, partition_key FROM outbox`).Scan(&eventType, &topic, &key))
	require.Equal(t, "roster.participant_enrolled", eventType)
	require.Equal(t, "roster_events", topic)
	require.Equal(t, "Chess Club", key)
}

func TestRepositoryRejectsOverCapacityAtDatabase(t *testing.T) {
	ctx := context.Background()
	pool := setupPostgres(t, ctx)
	repo := NewRepository(pool)

	require.NoError(t, repo.ClearAndSeed(ctx, []domain.Activity{{Name: "Tiny", Capacity: 1}}))

	err := repo.Save(ctx, domain.Activity{Name: "Tiny", Capacity: 1, Participants: []string{"a@x.edu", "b@x.edu"}},
		domain.RosterChange{Kind: domain.ChangeEnrolled, Activity: "Tiny", OccurredAt: time.Now().UTC()})
	require.Error(t, err)

	var outboxRows int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&outboxRows))
	require.Zero(t, outboxRows, "failed save must not leave an outbox row")
}

func setupPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("school"),
		postgrescontainer.WithUsername("platform"),
		postgrescontainer.WithPassword("platform"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool))
	return pool
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
