// Package sqlite provides a single-file SQLite Repository for small deployments.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"example.com/roster/internal/domain"
)

//go:embed schema.sql
var schema string

// Store persists activities in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Open opens a SQLite store at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// LoadAll implements domain.Repository.
func (s *Store) LoadAll(ctx context.Context) (map[string]domain.Activity, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name, description, schedule, max_participants, participants FROM activities`)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.Activity)
	for rows.Next() {
		var (
			a   domain.Activity
			raw string
		)
		if err := rows.Scan(&a.Name, &a.Description, &a.Schedule, &a.Capacity, &raw); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &a.Participants); err != nil {
			return nil, fmt.Errorf("decode participants for %q: %w", a.Name, err)
		}
		if a.Participants == nil {
			a.Participants = []string{}
		}
		out[a.Name] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return out, nil
}

// Save upserts the activity and appends the change to roster_changes in one transaction.
func (s *Store) Save(ctx context.Context, activity domain.Activity, change domain.RosterChange) error {
	raw, err := encodeParticipants(activity.Participants)
	if err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO activities (name, description, schedule, max_participants, participants, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET participants = excluded.participants, updated_at = excluded.updated_at`,
		activity.Name, activity.Description, activity.Schedule, activity.Capacity, raw, toMillis(change.OccurredAt),
	); err != nil {
		return fmt.Errorf("upsert activity: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO roster_changes (activity, participant, change, roster_size, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		change.Activity, change.Participant, string(change.Kind), change.Roster, toMillis(change.OccurredAt),
	); err != nil {
		return fmt.Errorf("record change: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ClearAndSeed implements domain.Repository.
func (s *Store) ClearAndSeed(ctx context.Context, activities []domain.Activity) error {
	if err := domain.ValidateCatalog(activities); err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM activities`); err != nil {
		return fmt.Errorf("clear activities: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM roster_changes`); err != nil {
		return fmt.Errorf("clear changes: %w", err)
	}
	for _, a := range activities {
		raw, err := encodeParticipants(a.Participants)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO activities (name, description, schedule, max_participants, participants) VALUES (?, ?, ?, ?, ?)`,
			a.Name, a.Description, a.Schedule, a.Capacity, raw,
		); err != nil {
			return fmt.Errorf("insert %q: %w", a.Name, err)
		}
	}
	return tx.Commit()
}

// ChangeCount returns the number of recorded roster changes.
func (s *Store) ChangeCount(ctx context.Context) (int, error) {
	var n int
	err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM roster_changes`).Scan(&n)
	return n, err
}

func encodeParticipants(p []string) (string, error) {
	if p == nil {
		p = []string{}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode participants: %w", err)
	}
	return string(raw), nil
}
