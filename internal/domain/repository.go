package domain

import (
	"context"
	"time"
)

// ChangeKind names a roster mutation.
type ChangeKind string

const (
	ChangeEnrolled ChangeKind = "enrolled"
	ChangeRemoved  ChangeKind = "removed"
)

// RosterChange describes the mutation that produced the activity passed to Save.
type RosterChange struct {
	Kind        ChangeKind
	Activity    string
	Participant string
	Roster      int
	Capacity    int
	OccurredAt  time.Time
}

// Repository is the persistence collaborator for the roster store.
type Repository interface {
	// LoadAll returns every stored activity keyed by name.
	LoadAll(ctx context.Context) (map[string]Activity, error)
	// Save upserts the activity record. Transactional stores record change
	// alongside it.
	Save(ctx context.Context, activity Activity, change RosterChange) error
	// ClearAndSeed replaces the whole catalog. Only the seeding utility calls it.
	ClearAndSeed(ctx context.Context, activities []Activity) error
}
