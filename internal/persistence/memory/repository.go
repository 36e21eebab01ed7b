// Package memory provides an in-process Repository for local development and tests.
package memory

import (
	"context"
	"sync"

	"example.com/roster/internal/domain"
)

// Repository keeps activity records in a map guarded by a single mutex.
// The roster store serialises writes per activity; this lock only protects the map.
type Repository struct {
	mu         sync.RWMutex
	activities map[string]domain.Activity
	changes    []domain.RosterChange
}

// NewRepository constructs a Repository holding the given activities.
func NewRepository(seed ...domain.Activity) *Repository {
	repo := &Repository{activities: make(map[string]domain.Activity, len(seed))}
	for _, a := range seed {
		repo.activities[a.Name] = a.Clone()
	}
	return repo
}

// LoadAll implements domain.Repository.
func (r *Repository) LoadAll(ctx context.Context) (map[string]domain.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]domain.Activity, len(r.activities))
	for name, a := range r.activities {
		out[name] = a.Clone()
	}
	return out, nil
}

// Save implements domain.Repository.
func (r *Repository) Save(ctx context.Context, activity domain.Activity, change domain.RosterChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.activities[activity.Name] = activity.Clone()
	r.changes = append(r.changes, change)
	return nil
}

// ClearAndSeed implements domain.Repository.
func (r *Repository) ClearAndSeed(ctx context.Context, activities []domain.Activity) error {
	if err := domain.ValidateCatalog(activities); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.activities = make(map[string]domain.Activity, len(activities))
	r.changes = nil
	for _, a := range activities {
		r.activities[a.Name] = a.Clone()
	}
	return nil
}

// Changes returns the roster changes recorded since the last seed.
func (r *Repository) Changes() []domain.RosterChange {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.RosterChange, len(r.changes))
	copy(out, r.changes)
	return out
}
