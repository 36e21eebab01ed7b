// Package roster owns the activity catalog and enforces enrollment invariants.
//
// Every mutation of an activity happens under that activity's own lock:
// preconditions are checked, the candidate roster is written through to the
// repository, and only then is the in-memory record replaced. Activities are
// fixed after construction, so lookups need no catalog-wide lock and
// operations on different activities run in parallel.
package roster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"example.com/roster/internal/domain"
	"example.com/roster/internal/events"
	"example.com/roster/internal/logging"
	"example.com/roster/internal/notify"
	"example.com/roster/internal/observability"
)

type entry struct {
	mu       sync.Mutex
	activity domain.Activity
}

// Store is the roster store. Construct it with New.
type Store struct {
	repo     domain.Repository
	entries  map[string]*entry
	logger   *zap.Logger
	notifier notify.Notifier
	now      func() time.Time
}

// Option configures optional behaviour for the Store.
type Option func(*Store)

// WithLogger overrides the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logging.OrNop(logger)
	}
}

// WithNotifier sets the notifier that receives committed changes.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Store) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithClock overrides the time source used to stamp changes.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New loads the catalog from repo and validates every record.
func New(ctx context.Context, repo domain.Repository, opts ...Option) (*Store, error) {
	if repo == nil {
		return nil, errors.New("roster: repository is required")
	}
	s := &Store{
		repo:     repo,
		logger:   zap.NewNop(),
		notifier: notify.NoopNotifier{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	loaded, err := repo.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load activities: %w", err)
	}

	s.entries = make(map[string]*entry, len(loaded))
	for name, activity := range loaded {
		if activity.Name == "" {
			activity.Name = name
		}
		if activity.Name != name {
			return nil, fmt.Errorf("activity keyed %q is named %q", name, activity.Name)
		}
		if err := activity.Validate(); err != nil {
			return nil, fmt.Errorf("load activities: %w", err)
		}
		s.entries[name] = &entry{activity: activity.Clone()}
		observability.SetRosterSize(name, len(activity.Participants))
	}

	s.logger.Info("roster store loaded", zap.Int("activities", len(s.entries)))
	return s, nil
}

// List returns a snapshot of every activity. Each record is copied under
// its own lock, so no participant list is observed mid-change.
func (s *Store) List(ctx context.Context) map[string]domain.Activity {
	out := make(map[string]domain.Activity, len(s.entries))
	for name, e := range s.entries {
		e.mu.Lock()
		out[name] = e.activity.Clone()
		e.mu.Unlock()
	}
	return out
}

// Names returns the activity names in lexical order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Enroll appends participant to the activity's roster.
//
// Errors, first match wins: domain.ErrActivityNotFound,
// domain.ErrAlreadyEnrolled, domain.ErrActivityFull, or a
// *domain.PersistenceError when the write-through fails.
func (s *Store) Enroll(ctx context.Context, activity, participant string) error {
	return s.mutate(ctx, domain.ChangeEnrolled, activity, participant, domain.CheckEnroll, domain.WithParticipant)
}

// Remove drops participant from the activity's roster.
//
// Errors: domain.ErrActivityNotFound, domain.ErrNotEnrolled, or a
// *domain.PersistenceError.
func (s *Store) Remove(ctx context.Context, activity, participant string) error {
	return s.mutate(ctx, domain.ChangeRemoved, activity, participant, domain.CheckRemove, domain.WithoutParticipant)
}

type (
	checkFunc func(domain.Activity, string) error
	applyFunc func(domain.Activity, string) domain.Activity
)

func (s *Store) mutate(ctx context.Context, kind domain.ChangeKind, name, participant string, check checkFunc, apply applyFunc) error {
	op := operationName(kind)

	e, ok := s.entries[name]
	if !ok {
		observability.RecordOperation(op, outcome(domain.ErrActivityNotFound))
		return domain.ErrActivityNotFound
	}

	change, err := s.commit(ctx, e, kind, participant, check, apply)
	observability.RecordOperation(op, outcome(err))
	if err != nil {
		var perr *domain.PersistenceError
		if errors.As(err, &perr) {
			s.logger.Error("roster write failed",
				zap.String("operation", op),
				zap.String("activity", name),
				zap.Error(perr.Err),
			)
		}
		return err
	}

	s.logger.Debug("roster updated",
		zap.String("operation", op),
		zap.String("activity", name),
		zap.String("participant", participant),
		zap.Int("roster_size", change.Roster),
	)
	s.publish(ctx, change)
	return nil
}

func (s *Store) commit(ctx context.Context, e *entry, kind domain.ChangeKind, participant string, check checkFunc, apply applyFunc) (domain.RosterChange, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current := e.activity
	if err := check(current, participant); err != nil {
		return domain.RosterChange{}, err
	}

	next := apply(current, participant)
	change := domain.RosterChange{
		Kind:        kind,
		Activity:    current.Name,
		Participant: participant,
		Roster:      len(next.Participants),
		Capacity:    next.Capacity,
		OccurredAt:  s.now(),
	}

	if err := s.repo.Save(ctx, next.Clone(), change); err != nil {
		return domain.RosterChange{}, &domain.PersistenceError{Op: operationName(kind), Activity: current.Name, Err: err}
	}

	e.activity = next
	observability.SetRosterSize(current.Name, len(next.Participants))
	observability.RecordCommit(change.OccurredAt)
	return change, nil
}

func (s *Store) publish(ctx context.Context, change domain.RosterChange) {
	_, payload := events.FromChange(change)
	if err := s.notifier.Notify(ctx, payload); err != nil {
		observability.RecordNotifyFailure()
		s.logger.Warn("roster notification dropped",
			zap.String("activity", change.Activity),
			zap.Error(err),
		)
	}
}

func operationName(kind domain.ChangeKind) string {
	if kind == domain.ChangeRemoved {
		return "remove"
	}
	return "enroll"
}

func outcome(err error) string {
	var perr *domain.PersistenceError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrActivityNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAlreadyEnrolled):
		return "already_enrolled"
	case errors.Is(err, domain.ErrActivityFull):
		return "full"
	case errors.Is(err, domain.ErrNotEnrolled):
		return "not_enrolled"
	case errors.As(err, &perr):
		return "persistence_error"
	default:
		return "error"
	}
}
