// Package domain defines the enrollment model shared by the roster store and its collaborators.
package domain

import (
	"fmt"
	"slices"
	"strings"
)

// Activity is an extracurricular offering with a bounded roster.
type Activity struct {
	Name         string
	Description  string
	Schedule     string
	Capacity     int
	Participants []string
}

// Clone returns a copy whose participant slice does not alias the receiver's.
func (a Activity) Clone() Activity {
	a.Participants = slices.Clone(a.Participants)
	if a.Participants == nil {
		a.Participants = []string{}
	}
	return a
}

// Enrolled reports whether participant is on the roster.
func (a Activity) Enrolled(participant string) bool {
	return slices.Contains(a.Participants, participant)
}

// Full reports whether the roster has reached capacity.
func (a Activity) Full() bool {
	return len(a.Participants) >= a.Capacity
}

// Validate checks the record invariants: a name, a positive capacity,
// at most capacity participants and no duplicates.
func (a Activity) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("activity name is required")
	}
	if a.Capacity <= 0 {
		return fmt.Errorf("activity %q: capacity must be > 0", a.Name)
	}
	if len(a.Participants) > a.Capacity {
		return fmt.Errorf("activity %q: %d participants exceed capacity %d", a.Name, len(a.Participants), a.Capacity)
	}
	seen := make(map[string]struct{}, len(a.Participants))
	for _, p := range a.Participants {
		if _, dup := seen[p]; dup {
			return fmt.Errorf("activity %q: participant %q listed twice", a.Name, p)
		}
		seen[p] = struct{}{}
	}
	return nil
}

// ValidateCatalog validates every activity and rejects repeated names.
func ValidateCatalog(activities []Activity) error {
	names := make(map[string]struct{}, len(activities))
	for _, a := range activities {
		if err := a.Validate(); err != nil {
			return err
		}
		if _, dup := names[a.Name]; dup {
			return fmt.Errorf("activity %q defined twice", a.Name)
		}
		names[a.Name] = struct{}{}
	}
	return nil
}
