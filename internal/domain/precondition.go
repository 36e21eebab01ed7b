package domain

// CheckEnroll applies the enroll preconditions in order. The caller has
// already resolved the activity, so only roster-level checks remain here.
func CheckEnroll(a Activity, participant string) error {
	if a.Enrolled(participant) {
		return ErrAlreadyEnrolled
	}
	if a.Full() {
		return ErrActivityFull
	}
	return nil
}

// CheckRemove applies the remove preconditions.
func CheckRemove(a Activity, participant string) error {
	if !a.Enrolled(participant) {
		return ErrNotEnrolled
	}
	return nil
}

// WithParticipant returns a copy of a with participant appended.
func WithParticipant(a Activity, participant string) Activity {
	next := a.Clone()
	next.Participants = append(next.Participants, participant)
	return next
}

// WithoutParticipant returns a copy of a with the first occurrence of
// participant removed. Remaining order is preserved.
func WithoutParticipant(a Activity, participant string) Activity {
	next := a.Clone()
	for i, p := range next.Participants {
		if p == participant {
			next.Participants = append(next.Participants[:i], next.Participants[i+1:]...)
			break
		}
	}
	return next
}
