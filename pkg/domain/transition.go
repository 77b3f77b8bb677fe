package domain

// transitions is the complete table of legal job state edges.
var transitions = map[JobState][]JobState{
	JobPending: {JobRunning, JobCancelled},
	JobRunning: {JobSucceeded, JobFailed, JobCancelled},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to JobState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns an IllegalTransition error for edges outside the table.
func CheckTransition(from, to JobState) error {
	if CanTransition(from, to) {
		return nil
	}
	if from.Terminal() {
		return Errorf(KindAlreadyTerminal, "job is %s, cannot move to %s", from, to)
	}
	return Errorf(KindIllegalTransition, "%s -> %s", from, to)
}

// ValidPath reports whether states is a walk through the transition table starting at Pending.
func ValidPath(states []JobState) bool {
	if len(states) == 0 || states[0] != JobPending {
		return false
	}
	for i := 1; i < len(states); i++ {
		if !CanTransition(states[i-1], states[i]) {
			return false
		}
	}
	return true
}
