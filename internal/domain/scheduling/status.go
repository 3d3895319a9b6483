package scheduling

// Event is a lifecycle event applied to an appointment.
type Event string

const (
	EventConfirm  Event = "confirm"
	EventStart    Event = "start"
	EventComplete Event = "complete"
	EventCancel   Event = "cancel"
	EventNoShow   Event = "no-show"
)

// transitions enumerates the legal lifecycle moves. Completed, cancelled and
// no-show are terminal.
var transitions = map[Status]map[Event]Status{
	StatusScheduled: {
		EventConfirm: StatusConfirmed,
		EventStart:   StatusInProgress,
		EventCancel:  StatusCancelled,
		EventNoShow:  StatusNoShow,
	},
	StatusConfirmed: {
		EventStart:  StatusInProgress,
		EventCancel: StatusCancelled,
		EventNoShow: StatusNoShow,
	},
	StatusInProgress: {
		EventComplete: StatusCompleted,
	},
}

// NextStatus applies an event to a status, returning the resulting status or
// ErrInvalidTransition. It is a pure function: time-based guards (no starting
// a future visit, no early no-show) live in the service, which owns the clock.
func NextStatus(current Status, ev Event) (Status, error) {
	if next, ok := transitions[current][ev]; ok {
		return next, nil
	}
	return current, ErrInvalidTransition
}

// IsTerminal reports whether no further lifecycle events apply.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}
