package model

// Status is the lifecycle state shared by operations, adapter units and
// database items.
type Status string

// Operation, unit and item status constants.
const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusFailed     Status = "FAILED"
	StatusCompleted  Status = "COMPLETED"
)

// Terminal reports whether s is FAILED or COMPLETED.
func (s Status) Terminal() bool {
	return s == StatusFailed || s == StatusCompleted
}

// Valid reports whether s is one of the known status values.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusPending, StatusInProgress, StatusFailed, StatusCompleted:
		return true
	}
	return false
}

// RollUp collapses a multiset of statuses into a single status. The result
// does not depend on the order of statuses.
//
// An empty set, or one in which nothing has started, is NOT_STARTED. Any
// NOT_STARTED, PENDING or IN_PROGRESS member makes the whole IN_PROGRESS.
// Otherwise only terminal members remain and any FAILED member wins.
func RollUp(statuses []Status) Status {
	var started, running, failed bool
	for _, s := range statuses {
		switch s {
		case StatusNotStarted:
			running = true
		case StatusPending, StatusInProgress:
			running = true
			started = true
		case StatusFailed:
			failed = true
			started = true
		case StatusCompleted:
			started = true
		default:
			// Unknown values never count as terminal.
			running = true
			started = true
		}
	}

	switch {
	case !started:
		return StatusNotStarted
	case running:
		return StatusInProgress
	case failed:
		return StatusFailed
	default:
		return StatusCompleted
	}
}
