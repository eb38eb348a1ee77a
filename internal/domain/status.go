package domain

type Status string

const (
	StatusPending   Status = "pending"
	StatusPreparing Status = "preparing"
	StatusPrepared  Status = "prepared"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusPreparing: true, StatusCancelled: true},
	StatusPreparing: {StatusPrepared: true, StatusCancelled: true},
	StatusPrepared:  {StatusCompleted: true},
	StatusCompleted: {},
	StatusCancelled: {},
}

// CanTransition reports whether the fulfillment state machine allows moving
// from one status to another. Administrative status corrections bypass this
// check and only write logs.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusPending, StatusPreparing, StatusPrepared, StatusCompleted, StatusCancelled:
		return Status(raw), true
	default:
		return "", false
	}
}

// Cancellable reports whether an order in the given status may be cancelled.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusPreparing
}

// Deletable reports whether an order in the given status may be deleted.
// Completed orders are immutable history.
func (s Status) Deletable() bool {
	return s != StatusCompleted
}
