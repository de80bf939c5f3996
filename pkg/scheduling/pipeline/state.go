package pipeline

// State is the position of a stage in its lifecycle.
//
//	Created -> Started -> Succeeded | Cancelled | Failed
//	Created -> Cancelled
//
// Completion is tracked separately; see Stage.Completed.
type State int

const (
	Created State = iota
	Started
	Succeeded
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Started:
		return "started"
	case Succeeded:
		return "succeeded"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is one of Succeeded, Cancelled or Failed.
func (s State) Terminal() bool {
	return s == Succeeded || s == Cancelled || s == Failed
}
