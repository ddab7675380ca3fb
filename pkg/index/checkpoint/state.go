package checkpoint

// State is the phase a Manager is in.
type State int32

const (
	StateIdle State = iota
	StateEvaluating
	StateNothingToDo
	StatePrunePending
	StateCompacting
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateEvaluating:
		return "EVALUATING"
	case StateNothingToDo:
		return "NOTHING_TO_DO"
	case StatePrunePending:
		return "PRUNE_PENDING"
	case StateCompacting:
		return "COMPACTING"
	default:
		return "UNKNOWN"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
