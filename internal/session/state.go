package session

// State is the lifecycle position of a Manager.
//
//	Idle -> Active -> Faulted -> Recovering -> Active | Aborted
//
// Stop moves any state except Aborted to Stopped; Start moves Stopped back to Active.
type State int

const (
	StateIdle State = iota
	StateActive
	StateFaulted
	StateRecovering
	StateAborted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateFaulted:
		return "faulted"
	case StateRecovering:
		return "recovering"
	case StateAborted:
		return "aborted"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
