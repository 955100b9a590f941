package session

// State is the lifecycle position of a crop session.
type State int

const (
	Idle State = iota
	Loaded
	Fitting
	Encoding
	Done
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loaded:
		return "loaded"
	case Fitting:
		return "fitting"
	case Encoding:
		return "encoding"
	case Done:
		return "done"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}
