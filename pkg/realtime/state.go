package realtime

// State is the connection manager state.
type State int

const (
	// StateIdle means no connection has been opened since creation or Shutdown.
	StateIdle State = iota
	StateConnecting
	StateOpen
	// StateClosed means the connection was lost and a reconnect is scheduled.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
