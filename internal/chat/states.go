package chat

// State is the lifecycle state of a room connection. It is owned by
// the registry entry for that room; consumers only observe it.
type State uint8

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// GlobalState is the lifecycle state of the per-user notification
// channel, which unlike room links reconnects on its own.
type GlobalState uint8

const (
	GlobalDisconnected GlobalState = iota
	GlobalConnecting
	GlobalConnected
)

func (s GlobalState) String() string {
	switch s {
	case GlobalDisconnected:
		return "disconnected"
	case GlobalConnecting:
		return "connecting"
	case GlobalConnected:
		return "connected"
	default:
		return "unknown"
	}
}
