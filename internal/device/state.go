package device

// State is the connector lifecycle position.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateSubscribed
	StateDisconnected
)

var stateNames = [...]string{
	StateIdle:         "idle",
	StateScanning:     "scanning",
	StateConnecting:   "connecting",
	StateSubscribed:   "subscribed",
	StateDisconnected: "disconnected",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Connected reports whether the state carries live data.
func (s State) Connected() bool {
	return s == StateSubscribed
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// Any state may fall back to Idle (teardown) or Disconnected (error).
func (s State) CanTransition(next State) bool {
	if next == StateIdle || next == StateDisconnected {
		return s != next
	}
	switch s {
	case StateIdle:
		return next == StateScanning
	case StateScanning:
		return next == StateConnecting
	case StateConnecting:
		return next == StateSubscribed
	default:
		return false
	}
}
