package conn

// State is the lifecycle position of one control-channel connection.
type State string

const (
	StateConnecting      State = "connecting"
	StateConfigReceived  State = "config_received"
	StateValidating      State = "validating"
	StateMCPInitializing State = "mcp_initializing"
	StateVizInitializing State = "viz_initializing"
	StateReady           State = "ready"
	StateActive          State = "active"
	StateError           State = "error"
	StateDisconnecting   State = "disconnecting"
	StateClosed          State = "closed"
)

// forward is the happy-path transition chain.
var forward = map[State]State{
	StateConnecting:      StateConfigReceived,
	StateConfigReceived:  StateValidating,
	StateValidating:      StateMCPInitializing,
	StateMCPInitializing: StateVizInitializing,
	StateVizInitializing: StateReady,
	StateReady:           StateActive,
}

// CanTransition reports whether from → to is a legal state change.
// Any state may enter error or disconnecting; disconnecting leads to closed.
// Terminal states never transition again.
func CanTransition(from, to State) bool {
	switch from {
	case StateClosed, StateError:
		// Terminal; error may still proceed to teardown.
		return from == StateError && (to == StateDisconnecting || to == StateClosed)
	case StateDisconnecting:
		return to == StateClosed
	}
	if to == StateError || to == StateDisconnecting {
		return true
	}
	return forward[from] == to
}

// Progress returns the 0-100 handshake progress hint for a state, or -1 when
// the state carries no progress.
func Progress(s State) int {
	switch s {
	case StateConnecting:
		return 0
	case StateConfigReceived:
		return 20
	case StateValidating:
		return 35
	case StateMCPInitializing:
		return 55
	case StateVizInitializing:
		return 75
	case StateReady:
		return 90
	case StateActive:
		return 100
	}
	return -1
}
