package orch

// State is a connection's position in the signaling lifecycle.
// Transitions only move forward: Connected -> Authenticating -> Joined -> Closed,
// with any state allowed to jump straight to Closed.
type State int

const (
	StateConnected State = iota
	StateAuthenticating
	StateJoined
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}
