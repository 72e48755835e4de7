package session

// State is the connection state of a Session.
type State int

const (
	// StateDisconnected means no transport is open.
	StateDisconnected State = iota

	// StateConnecting means the transport dial is in flight.
	StateConnecting

	// StateConnectedUnauthenticated means the transport is open but the auth
	// exchange has not completed.
	StateConnectedUnauthenticated

	// StateAuthenticating means the auth envelope was sent and the session is
	// waiting for auth_success.
	StateAuthenticating

	// StateAuthenticated means the session is ready for traffic.
	StateAuthenticated
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnectedUnauthenticated:
		return "ConnectedUnauthenticated"
	case StateAuthenticating:
		return "Authenticating"
	case StateAuthenticated:
		return "Authenticated"
	default:
		return "Unknown"
	}
}
