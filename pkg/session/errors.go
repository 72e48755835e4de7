package session

import "errors"

// Session errors. All engine-level failures are recovered at this boundary;
// none of them terminate the process.
var (
	// ErrNotConnected is returned by sends while no transport is open.
	ErrNotConnected = errors.New("session: not connected")

	// ErrNotAuthenticated is returned by correlated sends before auth completes.
	ErrNotAuthenticated = errors.New("session: not authenticated")

	// ErrConnectInProgress is returned by Connect while another Connect is
	// still sequencing.
	ErrConnectInProgress = errors.New("session: connect already in progress")

	// ErrAuthFailed wraps an explicit error frame received while authenticating.
	ErrAuthFailed = errors.New("session: authentication failed")

	// ErrAuthTimeout is returned when no auth_success arrives within the
	// configured wait. The caller decides whether to retry Connect.
	ErrAuthTimeout = errors.New("session: authentication timed out")

	// ErrSendUnconfirmed is returned when no echo of a correlated send arrives
	// within the timeout. The underlying send may still have succeeded.
	ErrSendUnconfirmed = errors.New("session: send not confirmed before timeout")

	// ErrReconnectExhausted is surfaced on the error callback after the
	// configured number of reconnect attempts all failed.
	ErrReconnectExhausted = errors.New("session: reconnect attempts exhausted")
)
