package session

// State is a session's position in the RFC 6455 connection lifecycle.
type State int32

const (
	// StateConnecting is set immediately after construction, before the
	// manager has started the session's goroutines.
	StateConnecting State = iota

	// StateOpen is the normal state: frames flow in both directions.
	StateOpen

	// StateClosingLocal means this session initiated the closing
	// handshake (RFC 6455 Section 7.1.2) and is waiting for the peer's
	// close frame or CloseTimeout, whichever comes first.
	StateClosingLocal

	// StateClosingRemote means the peer initiated the closing handshake;
	// this session has echoed a close frame back and is tearing down.
	StateClosingRemote

	// StateClosed is terminal: the TCP connection has been closed and no
	// further reads or writes will occur.
	StateClosed
)

// String returns a human-readable state name, for logging.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosingLocal:
		return "closing_local"
	case StateClosingRemote:
		return "closing_remote"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
