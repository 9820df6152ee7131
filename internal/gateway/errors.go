package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrPeerClosed marks a clean remote close: the server hung up on
	// purpose rather than the read failing mid-frame.
	ErrPeerClosed = errors.New("gateway: peer closed connection")

	// ErrSessionDead marks a remote close whose code forbids resuming;
	// the next connection must identify from scratch.
	ErrSessionDead = errors.New("gateway: session closed as unresumable")

	// errLivenessTimeout is returned when a heartbeat goes unacknowledged
	// for a full interval.
	errLivenessTimeout = errors.New("gateway: heartbeat ack missed")

	// errReconnectRequested is returned when the server asks us to drop
	// the connection and reconnect (resume stays possible).
	errReconnectRequested = errors.New("gateway: server requested reconnect")

	// errSessionInvalidated is returned when the server rejects the
	// current session via an invalid-session frame.
	errSessionInvalidated = errors.New("gateway: session invalidated by server")
)

// ConnectError wraps a failure to establish the gateway connection.
// These are the only errors counted against the startup retry budget.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("gateway: connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ProtocolViolation reports a frame that the protocol does not permit
// at the current point of the handshake. It triggers a reconnect, never
// a process exit.
type ProtocolViolation struct {
	Reason string
	Op     Opcode
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("gateway: protocol violation: %s (op %s)", e.Reason, e.Op)
}
