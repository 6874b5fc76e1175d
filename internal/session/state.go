// Package session implements the client side of the realtime protocol: one
// owned transport per Session, a serialized command loop, heartbeat health,
// optimistic send correlation and transparent reconnection.
package session

import "errors"

// State is the lifecycle state of a Session. Connecting and Reconnecting
// differ only in whether room memberships must be replayed on success.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateReconnecting: "reconnecting",
	StateClosed:       "closed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

var (
	// ErrNotConnected fails commands fast instead of queuing them silently.
	ErrNotConnected = errors.New("session is not connected")
	// ErrSessionClosed marks the terminal state; a fresh Session is needed.
	ErrSessionClosed = errors.New("session is closed")
	// ErrAuthRejected is fatal; the handshake was refused and no retry runs.
	ErrAuthRejected = errors.New("authentication rejected")
	// ErrJoinDenied surfaces an authorization refusal for one room.
	ErrJoinDenied = errors.New("join denied")
	// ErrTooManyAttempts reports exhausted reconnection attempts.
	ErrTooManyAttempts = errors.New("reconnect attempts exhausted")
	// ErrUnknownTempID reports a retry for an id the correlator is not holding.
	ErrUnknownTempID = errors.New("unknown temp id")
)
