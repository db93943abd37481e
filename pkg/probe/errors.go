package probe

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Send and TrySend once the connection has terminated.
	ErrClosed = errors.New("probe: connection closed")

	// ErrInboxFull is returned by TrySend when the command inbox is at capacity.
	ErrInboxFull = errors.New("probe: command inbox full")

	// ErrAlreadyStarted is returned when ConnectAndListen is called twice.
	ErrAlreadyStarted = errors.New("probe: already started")

	// ErrHandshakeTimeout is wrapped by HandshakeError when the upgrade does
	// not finish within the connect timeout.
	ErrHandshakeTimeout = errors.New("handshake timed out")
)

// AddressError reports a relay address that cannot be dialed.
type AddressError struct {
	Address string
	Reason  string
}

func (e *AddressError) Error() string {
	return fmt.Sprintf("bad relay address %q: %s", e.Address, e.Reason)
}

// HandshakeError reports a failed or rejected WebSocket upgrade.
type HandshakeError struct {
	Err error
	URL string
	// Status is the HTTP status of a refused upgrade, or 0.
	Status int
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake with %s: %v", e.URL, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}
