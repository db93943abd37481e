package req

import (
	"errors"
	"fmt"
)

// ErrConnectionLost is returned when the result channel closes before the
// exchange reaches a terminal state.
var ErrConnectionLost = errors.New("req: connection ended before the subscription finished")

// ErrNoSigner is returned when the relay challenges an exchange that has no signer.
var ErrNoSigner = errors.New("req: relay requires auth but no signer is configured")

// AuthRejectedError is returned when the relay answers our credential with
// OK false.
type AuthRejectedError struct {
	EventID string
	Reason  string
}

func (e *AuthRejectedError) Error() string {
	return fmt.Sprintf("relay rejected auth event %s: %s", e.EventID, e.Reason)
}

// ProtocolError reports relay behavior the exchange cannot recover from, such
// as closing for auth-required without ever issuing a challenge.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "relay protocol violation: " + e.Reason
}

// AbortedError is returned when the relay sends a NOTICE mid-exchange.
type AbortedError struct {
	Notice string
}

func (e *AbortedError) Error() string {
	return "relay sent NOTICE: " + e.Notice
}
