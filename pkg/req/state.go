package req

// State is the position of an exchange in the auth-retry state machine.
type State int

const (
	StateUnauthenticated State = iota
	// StateChallengeReceived holds while the credential is being signed.
	StateChallengeReceived
	StateCredentialSent
	StateAuthenticated
	StateDone
	StateFailed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateChallengeReceived:
		return "challenge-received"
	case StateCredentialSent:
		return "credential-sent"
	case StateAuthenticated:
		return "authenticated"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further messages are processed in s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateAborted
}
