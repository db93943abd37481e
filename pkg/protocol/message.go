package protocol

import "github.com/nbd-wtf/go-nostr"

// Wire tags.
const (
	TagEvent  = "EVENT"
	TagAuth   = "AUTH"
	TagReq    = "REQ"
	TagClose  = "CLOSE"
	TagOK     = "OK"
	TagEOSE   = "EOSE"
	TagClosed = "CLOSED"
	TagNotice = "NOTICE"
)

// RelayMessage is a message received from a relay. The set of variants is
// closed: AuthChallenge, EventMessage, Closed, Notice, EOSE and OK.
type RelayMessage interface {
	// Type returns the wire tag of the message.
	Type() string
	isRelayMessage()
}

// AuthChallenge asks the client to authenticate.
type AuthChallenge struct {
	Challenge string
}

// EventMessage carries an event matching a subscription.
type EventMessage struct {
	SubscriptionID string
	Event          nostr.Event
}

// Closed reports that the relay ended a subscription.
type Closed struct {
	SubscriptionID string
	Reason         string
}

// Notice is a human readable advisory.
type Notice struct {
	Text string
}

// EOSE marks the end of stored events for a subscription.
type EOSE struct {
	SubscriptionID string
}

// OK is the relay's verdict on a published or AUTH event.
type OK struct {
	EventID  string
	Accepted bool
	Reason   string
}

func (AuthChallenge) Type() string { return TagAuth }
func (EventMessage) Type() string  { return TagEvent }
func (Closed) Type() string        { return TagClosed }
func (Notice) Type() string        { return TagNotice }
func (EOSE) Type() string          { return TagEOSE }
func (OK) Type() string            { return TagOK }

func (AuthChallenge) isRelayMessage() {}
func (EventMessage) isRelayMessage()  {}
func (Closed) isRelayMessage()        {}
func (Notice) isRelayMessage()        {}
func (EOSE) isRelayMessage()          {}
func (OK) isRelayMessage()            {}
