package protocol

import "github.com/nbd-wtf/go-nostr"

// Command is an instruction from a caller to the connection. The set of
// variants is closed: PostEvent, Auth, FetchEvents, CloseSubscription and
// Disconnect.
type Command interface {
	// Type returns the wire tag of the command, or "DISCONNECT".
	Type() string
	isCommand()
}

// PostEvent publishes an event.
type PostEvent struct {
	Event nostr.Event
}

// Auth answers a relay challenge with a signed credential event.
type Auth struct {
	Event nostr.Event
}

// FetchEvents opens (or replaces) a subscription.
type FetchEvents struct {
	SubscriptionID string
	Filters        []nostr.Filter
}

// CloseSubscription ends a subscription.
type CloseSubscription struct {
	SubscriptionID string
}

// Disconnect stops the connection. It has no wire representation.
type Disconnect struct{}

func (PostEvent) Type() string         { return TagEvent }
func (Auth) Type() string              { return TagAuth }
func (FetchEvents) Type() string       { return TagReq }
func (CloseSubscription) Type() string { return TagClose }
func (Disconnect) Type() string        { return "DISCONNECT" }

func (PostEvent) isCommand()         {}
func (Auth) isCommand()              {}
func (FetchEvents) isCommand()       {}
func (CloseSubscription) isCommand() {}
func (Disconnect) isCommand()        {}
