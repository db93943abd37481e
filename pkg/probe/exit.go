package probe

import (
	"fmt"

	"github.com/codeGROOVE-dev/relayprobe/pkg/protocol"
)

// ExitPattern describes a relay message that ends the listen loop. Build
// patterns with the ExitOn constructors; the zero value matches nothing.
type ExitPattern struct {
	tag            string
	subscriptionID string
	eventID        string
	accepted       bool
}

// ExitOnAuth matches any AUTH challenge.
func ExitOnAuth() ExitPattern {
	return ExitPattern{tag: protocol.TagAuth}
}

// ExitOnClosed matches CLOSED for the given subscription.
func ExitOnClosed(subscriptionID string) ExitPattern {
	return ExitPattern{tag: protocol.TagClosed, subscriptionID: subscriptionID}
}

// ExitOnEOSE matches EOSE for the given subscription.
func ExitOnEOSE(subscriptionID string) ExitPattern {
	return ExitPattern{tag: protocol.TagEOSE, subscriptionID: subscriptionID}
}

// ExitOnEvent matches any EVENT delivered to the given subscription.
func ExitOnEvent(subscriptionID string) ExitPattern {
	return ExitPattern{tag: protocol.TagEvent, subscriptionID: subscriptionID}
}

// ExitOnNotice matches any NOTICE.
func ExitOnNotice() ExitPattern {
	return ExitPattern{tag: protocol.TagNotice}
}

// ExitOnOK matches an OK for eventID with the given verdict.
func ExitOnOK(eventID string, accepted bool) ExitPattern {
	return ExitPattern{tag: protocol.TagOK, eventID: eventID, accepted: accepted}
}

// ExitOnSubscriptionEnd is the usual set for a one-shot fetch: EOSE or CLOSED
// for the subscription, or any NOTICE.
func ExitOnSubscriptionEnd(subscriptionID string) []ExitPattern {
	return []ExitPattern{ExitOnEOSE(subscriptionID), ExitOnClosed(subscriptionID), ExitOnNotice()}
}

// Match reports whether msg structurally matches the pattern.
func (e ExitPattern) Match(msg protocol.RelayMessage) bool {
	switch m := msg.(type) {
	case protocol.AuthChallenge:
		return e.tag == protocol.TagAuth
	case protocol.Closed:
		return e.tag == protocol.TagClosed && e.subscriptionID == m.SubscriptionID
	case protocol.EOSE:
		return e.tag == protocol.TagEOSE && e.subscriptionID == m.SubscriptionID
	case protocol.EventMessage:
		return e.tag == protocol.TagEvent && e.subscriptionID == m.SubscriptionID
	case protocol.Notice:
		return e.tag == protocol.TagNotice
	case protocol.OK:
		return e.tag == protocol.TagOK && e.eventID == m.EventID && e.accepted == m.Accepted
	default:
		return false
	}
}

func (e ExitPattern) String() string {
	switch e.tag {
	case protocol.TagAuth, protocol.TagNotice:
		return e.tag
	case protocol.TagOK:
		return fmt.Sprintf("OK(%s, %t)", e.eventID, e.accepted)
	case "":
		return "none"
	default:
		return fmt.Sprintf("%s(%s)", e.tag, e.subscriptionID)
	}
}

func matchAny(patterns []ExitPattern, msg protocol.RelayMessage) (ExitPattern, bool) {
	for _, p := range patterns {
		if p.Match(msg) {
			return p, true
		}
	}
	return ExitPattern{}, false
}
