package protocol

import "strings"

// Prefix is the machine-readable prefix of an OK or CLOSED reason, the part
// before the first colon ("auth-required: we only serve members").
type Prefix string

// Standard reason prefixes.
const (
	PrefixNone         Prefix = ""
	PrefixAuthRequired Prefix = "auth-required"
	PrefixRestricted   Prefix = "restricted"
	PrefixDuplicate    Prefix = "duplicate"
	PrefixPoW          Prefix = "pow"
	PrefixBlocked      Prefix = "blocked"
	PrefixRateLimited  Prefix = "rate-limited"
	PrefixInvalid      Prefix = "invalid"
	PrefixError        Prefix = "error"
	PrefixMute         Prefix = "mute"
)

var knownPrefixes = map[Prefix]bool{
	PrefixAuthRequired: true,
	PrefixRestricted:   true,
	PrefixDuplicate:    true,
	PrefixPoW:          true,
	PrefixBlocked:      true,
	PrefixRateLimited:  true,
	PrefixInvalid:      true,
	PrefixError:        true,
	PrefixMute:         true,
}

// ReasonPrefix returns the standard prefix of reason, or PrefixNone when the
// reason has no recognised prefix.
func ReasonPrefix(reason string) Prefix {
	head, _, found := strings.Cut(reason, ":")
	if !found {
		return PrefixNone
	}
	p := Prefix(strings.TrimSpace(head))
	if knownPrefixes[p] {
		return p
	}
	return PrefixNone
}
