package probe

import (
	"net"
	"net/url"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/idna"
)

// ParseRelayURL validates a relay address. The scheme must be ws or wss and
// the host must be non-empty. Userinfo is dropped so it never reaches the
// Host header, and internationalised host names are converted to their
// punycode form.
func ParseRelayURL(address string) (*url.URL, error) {
	address = strings.TrimSpace(address)
	u, err := url.Parse(address)
	if err != nil {
		return nil, &AddressError{Address: address, Reason: err.Error()}
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
		u.Scheme = strings.ToLower(u.Scheme)
	case "":
		return nil, &AddressError{Address: address, Reason: "missing scheme (want ws:// or wss://)"}
	default:
		return nil, &AddressError{Address: address, Reason: "unsupported scheme " + u.Scheme}
	}
	host := u.Hostname()
	if host == "" {
		return nil, &AddressError{Address: address, Reason: "no host"}
	}
	if strings.IndexFunc(host, func(r rune) bool { return r >= utf8.RuneSelf }) >= 0 {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return nil, &AddressError{Address: address, Reason: "host: " + err.Error()}
		}
		if port := u.Port(); port != "" {
			ascii = net.JoinHostPort(ascii, port)
		}
		u.Host = ascii
	}
	u.User = nil
	return u, nil
}
