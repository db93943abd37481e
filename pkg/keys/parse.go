package keys

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr/nip19"
)

// ParseSecretKey accepts a 64-character hex key or an nsec and returns hex.
func ParseSecretKey(s string) (string, error) {
	return parseKey(strings.TrimSpace(s), "nsec")
}

// ParsePublicKey accepts a 64-character hex key or an npub and returns hex.
func ParsePublicKey(s string) (string, error) {
	return parseKey(strings.TrimSpace(s), "npub")
}

func parseKey(s, prefix string) (string, error) {
	if strings.HasPrefix(s, prefix+"1") {
		got, value, err := nip19.Decode(s)
		if err != nil {
			return "", fmt.Errorf("decode %s: %w", prefix, err)
		}
		key, ok := value.(string)
		if got != prefix || !ok {
			return "", fmt.Errorf("decode %s: got %s", prefix, got)
		}
		return key, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return "", fmt.Errorf("key must be 64 hex characters or %s", prefix)
	}
	return strings.ToLower(s), nil
}
