// Package keys holds the signing identity used to authenticate to relays and
// to sign posted events.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip44"
)

var (
	// ErrBadID is returned by VerifyEvent when the id does not hash the event.
	ErrBadID = errors.New("event id does not match its content")

	// ErrBadSignature is returned by VerifyEvent when the signature fails.
	ErrBadSignature = errors.New("event signature is invalid")

	// ErrKeyOutOfRange is returned for a secret key that is zero or not
	// below the curve order.
	ErrKeyOutOfRange = errors.New("secret key out of range")
)

// Algorithm names a payload encryption scheme.
type Algorithm string

const (
	NIP04 Algorithm = "nip04"
	NIP44 Algorithm = "nip44"
)

// Signer is a signing identity.
type Signer interface {
	PublicKey() string
	SignEvent(ev nostr.Event) (nostr.Event, error)
	Encrypt(peer, plaintext string, alg Algorithm) (string, error)
	Decrypt(peer, ciphertext string, alg Algorithm) (string, error)
}

// KeySigner signs with an in-memory secp256k1 key.
type KeySigner struct {
	sk  *btcec.PrivateKey
	pub string
}

// NewKeySigner wraps a 32-byte secret key given as hex.
func NewKeySigner(secretHex string) (*KeySigner, error) {
	b, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("secret key: %w", err)
	}
	if len(b) != 32 {
		return nil, fmt.Errorf("secret key is %d bytes, want 32", len(b))
	}
	return newSigner(b)
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() (*KeySigner, error) {
	sk, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &KeySigner{sk: sk, pub: xOnly(sk)}, nil
}

// newSigner rejects keys outside [1, n-1]; PrivKeyFromBytes would reduce
// them silently.
func newSigner(secret []byte) (*KeySigner, error) {
	var k btcec.ModNScalar
	if overflow := k.SetByteSlice(secret); overflow || len(secret) > 32 {
		return nil, ErrKeyOutOfRange
	}
	if k.IsZero() {
		return nil, ErrKeyOutOfRange
	}
	sk, _ := btcec.PrivKeyFromBytes(secret)
	return &KeySigner{sk: sk, pub: xOnly(sk)}, nil
}

func xOnly(sk *btcec.PrivateKey) string {
	return hex.EncodeToString(schnorr.SerializePubKey(sk.PubKey()))
}

// PublicKey returns the x-only public key as hex.
func (s *KeySigner) PublicKey() string {
	return s.pub
}

// SecretKey returns the secret key as hex.
func (s *KeySigner) SecretKey() string {
	return hex.EncodeToString(s.sk.Serialize())
}

// SignEvent sets the pubkey, id and signature of ev.
func (s *KeySigner) SignEvent(ev nostr.Event) (nostr.Event, error) {
	ev.PubKey = s.pub
	if ev.Tags == nil {
		ev.Tags = nostr.Tags{}
	}
	h := sha256.Sum256(ev.Serialize())
	sig, err := schnorr.Sign(s.sk, h[:])
	if err != nil {
		return nostr.Event{}, fmt.Errorf("sign: %w", err)
	}
	ev.ID = hex.EncodeToString(h[:])
	ev.Sig = hex.EncodeToString(sig.Serialize())
	return ev, nil
}

// Encrypt encrypts plaintext for peer's public key.
func (s *KeySigner) Encrypt(peer, plaintext string, alg Algorithm) (string, error) {
	switch alg {
	case NIP04:
		shared, err := nip04.ComputeSharedSecret(peer, s.SecretKey())
		if err != nil {
			return "", fmt.Errorf("nip04 shared secret: %w", err)
		}
		return nip04.Encrypt(plaintext, shared)
	case NIP44:
		ck, err := nip44.GenerateConversationKey(peer, s.SecretKey())
		if err != nil {
			return "", fmt.Errorf("nip44 conversation key: %w", err)
		}
		return nip44.Encrypt(plaintext, ck)
	default:
		return "", fmt.Errorf("unknown algorithm %q", alg)
	}
}

// Decrypt reverses Encrypt for a payload from peer.
func (s *KeySigner) Decrypt(peer, ciphertext string, alg Algorithm) (string, error) {
	switch alg {
	case NIP04:
		shared, err := nip04.ComputeSharedSecret(peer, s.SecretKey())
		if err != nil {
			return "", fmt.Errorf("nip04 shared secret: %w", err)
		}
		return nip04.Decrypt(ciphertext, shared)
	case NIP44:
		ck, err := nip44.GenerateConversationKey(peer, s.SecretKey())
		if err != nil {
			return "", fmt.Errorf("nip44 conversation key: %w", err)
		}
		return nip44.Decrypt(ciphertext, ck)
	default:
		return "", fmt.Errorf("unknown algorithm %q", alg)
	}
}

// VerifyEvent checks that ev's id hashes its content and that the signature
// is valid for its pubkey.
func VerifyEvent(ev nostr.Event) error {
	h := sha256.Sum256(ev.Serialize())
	if hex.EncodeToString(h[:]) != ev.ID {
		return ErrBadID
	}
	pkb, err := hex.DecodeString(ev.PubKey)
	if err != nil {
		return fmt.Errorf("pubkey: %w", err)
	}
	pub, err := schnorr.ParsePubKey(pkb)
	if err != nil {
		return fmt.Errorf("pubkey: %w", err)
	}
	sb, err := hex.DecodeString(ev.Sig)
	if err != nil {
		return fmt.Errorf("sig: %w", err)
	}
	sig, err := schnorr.ParseSignature(sb)
	if err != nil {
		return fmt.Errorf("sig: %w", err)
	}
	if !sig.Verify(h[:], pub) {
		return ErrBadSignature
	}
	return nil
}
