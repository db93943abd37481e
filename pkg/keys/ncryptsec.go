package keys

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"
)

const (
	ncryptsecHRP     = "ncryptsec"
	ncryptsecVersion = 0x02
	ncryptsecLen     = 1 + 1 + 16 + 24 + 1 + 32 + chacha20poly1305.Overhead

	// DefaultLogN is the scrypt cost used for new key files.
	DefaultLogN = 16
)

// Key security bytes, bound into the ciphertext as associated data.
const (
	KeyKnownInsecure    byte = 0x00
	KeyNotKnownInsecure byte = 0x01
	KeySecurityUnknown  byte = 0x02
)

// ErrWrongPassword is returned when an ncryptsec does not decrypt.
var ErrWrongPassword = errors.New("wrong password or corrupt key")

// EncryptSecretKey encrypts a hex secret key under password, returning an
// ncryptsec string.
func EncryptSecretKey(secretHex, password string, logN uint8, security byte) (string, error) {
	signer, err := NewKeySigner(secretHex)
	if err != nil {
		return "", err
	}
	secret := signer.sk.Serialize()

	salt := make([]byte, 16)
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	aead, err := passwordCipher(password, salt, logN)
	if err != nil {
		return "", err
	}

	data := make([]byte, 0, ncryptsecLen)
	data = append(data, ncryptsecVersion, logN)
	data = append(data, salt...)
	data = append(data, nonce...)
	data = append(data, security)
	data = aead.Seal(data, nonce, secret, []byte{security})

	conv, err := bech32.ConvertBits(data, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("bech32: %w", err)
	}
	return bech32.Encode(ncryptsecHRP, conv)
}

// DecryptSecretKey returns the hex secret key inside an ncryptsec and its key
// security byte.
func DecryptSecretKey(ncryptsec, password string) (secretHex string, security byte, err error) {
	hrp, conv, err := bech32.DecodeNoLimit(strings.TrimSpace(ncryptsec))
	if err != nil {
		return "", 0, fmt.Errorf("bech32: %w", err)
	}
	if hrp != ncryptsecHRP {
		return "", 0, fmt.Errorf("prefix is %q, want %s", hrp, ncryptsecHRP)
	}
	data, err := bech32.ConvertBits(conv, 5, 8, false)
	if err != nil {
		return "", 0, fmt.Errorf("bech32: %w", err)
	}
	if len(data) != ncryptsecLen {
		return "", 0, fmt.Errorf("ncryptsec is %d bytes, want %d", len(data), ncryptsecLen)
	}
	if data[0] != ncryptsecVersion {
		return "", 0, fmt.Errorf("unsupported ncryptsec version %d", data[0])
	}
	logN := data[1]
	salt := data[2:18]
	nonce := data[18:42]
	security = data[42]
	ciphertext := data[43:]

	aead, err := passwordCipher(password, salt, logN)
	if err != nil {
		return "", 0, err
	}
	secret, err := aead.Open(nil, nonce, ciphertext, []byte{security})
	if err != nil {
		return "", 0, ErrWrongPassword
	}
	signer, err := newSigner(secret)
	if err != nil {
		return "", 0, err
	}
	return signer.SecretKey(), security, nil
}

func passwordCipher(password string, salt []byte, logN uint8) (cipher.AEAD, error) {
	if logN == 0 || logN > 30 {
		return nil, fmt.Errorf("scrypt log_n %d out of range", logN)
	}
	key, err := scrypt.Key([]byte(norm.NFKC.String(password)), salt, 1<<logN, 8, 1, chacha20poly1305.KeySize)
	if err != nil {
		return nil, fmt.Errorf("scrypt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("xchacha20poly1305: %w", err)
	}
	return aead, nil
}
