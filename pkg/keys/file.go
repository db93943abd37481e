package keys

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PasswordFunc supplies the password for an encrypted key file.
type PasswordFunc func() (string, error)

// LoadSigner reads a key file. An ncryptsec file is decrypted with the
// password from prompt; an nsec or hex file is used as is.
func LoadSigner(path string, prompt PasswordFunc) (*KeySigner, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	content := strings.TrimSpace(string(raw))
	if content == "" {
		return nil, fmt.Errorf("key file %s is empty", path)
	}

	if !strings.HasPrefix(content, ncryptsecHRP+"1") {
		secret, err := ParseSecretKey(content)
		if err != nil {
			return nil, fmt.Errorf("key file %s: %w", path, err)
		}
		return NewKeySigner(secret)
	}

	if prompt == nil {
		return nil, errors.New("key file is encrypted and no password source is available")
	}
	password, err := prompt()
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	secret, _, err := DecryptSecretKey(content, password)
	if err != nil {
		return nil, fmt.Errorf("key file %s: %w", path, err)
	}
	return NewKeySigner(secret)
}

// SaveEncryptedKey writes signer's key to path as an ncryptsec, creating the
// parent directory. An existing file is never overwritten.
func SaveEncryptedKey(path string, signer *KeySigner, password string, logN uint8) error {
	enc, err := EncryptSecretKey(signer.SecretKey(), password, logN, KeySecurityUnknown)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create key file: %w", err)
	}
	if _, err := f.WriteString(enc + "\n"); err != nil {
		f.Close() //nolint:errcheck,gosec // already failing
		return fmt.Errorf("write key file: %w", err)
	}
	return f.Close()
}
