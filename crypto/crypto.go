// Package crypto seals OAuth tokens before they are written to the database.
// Tokens are encrypted with AES-256-GCM; every key has a short id stored next
// to the ciphertext so a rotated key can still open older rows.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// Encryptor is an authenticated cipher over raw bytes.
type Encryptor interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// ErrUnknownKey is returned by Keyring.Open for a key id it does not hold.
var ErrUnknownKey = errors.New("unknown encryption key id")

// AESEncryptor implements Encryptor with AES-256-GCM. Output is
// nonce || ciphertext || tag.
type AESEncryptor struct {
	id   string
	aead cipher.AEAD
}

// NewAESEncryptor builds an encryptor from a base64 32-byte key
// (`openssl rand -base64 32`).
func NewAESEncryptor(base64Key string) (*AESEncryptor, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	sum := sha256.Sum256(key)
	return &AESEncryptor{id: hex.EncodeToString(sum[:4]), aead: aead}, nil
}

// KeyID identifies the key without revealing it.
func (e *AESEncryptor) KeyID() string { return e.id }

func (e *AESEncryptor) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext is empty")
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (e *AESEncryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("ciphertext is empty")
	}
	n := e.aead.NonceSize()
	if len(ciphertext) < n+e.aead.Overhead() {
		return nil, fmt.Errorf("ciphertext too short: expected at least %d bytes, got %d", n+e.aead.Overhead(), len(ciphertext))
	}
	plaintext, err := e.aead.Open(nil, ciphertext[:n], ciphertext[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: authentication or integrity check failed")
	}
	return plaintext, nil
}

// EncryptString encrypts s and returns base64 for text columns. "" stays "".
func EncryptString(enc Encryptor, s string) (string, error) {
	if s == "" {
		return "", nil
	}
	ct, err := enc.Encrypt([]byte(s))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// DecryptString reverses EncryptString.
func DecryptString(enc Encryptor, s string) (string, error) {
	if s == "" {
		return "", nil
	}
	ct, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	pt, err := enc.Decrypt(ct)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// Keyring seals with the current key and opens with any key it holds.
type Keyring struct {
	current *AESEncryptor
	byID    map[string]*AESEncryptor
}

// NewKeyring takes the active key followed by retired keys still needed to
// read old rows. Blank retired keys are ignored.
func NewKeyring(current string, retired ...string) (*Keyring, error) {
	cur, err := NewAESEncryptor(current)
	if err != nil {
		return nil, err
	}
	k := &Keyring{current: cur, byID: map[string]*AESEncryptor{cur.id: cur}}
	for i, r := range retired {
		if r == "" {
			continue
		}
		enc, err := NewAESEncryptor(r)
		if err != nil {
			return nil, fmt.Errorf("retired key %d: %w", i, err)
		}
		if _, dup := k.byID[enc.id]; !dup {
			k.byID[enc.id] = enc
		}
	}
	return k, nil
}

// Seal encrypts s with the current key and returns the ciphertext and key id.
func (k *Keyring) Seal(s string) (ciphertext, keyID string, err error) {
	ciphertext, err = EncryptString(k.current, s)
	return ciphertext, k.current.id, err
}

// Open decrypts a value sealed under keyID.
func (k *Keyring) Open(ciphertext, keyID string) (string, error) {
	enc, ok := k.byID[keyID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, keyID)
	}
	return DecryptString(enc, ciphertext)
}
