// Package secrets encrypts SMB share passwords at rest.
//
// Keys are derived from the master secret with PBKDF2 under a
// domain-separation label. Ciphertexts produced by the previous scheme
// (key = SHA-256 of the secret) still decrypt, and Decrypt reports when the
// legacy key was used so the caller can re-save the record.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Label separates this key from every other use of the master secret
	Label = "ptbhub.smb-password.v2"

	kdfIterations = 120_000
	keySize       = chacha20poly1305.KeySize
)

var (
	// ErrEmptySecret is returned when no master secret is configured
	ErrEmptySecret = errors.New("secrets: master secret is empty")
	// ErrDecrypt is returned when neither the current nor legacy key opens the ciphertext
	ErrDecrypt = errors.New("secrets: unable to decrypt value")
)

// Cipher seals and opens short secrets
type Cipher struct {
	current []byte
	legacy  []byte
}

// New derives both keys from the master secret
func New(masterSecret string) (*Cipher, error) {
	if masterSecret == "" {
		return nil, ErrEmptySecret
	}
	legacy := sha256.Sum256([]byte(masterSecret))
	return &Cipher{
		current: DeriveKey(masterSecret, Label),
		legacy:  legacy[:],
	}, nil
}

// DeriveKey runs PBKDF2-SHA256 over secret with a salt bound to label
func DeriveKey(secret, label string) []byte {
	salt := sha256.Sum256([]byte("ptbhub:" + label))
	return pbkdf2.Key([]byte(secret), salt[:], kdfIterations, keySize, sha256.New)
}

// Encrypt seals plaintext under the current key
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	return seal(c.current, []byte(plaintext))
}

// Decrypt opens ciphertext, trying the current key first. usedLegacy is true
// when only the legacy key worked; the value should then be re-encrypted.
func (c *Cipher) Decrypt(ciphertext string) (plaintext string, usedLegacy bool, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	if out, err := open(c.current, raw); err == nil {
		return string(out), false, nil
	}
	if subtle.ConstantTimeCompare(c.current, c.legacy) == 1 {
		return "", false, ErrDecrypt
	}
	out, err := open(c.legacy, raw)
	if err != nil {
		return "", false, ErrDecrypt
	}
	return string(out), true, nil
}

// Reencrypt decrypts with either key and seals the result under the current key
func (c *Cipher) Reencrypt(ciphertext string) (string, error) {
	plain, _, err := c.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return c.Encrypt(plain)
}

// EncryptLegacy seals plaintext under the legacy key. Only used to build
// fixtures for migration tests and tooling.
func (c *Cipher) EncryptLegacy(plaintext string) (string, error) {
	return seal(c.legacy, []byte(plaintext))
}

func seal(key, plaintext []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, plaintext, []byte(Label))
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func open(key, raw []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrDecrypt
	}
	nonce, body := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	return aead.Open(nil, nonce, body, []byte(Label))
}
