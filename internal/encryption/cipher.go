// Package encryption protects message bodies at rest.
//
// Ciphertexts are text envelopes of the form "v1:" + base64(nonce || sealed),
// sealed with AES-256-GCM under a key derived from the server secret with
// HKDF-SHA256. A Cipher holds no mutable state and is safe for concurrent use.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	versionPrefix = "v1:"
	keySize       = 32
	keyInfo       = "marketplace-chat/message-content/v1"
)

// ErrDecryptionFailed is wrapped by every failure to open a ciphertext.
var ErrDecryptionFailed = errors.New("decryption failed")

// ErrEmptySecret is returned when no key material is configured.
var ErrEmptySecret = errors.New("encryption secret is empty")

// Cipher encrypts and decrypts message content with a single server key.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives the content key from secret.
func NewCipher(secret []byte) (*Cipher, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plain. Every call uses a fresh nonce, so equal inputs
// produce different ciphertexts.
func (c *Cipher) Encrypt(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return versionPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt under the same secret.
func (c *Cipher) Decrypt(text string) (string, error) {
	encoded, ok := strings.CutPrefix(text, versionPrefix)
	if !ok {
		return "", fmt.Errorf("%w: unknown envelope version", ErrDecryptionFailed)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}
	plain, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return string(plain), nil
}

// EncryptNullable is Encrypt with nil passed through unchanged.
func (c *Cipher) EncryptNullable(plain *string) (*string, error) {
	if plain == nil {
		return nil, nil
	}
	out, err := c.Encrypt(*plain)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DecryptNullable is Decrypt with nil passed through unchanged.
func (c *Cipher) DecryptNullable(text *string) (*string, error) {
	if text == nil {
		return nil, nil
	}
	out, err := c.Decrypt(*text)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
