// Package aead implements the keymanager.Cipher and configstore.Cipher
// contracts using ChaCha20-Poly1305 AEAD, keyed by a passphrase hashed
// down to a 32-byte key with SHA-256.
package aead

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// Cipher encrypts and decrypts short strings (client secrets, config
// values) for storage at rest. Ciphertext is base64(nonce || sealed).
type Cipher struct {
	aead cipher.AEAD
}

// New derives a 32-byte key from passphrase via SHA-256 and returns a
// Cipher. An empty passphrase is rejected: callers that want encryption
// disabled should pass a nil Cipher to keymanager/configstore instead.
func New(passphrase string) (*Cipher, error) {
	if passphrase == "" {
		return nil, errors.New("aead: empty passphrase")
	}
	key := sha256.Sum256([]byte(passphrase))
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, sealed...)), nil
}

func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New("aead: ciphertext too short")
	}
	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
