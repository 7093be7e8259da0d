package aead

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := New("correct-horse-battery-staple")
	require.NoError(t, err)

	ciphertext, err := c.Encrypt("s3cret-value")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-value", ciphertext)

	plaintext, err := c.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "s3cret-value", plaintext)
}

func TestNewRejectsEmptyPassphrase(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	c, err := New("correct-horse-battery-staple")
	require.NoError(t, err)

	ciphertext, err := c.Encrypt("s3cret-value")
	require.NoError(t, err)

	tampered := []byte(ciphertext)
	tampered[len(tampered)-1] ^= 0x01
	_, err = c.Decrypt(string(tampered))
	assert.Error(t, err)
}
