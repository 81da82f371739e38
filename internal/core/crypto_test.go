package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCryptoRoundTrip(t *testing.T) {
	c, err := NewCrypto("a-sufficiently-long-encryption-key-value")
	require.NoError(t, err)
	require.True(t, c.Configured())

	ciphertext1, iv1, err := c.Encrypt("hunter2")
	require.NoError(t, err)
	ciphertext2, iv2, err := c.Encrypt("hunter2")
	require.NoError(t, err)

	assert.NotEqual(t, ciphertext1, ciphertext2, "two encryptions of the same value must differ")
	assert.NotEqual(t, iv1, iv2)

	plaintext, err := c.Decrypt("API_KEY", ciphertext1, iv1)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plaintext)
}

func TestCryptoNotConfigured(t *testing.T) {
	c, err := NewCrypto("")
	require.NoError(t, err)
	assert.False(t, c.Configured())

	_, _, err = c.Encrypt("x")
	var notConfigured *EncryptionNotConfiguredError
	require.ErrorAs(t, err, &notConfigured)
}

func TestCryptoKeyTooShort(t *testing.T) {
	_, err := NewCrypto("short")
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestCryptoDecryptFailureIsDecryptError(t *testing.T) {
	c, err := NewCrypto("a-sufficiently-long-encryption-key-value")
	require.NoError(t, err)

	_, err = c.Decrypt("BAD", "not-valid-base64!!", "also-not-valid!!")
	var de *DecryptError
	require.ErrorAs(t, err, &de)
}
