package core

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 100_000
	pbkdf2KeyLength  = 32 // 256 bits for AES-256
	gcmNonceSize     = 12 // 96 bits, standard for GCM
	minEncryptionKeyLen = 32
)

// pbkdf2Salt is a fixed, application-wide salt. PBKDF2 salts are meant to
// defend against rainbow tables across different applications sharing a
// password scheme, not to vary per secret — every EIFL secret is encrypted
// under the same derived key, so there is exactly one salt to fix.
var pbkdf2Salt = []byte("eifl-secret-store-v1")

// Crypto derives a single process-wide AEAD key from EIFL_ENCRYPTION_KEY and
// encrypts/decrypts Secret values with it. The derived key is computed once
// and cached; see NewCrypto.
type Crypto struct {
	mu  sync.RWMutex
	key []byte // nil when not configured
}

// NewCrypto derives the AEAD key from rawKey via PBKDF2-HMAC-SHA-256. An
// empty rawKey yields a Crypto that is "not configured" (Encrypt/Decrypt
// return EncryptionNotConfiguredError). A rawKey shorter than 32 characters
// is a configuration error.
func NewCrypto(rawKey string) (*Crypto, error) {
	if rawKey == "" {
		return &Crypto{}, nil
	}
	if len(rawKey) < minEncryptionKeyLen {
		return nil, &ValidationError{Field: "EIFL_ENCRYPTION_KEY", Msg: fmt.Sprintf("must be at least %d characters", minEncryptionKeyLen)}
	}
	key := pbkdf2.Key([]byte(rawKey), pbkdf2Salt, pbkdf2Iterations, pbkdf2KeyLength, sha256.New)
	return &Crypto{key: key}, nil
}

// Configured reports whether an encryption key is available.
func (c *Crypto) Configured() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.key != nil
}

// Encrypt AEAD-encrypts plaintext with a fresh random 96-bit IV. Returns
// base64-encoded ciphertext and base64-encoded IV.
func (c *Crypto) Encrypt(plaintext string) (ciphertextB64, ivB64 string, err error) {
	c.mu.RLock()
	key := c.key
	c.mu.RUnlock()
	if key == nil {
		return "", "", &EncryptionNotConfiguredError{}
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", "", err
	}

	iv := make([]byte, gcmNonceSize)
	if _, err := rand.Read(iv); err != nil {
		return "", "", fmt.Errorf("generate iv: %w", err)
	}

	ciphertext := gcm.Seal(nil, iv, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), base64.StdEncoding.EncodeToString(iv), nil
}

// Decrypt reverses Encrypt. A malformed or tampered ciphertext returns
// DecryptError; callers (the dispatcher's secret merge) skip that secret
// rather than failing the whole job payload.
func (c *Crypto) Decrypt(secretName, ciphertextB64, ivB64 string) (string, error) {
	c.mu.RLock()
	key := c.key
	c.mu.RUnlock()
	if key == nil {
		return "", &EncryptionNotConfiguredError{}
	}

	ciphertext, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", &DecryptError{SecretName: secretName, Err: err}
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return "", &DecryptError{SecretName: secretName, Err: err}
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", &DecryptError{SecretName: secretName, Err: err}
	}

	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return "", &DecryptError{SecretName: secretName, Err: err}
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return gcm, nil
}
