// Package crypto implements the name cipher used for stored file and
// folder names. Names are encrypted client-side relative to a context key
// (the parent folder id), so the server only ever decrypts at the moment
// of presenting a name to a caller.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// NameCipher derives per-context AES keys from a server secret.
type NameCipher struct {
	secret []byte
}

// NewNameCipher creates a name cipher over the given secret.
func NewNameCipher(secret string) *NameCipher {
	return &NameCipher{secret: []byte(secret)}
}

// deriveKey produces the AES-256 key for one context key.
func (c *NameCipher) deriveKey(contextKey string) []byte {
	h := sha256.New()
	h.Write(c.secret)
	h.Write([]byte(":"))
	h.Write([]byte(contextKey))
	return h.Sum(nil)
}

// EncryptName encrypts a plaintext name under the given context key.
// The stored form is hex(iv || ctr-ciphertext).
func (c *NameCipher) EncryptName(name, contextKey string) (string, error) {
	block, err := aes.NewCipher(c.deriveKey(contextKey))
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	out := make([]byte, len(name))
	cipher.NewCTR(block, iv).XORKeyStream(out, []byte(name))

	return hex.EncodeToString(append(iv, out...)), nil
}

// DecryptName recovers the plaintext name from its stored form. It fails
// only on malformed input; any validly stored name decrypts.
func (c *NameCipher) DecryptName(storedName, contextKey string) (string, error) {
	raw, err := hex.DecodeString(storedName)
	if err != nil {
		return "", fmt.Errorf("decode stored name: %w", err)
	}
	if len(raw) < aes.BlockSize {
		return "", fmt.Errorf("stored name too short: %d bytes", len(raw))
	}

	block, err := aes.NewCipher(c.deriveKey(contextKey))
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}

	iv, ciphertext := raw[:aes.BlockSize], raw[aes.BlockSize:]
	out := make([]byte, len(ciphertext))
	cipher.NewCTR(block, iv).XORKeyStream(out, ciphertext)

	return string(out), nil
}
