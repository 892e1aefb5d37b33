// Package piicrypt protects student-identifying fields at rest.
//
// With a configured 256-bit key it emits AES-256-CTR tokens of the form
// "ivHex:cipherHex", a fresh random IV per encryption. Without a key it
// degrades to a reversible but non-confidential "plain:" base64 encoding so
// the system keeps working; callers should surface that state as a standing
// operational warning.
package piicrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

const plainPrefix = "plain:"

// Cipher encrypts and decrypts short PII strings.
type Cipher struct {
	key []byte // nil in degraded mode
}

// New builds a Cipher from a hex-encoded 32-byte key. An empty keyHex yields
// a degraded, non-confidential cipher. A malformed or wrong-length key is an
// error rather than a silent fallback.
func New(keyHex string) (*Cipher, error) {
	if keyHex == "" {
		return &Cipher{}, nil
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, errors.New("encryption key must be hex")
	}
	if len(key) != 32 {
		return nil, errors.New("encryption key must be 32 bytes")
	}
	return &Cipher{key: key}, nil
}

// Degraded reports whether the cipher is running without a key.
func (c *Cipher) Degraded() bool { return c.key == nil }

// Encrypt produces a self-contained token for plaintext.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if c.key == nil {
		return plainPrefix + base64.StdEncoding.EncodeToString([]byte(plaintext)), nil
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	out := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(out, []byte(plaintext))
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

// Decrypt reverses whichever token format it is handed. The second return is
// false for malformed tokens and for keyed tokens seen while no key is
// configured; bulk history reads render those as empty fields instead of
// failing the whole read.
func (c *Cipher) Decrypt(token string) (string, bool) {
	if strings.HasPrefix(token, plainPrefix) {
		raw, err := base64.StdEncoding.DecodeString(token[len(plainPrefix):])
		if err != nil {
			return "", false
		}
		return string(raw), true
	}

	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return "", false
	}
	if c.key == nil {
		// Keyed token, no key: unrecoverable.
		return "", false
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != aes.BlockSize {
		return "", false
	}
	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", false
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", false
	}
	out := make([]byte, len(data))
	cipher.NewCTR(block, iv).XORKeyStream(out, data)
	return string(out), true
}
