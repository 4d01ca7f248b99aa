// Package crypto implements the Token Cipher (§4.1): envelope encryption
// for OAuth access/refresh tokens at rest in the Installation Store.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	bustateerrors "github.com/stratecode/triage-sub002/internal/errors"
)

const envelopeVersionPrefix = "v1:"

// info binds every derived key and AAD to the Token Cipher's purpose, so a
// master key never produces interchangeable keys across unrelated uses.
const tokenCipherInfo = "plugin-bus-token-cipher"

// Cipher encrypts and decrypts installation tokens, binding ciphertext to
// the installation it belongs to (plugin_name:channel_id) via both key
// derivation and AEAD associated data.
type Cipher struct {
	masterKey []byte
}

// New creates a Cipher from a 32-byte deployment master key.
func New(masterKey []byte) (*Cipher, error) {
	if len(masterKey) != 32 {
		return nil, fmt.Errorf("master key must be 32 bytes, got %d", len(masterKey))
	}
	return &Cipher{masterKey: masterKey}, nil
}

// Subject builds the canonical binding subject for an installation.
func Subject(pluginName, channelID string) string {
	return pluginName + ":" + channelID
}

func (c *Cipher) deriveKey(subject []byte) []byte {
	mac := hmac.New(sha256.New, c.masterKey)
	_, _ = mac.Write([]byte(tokenCipherInfo))
	_, _ = mac.Write([]byte{0})
	_, _ = mac.Write(subject)
	return mac.Sum(nil)
}

func aad(subject []byte) []byte {
	out := make([]byte, 0, len(tokenCipherInfo)+1+len(subject))
	out = append(out, tokenCipherInfo...)
	out = append(out, 0)
	out = append(out, subject...)
	return out
}

// Encrypt produces a version-prefixed, base64url-encoded envelope binding
// plaintext to subject. Empty plaintext encrypts to an empty string so
// optional token fields (e.g. no refresh token) round-trip cleanly.
func (c *Cipher) Encrypt(subject, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	key := c.deriveKey([]byte(subject))
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", bustateerrors.Internal("cipher init failed", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", bustateerrors.Internal("gcm init failed", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", bustateerrors.Internal("nonce generation failed", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), aad([]byte(subject)))

	buf := make([]byte, 0, len(nonce)+len(ciphertext))
	buf = append(buf, nonce...)
	buf = append(buf, ciphertext...)

	return envelopeVersionPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Decrypt reverses Encrypt. A mismatched subject (ciphertext moved between
// installations), a corrupted envelope, or a wrong master key all fail the
// same way — DecryptionError carries no detail that would let a caller
// distinguish them.
func (c *Cipher) Decrypt(subject, envelope string) (string, error) {
	if envelope == "" {
		return "", nil
	}

	encoded := strings.TrimPrefix(strings.TrimSpace(envelope), envelopeVersionPrefix)
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", bustateerrors.DecryptionError()
	}

	key := c.deriveKey([]byte(subject))
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", bustateerrors.DecryptionError()
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", bustateerrors.DecryptionError()
	}

	if len(raw) < gcm.NonceSize() {
		return "", bustateerrors.DecryptionError()
	}

	nonce, body := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, aad([]byte(subject)))
	if err != nil {
		return "", bustateerrors.DecryptionError()
	}
	return string(plaintext), nil
}
