package notify

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"

	apperrors "github.com/HarshaReddyVardhan/banking-notification-service/internal/errors"
)

// FieldCipher encrypts and decrypts contact fields (phone, email) before
// they reach the Preferences Store or any log line. No library in the
// example corpus wraps AES directly (golang.org/x/crypto is used elsewhere
// in the corpus only for bcrypt/openpgp/ssh, none of which fit a symmetric
// field-encryption need), so this uses the standard library's crypto/aes +
// crypto/cipher in GCM mode — see DESIGN.md for the stdlib justification.
type FieldCipher struct {
	gcm cipher.AEAD
}

// NewFieldCipher builds a cipher from a 32-byte AES-256 key.
func NewFieldCipher(key []byte) (*FieldCipher, error) {
	if len(key) != 32 {
		return nil, apperrors.NewValidationError("FIELD_ENCRYPTION_KEY", "key must be exactly 32 bytes for AES-256")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to construct AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to construct GCM mode", err)
	}
	return &FieldCipher{gcm: gcm}, nil
}

// Encrypt returns a base64-encoded nonce||ciphertext string. Empty input
// encrypts to an empty string so an unset contact field round-trips as unset.
func (c *FieldCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", apperrors.NewInternalError("failed to generate nonce", err)
	}
	sealed := c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Empty input decrypts to an empty string.
func (c *FieldCipher) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", apperrors.NewInternalError("failed to decode ciphertext", err)
	}
	nonceSize := c.gcm.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := c.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", apperrors.NewInternalError("failed to decrypt field", err)
	}
	return string(plaintext), nil
}
