package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/gocalceum/calc/internal/domain"
)

const (
	nonceSize  = 12
	saltSize   = 32
	keySize    = 32
	iterations = 100_000
)

// FieldCipher encrypts individual string fields (tokens, NINO, UTR) with
// AES-256-GCM under a key derived from a configured passphrase.
type FieldCipher struct {
	aead cipher.AEAD
}

// NewFieldCipher derives the AES key from the passphrase with
// PBKDF2-SHA256. The salt is derived from the passphrase itself so that
// every instance of the service produces interoperable ciphertext.
func NewFieldCipher(passphrase string) (*FieldCipher, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("encryption passphrase is empty")
	}

	saltDigest := sha256.Sum256([]byte(passphrase + "_salt"))
	key := pbkdf2.Key([]byte(passphrase), saltDigest[:saltSize], iterations, keySize, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &FieldCipher{aead: aead}, nil
}

// EncryptString seals plaintext and returns base64(nonce || ciphertext).
// Empty input passes through unchanged.
func (c *FieldCipher) EncryptString(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	combined := make([]byte, 0, len(nonce)+len(sealed))
	combined = append(combined, nonce...)
	combined = append(combined, sealed...)
	return base64.StdEncoding.EncodeToString(combined), nil
}

// DecryptString reverses EncryptString.
func (c *FieldCipher) DecryptString(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	combined, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(combined) <= nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plaintext, err := c.aead.Open(nil, combined[:nonceSize], combined[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// EncryptTokens returns a copy of tokens with the access and refresh token
// fields sealed. Non-secret fields are untouched.
func (c *FieldCipher) EncryptTokens(tokens domain.OAuthTokens) (domain.OAuthTokens, error) {
	encrypted := tokens

	access, err := c.EncryptString(tokens.AccessToken)
	if err != nil {
		return domain.OAuthTokens{}, fmt.Errorf("encrypt access token: %w", err)
	}
	refresh, err := c.EncryptString(tokens.RefreshToken)
	if err != nil {
		return domain.OAuthTokens{}, fmt.Errorf("encrypt refresh token: %w", err)
	}

	encrypted.AccessToken = access
	encrypted.RefreshToken = refresh
	return encrypted, nil
}

// DecryptTokens reverses EncryptTokens.
func (c *FieldCipher) DecryptTokens(tokens domain.OAuthTokens) (domain.OAuthTokens, error) {
	decrypted := tokens

	access, err := c.DecryptString(tokens.AccessToken)
	if err != nil {
		return domain.OAuthTokens{}, fmt.Errorf("decrypt access token: %w", err)
	}
	refresh, err := c.DecryptString(tokens.RefreshToken)
	if err != nil {
		return domain.OAuthTokens{}, fmt.Errorf("decrypt refresh token: %w", err)
	}

	decrypted.AccessToken = access
	decrypted.RefreshToken = refresh
	return decrypted, nil
}
