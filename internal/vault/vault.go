// package vault provides symmetric encryption for OAuth tokens held in
// memory. One key lives for the process lifetime; with a generated key,
// ciphertexts from a previous run decrypt to [shared.ErrInvalidCiphertext]
// and callers fall back to re-linking.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/melodymind/internal/shared"
	"golang.org/x/crypto/chacha20poly1305"
)

// Vault encrypts and decrypts byte strings with XChaCha20-Poly1305.
type Vault struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// New builds a Vault from a url-safe base64 encoded 32 byte key. When the
// key is empty or malformed a fresh key is generated and held only in
// memory; previously stored ciphertexts become unreadable, which surfaces as
// ErrInvalidCiphertext on Decrypt rather than a startup failure.
func New(encodedKey string, logger *log.Logger) (*Vault, error) {
	var key []byte

	if encodedKey != "" {
		decoded, err := base64.URLEncoding.DecodeString(encodedKey)
		if err != nil || len(decoded) != chacha20poly1305.KeySize {
			if logger != nil {
				logger.Warn("invalid encryption key format, generating a session key", "err", err)
			}
		} else {
			key = decoded
		}
	}

	if key == nil {
		key = make([]byte, chacha20poly1305.KeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate vault key: %w", err)
		}
		if logger != nil {
			logger.Warn("no encryption key configured; linked accounts will not survive a restart",
				"generated_key", base64.URLEncoding.EncodeToString(key))
		}
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Encrypt seals plaintext with a random nonce. The nonce is prepended to the
// returned ciphertext.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Tampered bytes or a
// changed key yield [shared.ErrInvalidCiphertext], never garbage plaintext.
func (v *Vault) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < chacha20poly1305.NonceSizeX {
		return nil, shared.ErrInvalidCiphertext
	}

	nonce, sealed := ciphertext[:chacha20poly1305.NonceSizeX], ciphertext[chacha20poly1305.NonceSizeX:]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, shared.ErrInvalidCiphertext
	}
	return plaintext, nil
}
