// Package crypto provides the AES-256-GCM encryption used by
// internal/credentials' encrypted-database fallback, for accounts whose
// password has to be cached outside the OS keyring.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the size in bytes of the per-secret salt stored alongside
	// its ciphertext.
	SaltSize = 32

	// keySize is the derived key size in bytes (AES-256).
	keySize = 32

	// pbkdf2Iterations is the PBKDF2 round count used to derive a key from
	// machine-specific data and a secret's salt.
	pbkdf2Iterations = 100000
)

// Encryptor provides AES-256-GCM encryption keyed off machine-specific data.
// Unlike a single device key held in a key file, every secret gets its own
// random salt (stored next to its ciphertext), so the key is re-derived on
// every Decrypt rather than cached on disk.
type Encryptor struct{}

// NewEncryptor returns an Encryptor. There is no setup: the key material is
// derived per secret from deriveKey.
func NewEncryptor() *Encryptor {
	return &Encryptor{}
}

// deriveKey derives an AES-256 key from the host's machine-specific data and
// a secret-specific salt, so the same salt always reproduces the same key on
// this machine.
func deriveKey(salt []byte) []byte {
	hostname, _ := os.Hostname()
	username := os.Getenv("USER")
	if username == "" {
		username = os.Getenv("USERNAME")
	}

	machineData := fmt.Sprintf("mailsync:%s:%s:%d", hostname, username, os.Getuid())
	return pbkdf2.Key([]byte(machineData), salt, pbkdf2Iterations, keySize, sha256.New)
}

// Encrypt encrypts plaintext under a freshly generated salt and nonce,
// returning all three so the caller can store them as separate columns.
func (e *Encryptor) Encrypt(plaintext string) (ciphertext, nonce, salt []byte, err error) {
	salt = make([]byte, SaltSize)
	if _, err = io.ReadFull(rand.Reader, salt); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(salt))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return ciphertext, nonce, salt, nil
}

// Decrypt reverses Encrypt given the ciphertext and the nonce/salt it was
// produced with.
func (e *Encryptor) Decrypt(ciphertext, nonce, salt []byte) (string, error) {
	block, err := aes.NewCipher(deriveKey(salt))
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}
