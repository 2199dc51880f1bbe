// Package crypto keeps the remote API token encrypted at rest.
// Uses AES-256-GCM for authenticated encryption.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	apperrors "github.com/kimhsiao/wishwell/backend/internal/errors"
)

// tokenPrefix marks the ciphertext format version.
const tokenPrefix = "v1:"

// tokenAAD binds sealed tokens to their purpose.
var tokenAAD = []byte("wishwell/remote-token")

var (
	// ErrInvalidCiphertext is returned when decryption fails.
	ErrInvalidCiphertext = apperrors.New(apperrors.ErrCryptoFailed, "invalid ciphertext")
	// ErrInvalidKey is returned when the key is unusable.
	ErrInvalidKey = apperrors.New(apperrors.ErrCryptoFailed, "invalid key")
)

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) == 0 {
		return nil, ErrInvalidKey
	}
	// Derive a 32-byte key from the input key
	derived := sha256.Sum256(key)
	block, err := aes.NewCipher(derived[:])
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCryptoFailed, "failed to create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCryptoFailed, "failed to create GCM", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext with key and returns "v1:" + base64(nonce|ciphertext).
func Seal(plaintext, key, aad []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", apperrors.Wrap(apperrors.ErrCryptoFailed, "failed to generate nonce", err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, aad)
	return tokenPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. Any mismatch of key, aad or data is ErrInvalidCiphertext.
func Open(sealed string, key, aad []byte) ([]byte, error) {
	if !strings.HasPrefix(sealed, tokenPrefix) {
		return nil, ErrInvalidCiphertext
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, tokenPrefix))
	if err != nil {
		return nil, ErrInvalidCiphertext
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrInvalidCiphertext
	}
	nonce, cipherData := data[:nonceSize], data[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, cipherData, aad)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

// MachineKey derives the token key from a machine identifier. An empty id
// falls back to a fixed key, which only obfuscates.
func MachineKey(machineID string) []byte {
	if machineID == "" {
		machineID = "wishwell-default-key"
	}
	hash := sha256.Sum256([]byte("wishwell:" + machineID))
	return hash[:]
}

// EncryptToken encrypts a remote API token for the config file.
func EncryptToken(token, machineID string) (string, error) {
	if token == "" {
		return "", apperrors.New(apperrors.ErrInvalid, "token cannot be empty")
	}
	return Seal([]byte(token), MachineKey(machineID), tokenAAD)
}

// DecryptToken decrypts a token written by EncryptToken. An empty input
// means no token is configured.
func DecryptToken(encrypted, machineID string) (string, error) {
	if encrypted == "" {
		return "", nil
	}
	plaintext, err := Open(encrypted, MachineKey(machineID), tokenAAD)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
