// Package crypto provides AES-256-GCM encryption for sensitive channel
// data such as access tokens and provider custom-field payloads before
// they reach persistent storage.
//
// Each encryption uses a unique random nonce, so encrypting the same
// plaintext twice produces different ciphertexts.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"

	"golang.org/x/crypto/pbkdf2"

	"channel-hub/internal/common/errors"
)

// ConfigEncryptor handles encryption and decryption of sensitive payloads
// using AES-256-GCM. Safe for concurrent use.
type ConfigEncryptor struct {
	key []byte
}

// NewConfigEncryptor creates an encryptor from the provided key string.
// The key is run through PBKDF2 so any non-empty input yields a proper
// 32-byte AES-256 key.
func NewConfigEncryptor(key string) (*ConfigEncryptor, error) {
	if key == "" {
		return nil, errors.ConfigError("encryption key cannot be empty")
	}

	// Static salt keeps key derivation deterministic across restarts.
	salt := []byte("channel-hub-salt")
	derivedKey := pbkdf2.Key([]byte(key), salt, 10000, 32, sha256.New)

	return &ConfigEncryptor{key: derivedKey}, nil
}

// Encrypt encrypts a plaintext string and returns base64(nonce+ciphertext).
// Empty input returns an empty string without encryption.
func (e *ConfigEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", errors.InternalError("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.InternalError("failed to create GCM", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to create nonce", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt. Tampered or truncated ciphertexts fail GCM
// authentication and return an error.
func (e *ConfigEncryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.InternalError("failed to decode ciphertext", err)
	}

	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", errors.InternalError("failed to create cipher", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.InternalError("failed to create GCM", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.ValidationError("ciphertext too short")
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", errors.InternalError("failed to decrypt", err)
	}

	return string(plaintext), nil
}

// EncryptJSON marshals v to JSON and encrypts the result.
func (e *ConfigEncryptor) EncryptJSON(v interface{}) (string, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return "", errors.InternalError("failed to marshal JSON", err)
	}
	return e.Encrypt(string(jsonBytes))
}

// DecryptJSON decrypts a ciphertext produced by EncryptJSON and unmarshals
// it into dest.
func (e *ConfigEncryptor) DecryptJSON(ciphertext string, dest interface{}) error {
	plaintext, err := e.Decrypt(ciphertext)
	if err != nil {
		return err
	}
	if plaintext == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(plaintext), dest); err != nil {
		return errors.InternalError("failed to unmarshal JSON", err)
	}
	return nil
}
