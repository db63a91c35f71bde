// Package secrets seals the generator credential so it can sit in an
// environment file without being readable.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SealedPrefix marks a value produced by Seal.
const SealedPrefix = "sealed:v1:"

var (
	ErrKeyRequired = errors.New("SECRETS_KEY is required to open a sealed credential")
	ErrKeyLength   = errors.New("SECRETS_KEY must be 32 bytes or base64-encoded 32 bytes")
	ErrMalformed   = errors.New("malformed sealed credential")
)

var (
	newGCM               = cipher.NewGCM
	randReader io.Reader = rand.Reader
)

func ParseKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrKeyRequired
	}
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		return nil, ErrKeyLength
	}
	return decoded, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	gcm, err := newGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return gcm, nil
}

// Encrypt returns base64(nonce || ciphertext).
func Encrypt(key []byte, plaintext string) (string, error) {
	gcm, err := newAEAD(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func Decrypt(key []byte, encoded string) (string, error) {
	gcm, err := newAEAD(key)
	if err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(data) < gcm.NonceSize() {
		return "", ErrMalformed
	}
	plain, err := gcm.Open(nil, data[:gcm.NonceSize()], data[gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("open sealed credential: %w", err)
	}
	return string(plain), nil
}

// Seal encrypts credential with rawKey and tags it with SealedPrefix.
func Seal(rawKey, credential string) (string, error) {
	key, err := ParseKey(rawKey)
	if err != nil {
		return "", err
	}
	encoded, err := Encrypt(key, credential)
	if err != nil {
		return "", err
	}
	return SealedPrefix + encoded, nil
}

func IsSealed(value string) bool {
	return strings.HasPrefix(value, SealedPrefix)
}

// Reveal opens a sealed value. Values without SealedPrefix are returned
// unchanged and need no key.
func Reveal(rawKey, value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	key, err := ParseKey(rawKey)
	if err != nil {
		return "", err
	}
	return Decrypt(key, strings.TrimPrefix(value, SealedPrefix))
}
