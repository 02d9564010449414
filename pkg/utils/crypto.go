package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
)

// TokenCipher seals OAuth tokens before they are stored and opens them before use.
// A cipher built with an empty key passes values through unchanged.
type TokenCipher struct {
	key []byte
}

func NewTokenCipher(secretKey string) *TokenCipher {
	return &TokenCipher{key: []byte(secretKey)}
}

func (c *TokenCipher) Seal(plaintext string) (string, error) {
	if c == nil || len(c.key) == 0 || plaintext == "" {
		return plaintext, nil
	}
	return Encrypt([]byte(plaintext), c.key)
}

func (c *TokenCipher) Open(stored string) (string, error) {
	if c == nil || len(c.key) == 0 || stored == "" {
		return stored, nil
	}
	return Decrypt(stored, c.key)
}

// Encrypt seals plaintext with AES-GCM and returns base64(nonce || ciphertext).
func Encrypt(plaintext, key []byte) (string, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := aesGCM.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func Decrypt(encryptedData string, key []byte) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encryptedData)
	if err != nil {
		return "", err
	}

	aesGCM, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonceSize := aesGCM.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]

	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
