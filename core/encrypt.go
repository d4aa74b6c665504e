// Package core provides the fundamental building blocks of the golem ORM.
// This file implements authenticated encryption for attributes cast as
// encrypted.
package core

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

const encryptedPrefix = "v1:"

// ErrInvalidCiphertext is returned when an encrypted attribute cannot be opened.
var ErrInvalidCiphertext = errors.New("invalid ciphertext")

// Encrypter seals and opens AttrEncrypted attributes with AES-256-GCM.
//
// Ciphertexts are stored as "v1:" followed by base64(nonce || sealed). The
// attribute name is bound as additional data so a value copied into another
// column fails to open.
type Encrypter struct {
	aead cipher.AEAD
	rand io.Reader
}

// NewEncrypter builds an Encrypter from a 32 byte key.
func NewEncrypter(key []byte) (*Encrypter, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: encryption key must be 32 bytes, got %d", ErrInvalidArgument, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher init failed: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aes-gcm init failed: %w", err)
	}
	return &Encrypter{aead: gcm, rand: rand.Reader}, nil
}

// NewEncrypterFromBase64 decodes a standard base64 key and builds an Encrypter.
func NewEncrypterFromBase64(encoded string) (*Encrypter, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: encryption key is not base64: %v", ErrInvalidArgument, err)
	}
	return NewEncrypter(key)
}

// Encrypt seals plaintext for the given attribute.
func (e *Encrypter) Encrypt(attributeName string, plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(e.rand, nonce); err != nil {
		return "", fmt.Errorf("nonce generation failed: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), aadForAttribute(attributeName))
	return encryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt for the same attribute.
func (e *Encrypter) Decrypt(attributeName string, ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, encryptedPrefix) {
		return "", fmt.Errorf("%w: missing version prefix", ErrInvalidCiphertext)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, encryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	nonceSize := e.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("%w: too short", ErrInvalidCiphertext)
	}
	plaintext, err := e.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], aadForAttribute(attributeName))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	return string(plaintext), nil
}

func aadForAttribute(attributeName string) []byte {
	return []byte("golem:encrypted:v1|attr=" + attributeName)
}
