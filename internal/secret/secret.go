// Package secret recovers credentials that are stored encrypted in the
// configuration. The armored format is: base64(salt || nonce || box) where
// box is a NaCl secretbox sealed with a scrypt-derived key.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	saltSize  = 16
	nonceSize = 24
	keySize   = 32
)

// ErrBadCiphertext is returned when the armored value cannot be decrypted
// with the given key material.
var ErrBadCiphertext = errors.New("secret: cannot decrypt credential")

func deriveKey(passphrase []byte, salt []byte) (*[keySize]byte, error) {
	raw, err := scrypt.Key(passphrase, salt, 1<<15, 8, 1, keySize)
	if err != nil {
		return nil, fmt.Errorf("key derivation failed: %w", err)
	}
	var key [keySize]byte
	copy(key[:], raw)
	return &key, nil
}

// Encrypt seals plaintext with the passphrase and returns the armored value
// for use as password_encrypted in the configuration.
func Encrypt(plaintext, passphrase string) (string, error) {
	var salt [saltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	key, err := deriveKey([]byte(passphrase), salt[:])
	if err != nil {
		return "", err
	}

	out := make([]byte, 0, saltSize+nonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, salt[:]...)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, []byte(plaintext), &nonce, key)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens an armored value with the passphrase.
func Decrypt(armored, passphrase string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(armored)
	if err != nil {
		return "", fmt.Errorf("invalid armor: %w", err)
	}
	if len(raw) < saltSize+nonceSize+secretbox.Overhead {
		return "", ErrBadCiphertext
	}

	key, err := deriveKey([]byte(passphrase), raw[:saltSize])
	if err != nil {
		return "", err
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[saltSize:saltSize+nonceSize])

	plain, ok := secretbox.Open(nil, raw[saltSize+nonceSize:], &nonce, key)
	if !ok {
		return "", ErrBadCiphertext
	}
	return string(plain), nil
}

// DecryptFromFile opens an armored value with a passphrase read from
// keyFile. Surrounding whitespace in the key file is ignored.
func DecryptFromFile(armored, keyFile string) (string, error) {
	raw, err := os.ReadFile(keyFile)
	if err != nil {
		return "", fmt.Errorf("failed to read key file: %w", err)
	}
	return Decrypt(armored, strings.TrimSpace(string(raw)))
}
