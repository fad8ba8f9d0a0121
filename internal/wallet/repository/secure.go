package repository

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

var ErrWrongPassphrase = errors.New("wrong storage passphrase")

const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	keyLength    = 32
	saltLength   = 32
	nonceLength  = 12
	sealedFields = 3
)

// seal encrypts plaintext with an scrypt derived AES-256-GCM key and returns
// "salt:iv:ciphertext", each part base64 encoded.
func seal(plaintext, passphrase string) (string, error) {
	key, salt, err := deriveKey(passphrase, nil)
	if err != nil {
		return "", err
	}

	iv := make([]byte, nonceLength)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("error generating iv: %w", err)
	}

	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}
	ciphertext := aead.Seal(nil, iv, []byte(plaintext), nil)

	return base64.StdEncoding.EncodeToString(salt) + ":" +
		base64.StdEncoding.EncodeToString(iv) + ":" +
		base64.StdEncoding.EncodeToString(ciphertext), nil
}

func open(sealed, passphrase string) (string, error) {
	parts := strings.Split(sealed, ":")
	if len(parts) != sealedFields {
		return "", fmt.Errorf("invalid ciphertext format")
	}

	decoded := make([][]byte, sealedFields)
	for i, part := range parts {
		b, err := base64.StdEncoding.DecodeString(part)
		if err != nil {
			return "", fmt.Errorf("invalid ciphertext encoding: %w", err)
		}
		decoded[i] = b
	}
	salt, iv, ciphertext := decoded[0], decoded[1], decoded[2]

	key, _, err := deriveKey(passphrase, salt)
	if err != nil {
		return "", err
	}
	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}
	if len(iv) != aead.NonceSize() {
		return "", fmt.Errorf("invalid iv length %d", len(iv))
	}

	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return "", ErrWrongPassphrase
	}
	return string(plaintext), nil
}

func deriveKey(passphrase string, salt []byte) ([]byte, []byte, error) {
	if salt == nil {
		salt = make([]byte, saltLength)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, fmt.Errorf("error generating salt: %w", err)
		}
	}

	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, nil, fmt.Errorf("error deriving key: %w", err)
	}
	return key, salt, nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
