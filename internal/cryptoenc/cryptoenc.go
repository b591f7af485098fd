// Print Worker Core is a desktop print bridge service.
//
// Copyright (C) 2026  Print Worker Core Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package cryptoenc encrypts the session tokens persisted by internal/store
// at rest: OAuth-style access/refresh tokens written to the user-data
// config file.
package cryptoenc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	nonceSize  = 12
	keySize    = 32
	iterations = 100000
)

// Encryptor encrypts and decrypts short strings (session tokens) with
// AES-256-GCM, keyed by a PBKDF2-derived key from a passphrase.
type Encryptor struct {
	key []byte
}

// New derives an Encryptor from passphrase. An empty passphrase disables
// encryption entirely — New returns a nil *Encryptor and no error, and
// Encrypt/Decrypt on a nil *Encryptor pass the value through unchanged.
// This mirrors the agent's graceful degradation when no encryption key is
// configured: the caller logs a warning instead of refusing to start.
func New(passphrase string) (*Encryptor, error) {
	if passphrase == "" {
		return nil, nil
	}
	salt := sha256.Sum256([]byte("printbridge-salt-" + passphrase))
	key := pbkdf2.Key([]byte(passphrase), salt[:], iterations, keySize, sha256.New)
	return &Encryptor{key: key}, nil
}

// Encrypt returns the base64-encoded nonce||ciphertext for plaintext. A
// nil Encryptor or empty plaintext returns plaintext unchanged.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	if e == nil || plaintext == "" {
		return plaintext, nil
	}
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("cryptoenc: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cryptoenc: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("cryptoenc: nonce: %w", err)
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	combined := append(nonce, ciphertext...)
	return base64.StdEncoding.EncodeToString(combined), nil
}

// Decrypt reverses Encrypt. A nil Encryptor or empty input returns the
// input unchanged.
func (e *Encryptor) Decrypt(encoded string) (string, error) {
	if e == nil || encoded == "" {
		return encoded, nil
	}
	combined, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("cryptoenc: decode: %w", err)
	}
	if len(combined) < nonceSize {
		return "", errors.New("cryptoenc: ciphertext too short")
	}
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return "", fmt.Errorf("cryptoenc: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cryptoenc: new gcm: %w", err)
	}
	nonce, ciphertext := combined[:nonceSize], combined[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("cryptoenc: decrypt: %w", err)
	}
	return string(plaintext), nil
}
