// Package crypt implements the authenticated streaming encryption envelope
// that wraps backup archives.
//
// Stream layout: a header carrying a magic marker, a format version, and a
// random PBKDF2 salt, followed by AES-256-GCM frames of at most 64 KiB of
// plaintext each. Every frame is authenticated individually, with its index
// and a final-frame flag bound in as additional data, and the stream is
// terminated by an explicit empty final frame. Reordering, truncating, or
// modifying any byte therefore fails decryption at the first affected frame.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	keySize   = 32
	saltSize  = 16
	kdfRounds = 65536
)

// Key is the symmetric key material derived from an operator passphrase. It
// is used identically for encryption and decryption, and is never logged or
// serialized; only the random salt travels with the ciphertext.
type Key struct {
	bytes []byte
}

// DeriveKey derives key material from a passphrase and salt with
// PBKDF2-SHA256.
func DeriveKey(passphrase string, salt []byte) Key {
	return Key{bytes: pbkdf2.Key([]byte(passphrase), salt, kdfRounds, keySize, sha256.New)}
}

func (k Key) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(k.bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	return aead, nil
}

func newSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}
