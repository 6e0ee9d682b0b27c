// Package crypto provides the authenticated-encryption, key-derivation,
// hashing and signing primitives used by the frame codec. All constructions
// are vetted library implementations; the package holds no key material of
// its own.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Suite selects the AEAD construction. Both suites use 32-byte keys,
// 12-byte nonces and 16-byte tags.
type Suite uint8

const (
	AES256GCM Suite = iota
	ChaCha20Poly1305
)

func (s Suite) String() string {
	switch s {
	case AES256GCM:
		return "aes-256-gcm"
	case ChaCha20Poly1305:
		return "chacha20-poly1305"
	}
	return "unknown"
}

// Sizes shared by both suites.
const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

var (
	// ErrAuthFailure indicates the authentication tag did not verify.
	ErrAuthFailure = errors.New("authentication failure")

	// ErrBadKey indicates a key of the wrong length.
	ErrBadKey = errors.New("invalid key length")
)

// GenerateKey draws a fresh random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("key generation: %w", err)
	}
	return key, nil
}

// ValidateKey checks the key length shared by both suites (KeySize).
func ValidateKey(key []byte) error {
	if len(key) != KeySize {
		return fmt.Errorf("%w: got %d, want %d", ErrBadKey, len(key), KeySize)
	}
	return nil
}

// NewNonce draws a fresh random 12-byte nonce.
func NewNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce generation: %w", err)
	}
	return nonce, nil
}

func newAEAD(suite Suite, key []byte) (cipher.AEAD, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	switch suite {
	case AES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case ChaCha20Poly1305:
		return chacha20poly1305.New(key)
	}
	return nil, fmt.Errorf("unknown suite %d", suite)
}

// Seal encrypts and authenticates plaintext under key and nonce. The
// additional data is authenticated but not encrypted.
func Seal(suite Suite, key, nonce, plaintext, additional []byte) ([]byte, error) {
	aead, err := newAEAD(suite, key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("invalid nonce length %d", len(nonce))
	}
	return aead.Seal(nil, nonce, plaintext, additional), nil
}

// Open verifies and decrypts ciphertext. It returns ErrAuthFailure when
// the tag does not verify; callers must not inspect partial plaintext.
func Open(suite Suite, key, nonce, ciphertext, additional []byte) ([]byte, error) {
	aead, err := newAEAD(suite, key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("invalid nonce length %d", len(nonce))
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, additional)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}

// DeriveKey expands a master key into a connection key via HKDF-SHA256.
// Salt and info bind the derived key to one connection and direction.
func DeriveKey(master, salt, info []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, master, salt, info)
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("key derivation: %w", err)
	}
	return key, nil
}

// Hash returns the SHA-256 digest of data.
func Hash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// GenerateSigningKey creates an Ed25519 key pair for packet signing.
func GenerateSigningKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// Sign produces an Ed25519 signature over data.
func Sign(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

// Verify checks an Ed25519 signature over data.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	return ed25519.Verify(pub, data, sig)
}
