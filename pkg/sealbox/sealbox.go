// Package sealbox provides authenticated symmetric encryption for small,
// self-contained tokens such as OAuth state parameters.
//
// Sealed blobs have the layout
//
//	[Version: 1 byte] [Nonce: 24 bytes] [Ciphertext+Tag: N+16 bytes]
//
// The version byte is bound as additional authenticated data, so any
// tampering with it fails authentication.
package sealbox

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	Version byte = 0x01

	// Overhead is the number of bytes a sealed blob adds to its plaintext.
	Overhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

	// MinSecretLength is the shortest accepted configuration secret.
	MinSecretLength = 32
)

var (
	ErrSecretTooShort = errors.New("sealbox: secret must be at least 32 characters")
	ErrMalformed      = errors.New("sealbox: malformed sealed blob")
	ErrOpen           = errors.New("sealbox: message authentication failed")
)

// Sealer encrypts and authenticates opaque payloads.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

type sealer struct {
	aad  []byte
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// New derives an XChaCha20-Poly1305 key from secret with HKDF-SHA256.
// The purpose string separates keys derived from the same secret.
func New(secret, purpose string) (Sealer, error) {
	if len(strings.TrimSpace(secret)) < MinSecretLength {
		return nil, ErrSecretTooShort
	}

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(purpose))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("sealbox: derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("sealbox: init cipher: %w", err)
	}
	return &sealer{aead: aead, aad: []byte{Version}}, nil
}

func (s *sealer) Seal(plaintext []byte) ([]byte, error) {
	out := make([]byte, 1+chacha20poly1305.NonceSizeX, Overhead+len(plaintext))
	out[0] = Version
	nonce := out[1 : 1+chacha20poly1305.NonceSizeX]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("sealbox: generate nonce: %w", err)
	}
	return s.aead.Seal(out, nonce, plaintext, s.aad), nil
}

func (s *sealer) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < Overhead || sealed[0] != Version {
		return nil, ErrMalformed
	}
	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	ciphertext := sealed[1+chacha20poly1305.NonceSizeX:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, s.aad)
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}
