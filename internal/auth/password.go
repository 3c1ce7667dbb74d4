package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// HashParams are the Argon2id cost parameters. Changing them invalidates
// every stored record, since records do not carry their parameters.
type HashParams struct {
	Parallelism uint8
	MemoryKiB   uint32
	Iterations  uint32
	SaltLength  uint32
	HashLength  uint32
}

// DefaultHashParams returns the production Argon2id parameters.
func DefaultHashParams() HashParams {
	return HashParams{
		Parallelism: 8,
		MemoryKiB:   128 * 1024,
		Iterations:  4,
		SaltLength:  16,
		HashLength:  32,
	}
}

// Hasher derives and checks password records of the form
// base64(salt):base64(hash), using standard base64 with padding.
type Hasher struct {
	params HashParams
}

// NewHasher returns a Hasher using params.
func NewHasher(params HashParams) *Hasher {
	return &Hasher{params: params}
}

// Hash derives a record for plaintext with a fresh random salt.
func (h *Hasher) Hash(plaintext string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := h.derive(plaintext, salt)

	return base64.StdEncoding.EncodeToString(salt) + ":" + base64.StdEncoding.EncodeToString(hash), nil
}

// Verify reports whether plaintext matches record. Malformed records
// yield false.
func (h *Hasher) Verify(plaintext, record string) bool {
	encodedSalt, encodedHash, ok := strings.Cut(record, ":")
	if !ok || strings.Contains(encodedHash, ":") {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(encodedSalt)
	if err != nil {
		return false
	}
	expected, err := base64.StdEncoding.DecodeString(encodedHash)
	if err != nil {
		return false
	}

	candidate := h.derive(plaintext, salt)

	return subtle.ConstantTimeCompare(expected, candidate) == 1
}

func (h *Hasher) derive(plaintext string, salt []byte) []byte {
	return argon2.IDKey([]byte(plaintext), salt,
		h.params.Iterations, h.params.MemoryKiB, h.params.Parallelism, h.params.HashLength)
}
