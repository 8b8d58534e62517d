package accounts

import (
	"fmt"

	"github.com/alexedwards/argon2id"
)

// Argon2idHasher hashes secrets with argon2id.
type Argon2idHasher struct {
	params *argon2id.Params
}

// NewArgon2idHasher takes memory in KiB.
func NewArgon2idHasher(iterations, memory, keyLength, saltLength uint32, parallelism uint8) *Argon2idHasher {
	return &Argon2idHasher{
		params: &argon2id.Params{
			Memory:      memory,
			Iterations:  iterations,
			Parallelism: parallelism,
			SaltLength:  saltLength,
			KeyLength:   keyLength,
		},
	}
}

// DefaultHasher uses the library's recommended parameters.
func DefaultHasher() *Argon2idHasher {
	p := *argon2id.DefaultParams
	return &Argon2idHasher{params: &p}
}

func (h *Argon2idHasher) Hash(secret string) (string, error) {
	hash, err := argon2id.CreateHash(secret, h.params)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return hash, nil
}

func (h *Argon2idHasher) Compare(hash, secret string) (bool, error) {
	match, err := argon2id.ComparePasswordAndHash(secret, hash)
	if err != nil {
		return false, fmt.Errorf("failed to compare secret: %w", err)
	}
	return match, nil
}
