package util

import (
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	KDFProfileInteractive = "interactive"
	KDFProfileModerate    = "moderate"
	KDFProfileSensitive   = "sensitive"

	MinArgon2Time      = 1
	MinArgon2MemoryKiB = 19 * 1024
	MinArgon2Parallel  = 1
)

type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        3,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      32,
	}
}

// Argon2idProfile returns the named cost profile.
func Argon2idProfile(name string) (Argon2idParams, error) {
	switch name {
	case KDFProfileInteractive:
		return Argon2idParams{Time: 2, MemoryKiB: 19 * 1024, Parallelism: 1, KeyLen: 32}, nil
	case KDFProfileModerate:
		return DefaultArgon2idParams(), nil
	case KDFProfileSensitive:
		return Argon2idParams{Time: 4, MemoryKiB: 128 * 1024, Parallelism: 4, KeyLen: 32}, nil
	default:
		return Argon2idParams{}, fmt.Errorf("unknown argon2id profile %q", name)
	}
}

// ValidateArgon2idParams rejects parameter sets too weak to store. Wrong
// stored parameters are treated as corruption, not silently accepted.
func ValidateArgon2idParams(p Argon2idParams) error {
	if p.KeyLen != 32 {
		return fmt.Errorf("argon2id key length must be 32 bytes, got %d", p.KeyLen)
	}
	if p.Time < MinArgon2Time {
		return fmt.Errorf("argon2id time must be at least %d", MinArgon2Time)
	}
	if p.MemoryKiB < MinArgon2MemoryKiB {
		return fmt.Errorf("argon2id memory must be at least %d KiB", MinArgon2MemoryKiB)
	}
	if p.Parallelism < MinArgon2Parallel {
		return fmt.Errorf("argon2id parallelism must be at least %d", MinArgon2Parallel)
	}
	return nil
}

func DeriveArgon2idKey(passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	if params.KeyLen != 32 {
		return nil, fmt.Errorf("argon2id key length must be 32 bytes")
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("argon2id salt must not be empty")
	}
	key := argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return key, nil
}
