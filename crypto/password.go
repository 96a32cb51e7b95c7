package crypto

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/jmcleod/opsvault/internal/util"
)

// ErrMalformedHash indicates a stored password hash could not be parsed.
var ErrMalformedHash = errors.New("malformed password hash")

var dummySalt = []byte("opsvault:dummy:salt")

// HashPassword returns an encoded Argon2id hash of password in the
// $argon2id$v=19$m=<KiB>,t=<time>,p=<lanes>$<salt>$<hash> format.
func HashPassword(password string, params KDFParams) (string, error) {
	salt, err := NewSalt()
	if err != nil {
		return "", err
	}
	key, err := DeriveKey(password, salt, params)
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(key)

	enc := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		params.MemoryKiB, params.Time, params.Parallelism,
		enc.EncodeToString(salt), enc.EncodeToString(key)), nil
}

// VerifyPassword reports whether password matches encoded. The comparison
// is constant time.
func VerifyPassword(password, encoded string) (bool, error) {
	params, salt, want, err := parsePasswordHash(encoded)
	if err != nil {
		return false, err
	}
	got, err := DeriveKey(password, salt, params)
	if err != nil {
		return false, err
	}
	defer util.WipeBytes(got)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// DummyVerify spends the same KDF work as VerifyPassword without a stored
// hash, so unknown usernames take as long to reject as wrong passwords.
func DummyVerify(password string, params KDFParams) {
	key, err := DeriveKey(password, dummySalt, params)
	if err == nil {
		util.WipeBytes(key)
	}
}

func parsePasswordHash(encoded string) (KDFParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return KDFParams{}, nil, nil, ErrMalformedHash
	}
	var p KDFParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Time, &p.Parallelism); err != nil {
		return KDFParams{}, nil, nil, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return KDFParams{}, nil, nil, ErrMalformedHash
	}
	hash, err := enc.DecodeString(parts[5])
	if err != nil || len(hash) != 32 {
		return KDFParams{}, nil, nil, ErrMalformedHash
	}
	p.KeyLen = uint32(len(hash))
	return p, salt, hash, nil
}
