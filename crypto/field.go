// Package crypto implements the field cipher used for every secret column
// at rest, the vault key derivation, and login password hashing.
//
// Nothing in this package logs. Decryption failures are collapsed into a
// single ErrDecryptionFailed so callers cannot distinguish a wrong key from
// corrupted or tampered storage.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/jmcleod/opsvault/internal/util"
)

const (
	AlgAES256GCM         = "aes-256-gcm"
	AlgXChaCha20Poly1305 = "xchacha20-poly1305"

	KeySize = 32
	TagSize = 16
)

// ErrDecryptionFailed is returned for every failure to open a Field.
var ErrDecryptionFailed = errors.New("decryption failed")

// Field is the persisted form of a secret value. A field update always
// replaces all four members together.
type Field struct {
	Algorithm  string `json:"alg"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	Tag        []byte `json:"tag"`
}

// IsZero reports whether f holds nothing at all. An encrypted empty string
// is not zero: it carries an algorithm, a nonce and a tag.
func (f Field) IsZero() bool {
	return f.Algorithm == "" && len(f.Nonce) == 0 && len(f.Ciphertext) == 0 && len(f.Tag) == 0
}

// Clone returns a deep copy of f.
func (f Field) Clone() Field {
	return Field{
		Algorithm:  f.Algorithm,
		Nonce:      util.CopyBytes(f.Nonce),
		Ciphertext: util.CopyBytes(f.Ciphertext),
		Tag:        util.CopyBytes(f.Tag),
	}
}

// Encrypt seals plaintext with AES-256-GCM under key.
func Encrypt(plaintext, key []byte) (Field, error) {
	return EncryptWith(AlgAES256GCM, plaintext, key, nil)
}

// EncryptWithAAD seals plaintext with AES-256-GCM, binding aad.
func EncryptWithAAD(plaintext, key, aad []byte) (Field, error) {
	return EncryptWith(AlgAES256GCM, plaintext, key, aad)
}

// EncryptWith seals plaintext using the named algorithm. A fresh random
// nonce is drawn for every call.
func EncryptWith(alg string, plaintext, key, aad []byte) (Field, error) {
	if len(key) != KeySize {
		return Field{}, fmt.Errorf("invalid key size: got %d, want %d", len(key), KeySize)
	}
	aead, err := newAEAD(alg, key)
	if err != nil {
		return Field{}, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Field{}, fmt.Errorf("generating nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, aad)
	split := len(sealed) - aead.Overhead()

	return Field{
		Algorithm:  alg,
		Nonce:      nonce,
		Ciphertext: util.CopyBytes(sealed[:split]),
		Tag:        util.CopyBytes(sealed[split:]),
	}, nil
}

// Decrypt opens a field sealed without additional data.
func Decrypt(f Field, key []byte) ([]byte, error) {
	return DecryptWithAAD(f, key, nil)
}

// DecryptWithAAD opens f. On any failure it returns ErrDecryptionFailed and
// a nil plaintext. A successfully opened empty secret is a non-nil empty
// slice.
func DecryptWithAAD(f Field, key, aad []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrDecryptionFailed
	}
	aead, err := newAEAD(f.Algorithm, key)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(f.Nonce) != aead.NonceSize() || len(f.Tag) != aead.Overhead() {
		return nil, ErrDecryptionFailed
	}

	buf := make([]byte, 0, len(f.Ciphertext)+len(f.Tag))
	buf = append(buf, f.Ciphertext...)
	buf = append(buf, f.Tag...)

	plaintext, err := aead.Open(nil, f.Nonce, buf, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// SupportedAlgorithm reports whether alg can be used with EncryptWith.
func SupportedAlgorithm(alg string) bool {
	return alg == AlgAES256GCM || alg == AlgXChaCha20Poly1305
}

func newAEAD(alg string, key []byte) (cipher.AEAD, error) {
	switch alg {
	case AlgAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("creating cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("creating GCM: %w", err)
		}
		return gcm, nil
	case AlgXChaCha20Poly1305:
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, fmt.Errorf("creating xchacha20-poly1305: %w", err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", alg)
	}
}
