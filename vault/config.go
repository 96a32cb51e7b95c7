package vault

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/jmcleod/opsvault/crypto"
	"github.com/jmcleod/opsvault/internal/util"
	"github.com/jmcleod/opsvault/storage"
)

const (
	configVersion = 1

	recordTypeConfig = "CONFIG"
	recordTypeField  = "FIELD"
	recordIDCurrent  = "current"
)

var (
	canaryPlaintext = []byte("opsvault vault canary v1")
	canaryAAD       = []byte("opsvault:canary:v1")
)

// Config is the installation's vault definition.
type Config struct {
	Ver       int              `json:"ver"`
	Salt      []byte           `json:"salt"`
	KDFParams crypto.KDFParams `json:"kdf_params"`
	Algorithm string           `json:"algorithm"`
	Canary    crypto.Field     `json:"canary"`
	CreatedAt time.Time        `json:"created_at"`
	RotatedAt time.Time        `json:"rotated_at,omitzero"`
}

func newConfig(key, salt []byte, params crypto.KDFParams, alg string, now time.Time) (Config, error) {
	canary, err := crypto.EncryptWith(alg, canaryPlaintext, key, canaryAAD)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Ver:       configVersion,
		Salt:      util.CopyBytes(salt),
		KDFParams: params,
		Algorithm: alg,
		Canary:    canary,
		CreatedAt: now,
	}, nil
}

// checkCanary reports whether key opens the canary to the expected text.
func (c Config) checkCanary(key []byte) bool {
	pt, err := crypto.DecryptWithAAD(c.Canary, key, canaryAAD)
	if err != nil {
		return false
	}
	defer util.WipeBytes(pt)
	return subtle.ConstantTimeCompare(pt, canaryPlaintext) == 1
}

func (c Config) validate() error {
	if c.Ver != configVersion {
		return validationErrorf("unsupported vault config version %d", c.Ver)
	}
	if len(c.Salt) != crypto.SaltSize {
		return validationErrorf("vault salt must be %d bytes", crypto.SaltSize)
	}
	if !crypto.SupportedAlgorithm(c.Algorithm) {
		return validationErrorf("unsupported vault algorithm %q", c.Algorithm)
	}
	return crypto.ValidateKDFParams(c.KDFParams)
}

func (m *Manager) loadConfig(ctx context.Context) (Config, error) {
	env, err := m.repo.Get(ctx, storage.NamespaceVault, recordTypeConfig, recordIDCurrent)
	if errors.Is(err, storage.ErrNotFound) {
		return Config{}, ErrNotInitialized
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := storage.DecodeJSON(env, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// fieldRecord is the stored form of one secret column.
type fieldRecord struct {
	Ref       Ref          `json:"ref"`
	Field     crypto.Field `json:"field"`
	UpdatedAt time.Time    `json:"updated_at"`
	UpdatedBy string       `json:"updated_by,omitempty"`
}

func (m *Manager) loadField(ctx context.Context, ref Ref) (fieldRecord, error) {
	env, err := m.repo.Get(ctx, storage.NamespaceVault, recordTypeField, ref.String())
	if errors.Is(err, storage.ErrNotFound) {
		return fieldRecord{}, ErrSecretAbsent
	}
	if err != nil {
		return fieldRecord{}, err
	}
	var rec fieldRecord
	if err := storage.DecodeJSON(env, &rec); err != nil {
		return fieldRecord{}, err
	}
	return rec, nil
}
