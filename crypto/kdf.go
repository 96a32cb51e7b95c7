package crypto

import (
	"github.com/jmcleod/opsvault/internal/util"
)

// SaltSize is the length of installation and password salts.
const SaltSize = 16

// KDFParams configures Argon2id key derivation.
type KDFParams = util.Argon2idParams

// DefaultKDFParams returns the parameters used for new vaults.
func DefaultKDFParams() KDFParams {
	return util.DefaultArgon2idParams()
}

// ValidateKDFParams rejects parameter sets below the accepted minimums.
func ValidateKDFParams(p KDFParams) error {
	return util.ValidateArgon2idParams(p)
}

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	return util.RandomBytes(SaltSize)
}

// DeriveKey derives a 32-byte key from password and salt. The password is
// NFKD-normalized first. Callers own the returned slice and should wipe it.
func DeriveKey(password string, salt []byte, params KDFParams) ([]byte, error) {
	return util.DeriveArgon2idKey(util.Normalize(password), salt, params)
}
