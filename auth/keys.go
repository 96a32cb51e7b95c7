package auth

import (
	"fmt"

	"github.com/jmcleod/opsvault/internal/util"
)

// MinAppKeyLength is the shortest accepted application key.
const MinAppKeyLength = 32

// Subkey purposes derived from the application key.
const (
	PurposeTOTPSeed      = "totp-seed"
	PurposeRememberToken = "remember-token"
	PurposeSessionStore  = "session-store"
)

var subkeySalt = []byte("opsvault-app-key-v1")

// DeriveSubkey returns the 32-byte key for purpose. Distinct purposes yield
// independent keys.
func DeriveSubkey(appKey []byte, purpose string) ([]byte, error) {
	if len(appKey) < MinAppKeyLength {
		return nil, fmt.Errorf("application key must be at least %d bytes, got %d", MinAppKeyLength, len(appKey))
	}
	return util.HKDF(appKey, subkeySalt, []byte(purpose))
}
