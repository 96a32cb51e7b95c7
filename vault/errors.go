package vault

import (
	"errors"
	"fmt"
)

var (
	// ErrIncorrectVaultPassword indicates the vault password failed the canary check.
	ErrIncorrectVaultPassword = errors.New("incorrect vault password")
	// ErrVaultLocked indicates the session holds no vault key.
	ErrVaultLocked = errors.New("vault locked")
	// ErrNotInitialized indicates no vault configuration exists yet.
	ErrNotInitialized = errors.New("vault not initialized")
	// ErrAlreadyInitialized indicates Initialize was called on an existing vault.
	ErrAlreadyInitialized = errors.New("vault already initialized")
	// ErrSecretAbsent indicates the referenced field has no secret stored.
	ErrSecretAbsent = errors.New("secret absent")
)

// ValidationError reports malformed input such as an unknown entity type.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
