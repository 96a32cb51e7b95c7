package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcleod/opsvault/audit"
	"github.com/jmcleod/opsvault/auth"
	"github.com/jmcleod/opsvault/crypto"
	"github.com/jmcleod/opsvault/session"
	"github.com/jmcleod/opsvault/storage"
	"github.com/jmcleod/opsvault/vault"
)

// Machine-readable error codes.
const (
	CodeInvalidRequest          = "invalid_request"
	CodeInvalidCredentials      = "invalid_credentials"
	CodeInvalidCode             = "invalid_code"
	CodeSecondFactorRejected    = "second_factor_rejected"
	CodeCSRFMismatch            = "csrf_mismatch"
	CodeSessionExpired          = "session_expired"
	CodeRememberTokenInvalid    = "remember_token_invalid"
	CodeRateLimited             = "rate_limited"
	CodeUserNotFound            = "user_not_found"
	CodeUsernameTaken           = "username_taken"
	CodeNoPendingSetup          = "no_pending_setup"
	CodeSecondFactorEnabled     = "second_factor_enabled"
	CodeSecondFactorDisabled    = "second_factor_disabled"
	CodeIncorrectVaultPassword  = "incorrect_vault_password"
	CodeVaultLocked             = "vault_locked"
	CodeVaultNotInitialized     = "vault_not_initialized"
	CodeVaultAlreadyInitialized = "vault_already_initialized"
	CodeSecretAbsent            = "secret_absent"
	CodeDecryptionFailed        = "decryption_failed"
	CodeAuditUnavailable        = "audit_unavailable"
	CodeNotFound                = "not_found"
	CodeConflict                = "conflict"
	CodeInternal                = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// errorStatus maps err to an HTTP status and code. Unknown errors map to 500.
func errorStatus(err error) (int, string) {
	var authValidation *auth.ValidationError
	var vaultValidation *vault.ValidationError
	switch {
	case errors.As(err, &authValidation), errors.As(err, &vaultValidation):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, CodeInvalidCredentials
	case errors.Is(err, auth.ErrRejected):
		return http.StatusUnauthorized, CodeSecondFactorRejected
	case errors.Is(err, auth.ErrInvalidCode):
		return http.StatusUnauthorized, CodeInvalidCode
	case errors.Is(err, auth.ErrCSRFMismatch):
		return http.StatusForbidden, CodeCSRFMismatch
	case errors.Is(err, auth.ErrSessionExpired), errors.Is(err, session.ErrNotFound):
		return http.StatusUnauthorized, CodeSessionExpired
	case errors.Is(err, auth.ErrRememberTokenInvalid):
		return http.StatusUnauthorized, CodeRememberTokenInvalid
	case errors.Is(err, auth.ErrUserNotFound):
		return http.StatusNotFound, CodeUserNotFound
	case errors.Is(err, auth.ErrUsernameTaken):
		return http.StatusConflict, CodeUsernameTaken
	case errors.Is(err, auth.ErrNoPendingSetup):
		return http.StatusConflict, CodeNoPendingSetup
	case errors.Is(err, auth.ErrSecondFactorEnabled):
		return http.StatusConflict, CodeSecondFactorEnabled
	case errors.Is(err, auth.ErrSecondFactorDisabled):
		return http.StatusConflict, CodeSecondFactorDisabled
	case errors.Is(err, vault.ErrIncorrectVaultPassword):
		return http.StatusForbidden, CodeIncorrectVaultPassword
	case errors.Is(err, vault.ErrVaultLocked):
		return http.StatusLocked, CodeVaultLocked
	case errors.Is(err, vault.ErrNotInitialized):
		return http.StatusConflict, CodeVaultNotInitialized
	case errors.Is(err, vault.ErrAlreadyInitialized):
		return http.StatusConflict, CodeVaultAlreadyInitialized
	case errors.Is(err, vault.ErrSecretAbsent):
		return http.StatusNotFound, CodeSecretAbsent
	case errors.Is(err, crypto.ErrDecryptionFailed):
		return http.StatusUnprocessableEntity, CodeDecryptionFailed
	case errors.Is(err, audit.ErrAuditWriteFailed):
		return http.StatusServiceUnavailable, CodeAuditUnavailable
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, storage.ErrCASFailed):
		return http.StatusConflict, CodeConflict
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// mapError writes the response for err. Internal errors are logged and
// answered with a generic message.
func (a *API) mapError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeError(w, status, code, msg)
}
