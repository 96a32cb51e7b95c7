package api

import (
	"errors"
	"net/http"

	"github.com/jmcleod/opsvault/vault"
)

// VaultStatus handles GET /vault.
func (a *API) VaultStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.vault.Status(r.Context(), sessionFromContext(r.Context()).ID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// InitVault handles POST /vault/init.
func (a *API) InitVault(w http.ResponseWriter, r *http.Request) {
	s := sessionFromContext(r.Context())
	password := r.PostFormValue("vault_password")
	if password == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "vault_password is required")
		return
	}
	if err := a.vault.Initialize(r.Context(), s.UserID, password); err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, StatusResponse{Status: "initialized"})
}

// UnlockVault handles POST /vault/unlock. Wrong passwords are throttled per
// user.
func (a *API) UnlockVault(w http.ResponseWriter, r *http.Request) {
	s := sessionFromContext(r.Context())
	if blocked, retryAfter := a.unlockLimiter.check(s.UserID); blocked {
		writeRateLimited(w, retryAfter, "too many failed unlock attempts; try again later")
		return
	}
	password := r.PostFormValue("vault_password")
	if password == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "vault_password is required")
		return
	}
	err := a.vault.Unlock(r.Context(), s.ID, password)
	if errors.Is(err, vault.ErrIncorrectVaultPassword) {
		a.unlockLimiter.recordFailure(s.UserID)
	}
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.unlockLimiter.recordSuccess(s.UserID)
	a.VaultStatus(w, r)
}

// LockVault handles POST /vault/lock.
func (a *API) LockVault(w http.ResponseWriter, r *http.Request) {
	if err := a.vault.Lock(r.Context(), sessionFromContext(r.Context()).ID); err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "locked"})
}

// RotateVault handles POST /vault/rotate. On success every other session
// is locked and the caller holds the new key.
func (a *API) RotateVault(w http.ResponseWriter, r *http.Request) {
	s := sessionFromContext(r.Context())
	oldPassword := r.PostFormValue("old_vault_password")
	newPassword := r.PostFormValue("new_vault_password")
	if oldPassword == "" || newPassword == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "old_vault_password and new_vault_password are required")
		return
	}
	if blocked, retryAfter := a.unlockLimiter.check(s.UserID); blocked {
		writeRateLimited(w, retryAfter, "too many failed unlock attempts; try again later")
		return
	}
	err := a.vault.Rotate(r.Context(), s.ID, oldPassword, newPassword)
	if errors.Is(err, vault.ErrIncorrectVaultPassword) {
		a.unlockLimiter.recordFailure(s.UserID)
	}
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "rotated"})
}
