package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/opsvault/auth"
	"github.com/jmcleod/opsvault/internal/util"
	"github.com/jmcleod/opsvault/vault"
)

// resourceTypes maps URL collection names to entity types.
var resourceTypes = map[string]vault.EntityType{
	"credentials":    vault.EntityCredential,
	"databases":      vault.EntityDatabase,
	"email_accounts": vault.EntityEmailAccount,
}

// refFromRequest builds the secret reference from the {resource} and {id}
// URL parameters and the given field name.
func refFromRequest(w http.ResponseWriter, r *http.Request, field string) (vault.Ref, bool) {
	resource := chi.URLParam(r, "resource")
	et, ok := resourceTypes[resource]
	if !ok {
		writeError(w, http.StatusNotFound, CodeNotFound, "unknown resource "+resource)
		return vault.Ref{}, false
	}
	ref := vault.Ref{EntityType: et, EntityID: chi.URLParam(r, "id"), Name: vault.FieldName(field)}
	if err := ref.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return vault.Ref{}, false
	}
	return ref, true
}

func secretResponse(ref vault.Ref, sf vault.SecretField) SecretResponse {
	resp := SecretResponse{
		EntityType: string(ref.EntityType),
		EntityID:   ref.EntityID,
		Field:      string(ref.Name),
		Present:    sf.IsPresent(),
	}
	if f, ok := sf.Field(); ok {
		resp.Algorithm = f.Algorithm
	}
	return resp
}

// GetSecret handles GET /{resource}/{id}/secrets/{field}. It reports
// presence only and never needs the vault key.
func (a *API) GetSecret(w http.ResponseWriter, r *http.Request) {
	ref, ok := refFromRequest(w, r, chi.URLParam(r, "field"))
	if !ok {
		return
	}
	sf, err := a.vault.Secret(r.Context(), ref)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, secretResponse(ref, sf))
}

// PutSecret handles PUT /{resource}/{id}/secrets/{field}. The action form
// field is keep, set or clear.
func (a *API) PutSecret(w http.ResponseWriter, r *http.Request) {
	ref, ok := refFromRequest(w, r, chi.URLParam(r, "field"))
	if !ok {
		return
	}
	action, err := vault.ParseUpdateAction(r.PostFormValue("action"))
	if err != nil {
		a.mapError(w, r, err)
		return
	}

	var upd vault.SecretUpdate
	switch action {
	case vault.ActionSet:
		upd = vault.Set([]byte(r.PostFormValue("value")))
	case vault.ActionClear:
		upd = vault.Clear()
	default:
		upd = vault.Keep()
	}
	defer upd.Wipe()

	s := sessionFromContext(r.Context())
	if err := a.vault.StoreSecret(r.Context(), s.ID, s.UserID, ref, upd); err != nil {
		a.mapError(w, r, err)
		return
	}
	sf, err := a.vault.Secret(r.Context(), ref)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, secretResponse(ref, sf))
}

// reveal decrypts ref for the caller's session.
func (a *API) reveal(r *http.Request, ref vault.Ref) ([]byte, error) {
	s := sessionFromContext(r.Context())
	return a.vault.Reveal(r.Context(), vault.RevealRequest{
		SessionID: s.ID,
		Actor:     s.UserID,
		IPAddress: a.extractClientIP(r),
		Ref:       ref,
	})
}

// RevealSecret handles POST /{resource}/{id}/reveal. The field form value
// names the column.
func (a *API) RevealSecret(w http.ResponseWriter, r *http.Request) {
	field := r.PostFormValue("field")
	if field == "" {
		field = string(vault.FieldPassword)
	}
	ref, ok := refFromRequest(w, r, field)
	if !ok {
		return
	}
	plaintext, err := a.reveal(r, ref)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	defer util.WipeBytes(plaintext)

	writeJSON(w, http.StatusOK, RevealResponse{
		EntityType: string(ref.EntityType),
		EntityID:   ref.EntityID,
		Field:      string(ref.Name),
		Value:      string(plaintext),
	})
}

// CredentialTOTP handles POST /credentials/{id}/totp. The stored seed is
// revealed, used for one code and wiped.
func (a *API) CredentialTOTP(w http.ResponseWriter, r *http.Request) {
	ref := vault.Ref{EntityType: vault.EntityCredential, EntityID: chi.URLParam(r, "id"), Name: vault.FieldTOTPSeed}
	if err := ref.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	seed, err := a.reveal(r, ref)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	defer util.WipeBytes(seed)

	now := a.clock.Now()
	code, err := auth.GenerateCode(string(seed), now)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, CodeInvalidRequest, "stored TOTP seed is not valid base32")
		return
	}
	writeJSON(w, http.StatusOK, TOTPCodeResponse{
		Code:      code,
		ExpiresIn: int(auth.CodeValidFor(now).Seconds()),
	})
}
