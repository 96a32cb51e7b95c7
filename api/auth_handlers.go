package api

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"

	"github.com/jmcleod/opsvault/audit"
	"github.com/jmcleod/opsvault/auth"
	"github.com/jmcleod/opsvault/session"
)

// accountKey is the rate-limit key for a username. Raw usernames are never
// used as map keys or logged.
func accountKey(username string) string {
	sum := sha256.Sum256([]byte(auth.NormalizeUsername(username)))
	return hex.EncodeToString(sum[:])
}

// GetSession handles GET /auth/session. It returns the caller's session,
// starting an anonymous one when there is none.
func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	if id := sessionIDFromRequest(r); id != "" {
		s, err := a.auth.Session(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, sessionResponse(s))
			return
		}
		if !errors.Is(err, auth.ErrSessionExpired) {
			a.mapError(w, r, err)
			return
		}
	}
	s, err := a.auth.Begin(r.Context(), a.extractClientIP(r))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.writeSessionCookie(w, r, s)
	writeJSON(w, http.StatusOK, sessionResponse(s))
}

func sessionResponse(s session.Session) SessionResponse {
	return SessionResponse{State: s.State, CSRFToken: s.CSRFToken, ExpiresAt: s.ExpiresAt}
}

func (a *API) auditRateLimited(r *http.Request, userID, reason string) {
	_ = a.auditor.Record(r.Context(), audit.Entry{
		UserID:      userID,
		Action:      audit.ActionLoginRateLimited,
		IPAddress:   a.extractClientIP(r),
		Description: reason,
	})
}

// loginBlocked checks the global, per-IP and per-account limiters in that
// order and writes a 429 when any of them blocks.
func (a *API) loginBlocked(w http.ResponseWriter, r *http.Request, clientIP, account string) bool {
	if blocked, retryAfter := a.globalLimiter.check(); blocked {
		a.auditRateLimited(r, "", "global rate limited")
		writeRateLimited(w, retryAfter, "too many failed login attempts; try again later")
		return true
	}
	if blocked, retryAfter := a.ipLimiter.check(clientIP); blocked {
		a.auditRateLimited(r, "", "ip rate limited")
		writeRateLimited(w, retryAfter, "too many failed login attempts; try again later")
		return true
	}
	if account != "" {
		if blocked, retryAfter := a.accountLimiter.check(account); blocked {
			a.auditRateLimited(r, "", "account rate limited")
			writeRateLimited(w, retryAfter, "too many failed login attempts; try again later")
			return true
		}
	}
	return false
}

func (a *API) recordLoginFailure(clientIP, account string) {
	a.globalLimiter.recordFailure()
	a.ipLimiter.recordFailure(clientIP)
	if account != "" {
		a.accountLimiter.recordFailure(account)
	}
}

// loginResult writes the cookies and body for a completed login step.
func (a *API) loginResult(w http.ResponseWriter, r *http.Request, res auth.Result) {
	if res.State == session.StateAuthenticated {
		a.writeSessionCookie(w, r, res.Session)
	}
	if res.ClearRememberToken {
		a.clearCookie(w, r, rememberCookieName)
	}
	if res.RememberToken != "" {
		a.setCookie(w, r, rememberCookieName, res.RememberToken, res.RememberExpiresAt)
	}
	writeJSON(w, http.StatusOK, sessionResponse(res.Session))
}

// Login handles POST /login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	if !readForm(w, r) {
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")
	if username == "" || password == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "username and password are required")
		return
	}

	clientIP := a.extractClientIP(r)
	account := accountKey(username)
	if a.loginBlocked(w, r, clientIP, account) {
		return
	}

	var remember string
	if c, err := r.Cookie(rememberCookieName); err == nil {
		remember = c.Value
	}
	res, err := a.auth.Login(r.Context(), auth.LoginRequest{
		SessionID:     sessionIDFromRequest(r),
		CSRFToken:     csrfToken(r),
		Username:      username,
		Password:      password,
		RememberToken: remember,
		IPAddress:     clientIP,
	})
	if errors.Is(err, auth.ErrInvalidCredentials) {
		a.recordLoginFailure(clientIP, account)
	}
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	if res.State == session.StateAuthenticated {
		a.accountLimiter.recordSuccess(account)
		a.ipLimiter.recordSuccess(clientIP)
	}
	a.loginResult(w, r, res)
}

// VerifySecondFactor handles POST /login/2fa.
func (a *API) VerifySecondFactor(w http.ResponseWriter, r *http.Request) {
	if !readForm(w, r) {
		return
	}
	clientIP := a.extractClientIP(r)
	if a.loginBlocked(w, r, clientIP, "") {
		return
	}
	res, err := a.auth.VerifySecondFactor(r.Context(), auth.VerifyRequest{
		SessionID: sessionIDFromRequest(r),
		CSRFToken: csrfToken(r),
		Code:      r.PostFormValue("code"),
		Remember:  formBool(r, "remember_device"),
		IPAddress: clientIP,
	})
	if errors.Is(err, auth.ErrInvalidCode) {
		a.ipLimiter.recordFailure(clientIP)
	}
	if errors.Is(err, auth.ErrRejected) {
		a.clearSessionCookie(w, r)
	}
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.ipLimiter.recordSuccess(clientIP)
	a.loginResult(w, r, res)
}

// Logout handles POST /logout.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	if !readForm(w, r) {
		return
	}
	err := a.auth.Logout(r.Context(), auth.LogoutRequest{
		SessionID: sessionIDFromRequest(r),
		CSRFToken: csrfToken(r),
		IPAddress: a.extractClientIP(r),
	})
	if err != nil && !errors.Is(err, auth.ErrSessionExpired) {
		a.mapError(w, r, err)
		return
	}
	a.clearSessionCookie(w, r)
	writeJSON(w, http.StatusOK, SessionResponse{State: auth.StateLoggedOut})
}

// TwoFactorStatus handles GET /auth/2fa.
func (a *API) TwoFactorStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.auth.SecondFactorStatus(r.Context(), sessionFromContext(r.Context()).ID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// SetupTwoFactor handles POST /auth/2fa/setup.
func (a *API) SetupTwoFactor(w http.ResponseWriter, r *http.Request) {
	setup, err := a.auth.BeginSecondFactorSetup(r.Context(), sessionFromContext(r.Context()).ID)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

// EnableTwoFactor handles POST /auth/2fa/enable.
func (a *API) EnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	if err := a.auth.EnableSecondFactor(r.Context(), sessionFromContext(r.Context()).ID, r.PostFormValue("code")); err != nil {
		a.mapError(w, r, err)
		return
	}
	a.clearCookie(w, r, rememberCookieName)
	writeJSON(w, http.StatusOK, StatusResponse{Status: "enabled"})
}

// DisableTwoFactor handles POST /auth/2fa/disable.
func (a *API) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	if err := a.auth.DisableSecondFactor(r.Context(), sessionFromContext(r.Context()).ID, r.PostFormValue("code")); err != nil {
		a.mapError(w, r, err)
		return
	}
	a.clearCookie(w, r, rememberCookieName)
	writeJSON(w, http.StatusOK, StatusResponse{Status: "disabled"})
}

// ChangePassword handles POST /auth/password.
func (a *API) ChangePassword(w http.ResponseWriter, r *http.Request) {
	s := sessionFromContext(r.Context())
	err := a.auth.ChangePassword(r.Context(), s.ID, r.PostFormValue("current_password"), r.PostFormValue("new_password"))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.clearCookie(w, r, rememberCookieName)
	writeJSON(w, http.StatusOK, StatusResponse{Status: "changed"})
}
