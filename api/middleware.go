package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jmcleod/opsvault/session"
)

type contextKey int

const sessionKey contextKey = iota

const (
	sessionCookieName  = "opsvault_session"
	rememberCookieName = "opsvault_remember"

	maxFormBodySize = 64 << 10
)

// AuthMiddleware requires an authenticated session cookie and stores the
// session on the request context.
func (a *API) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := sessionIDFromRequest(r)
		if id == "" {
			writeError(w, http.StatusUnauthorized, CodeSessionExpired, "authentication required")
			return
		}
		s, err := a.auth.Authenticate(r.Context(), id)
		if err != nil {
			status, _ := errorStatus(err)
			if status == http.StatusUnauthorized {
				a.clearSessionCookie(w, r)
			}
			a.mapError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey, s)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) session.Session {
	s, _ := ctx.Value(sessionKey).(session.Session)
	return s
}

func sessionIDFromRequest(r *http.Request) string {
	c, err := r.Cookie(sessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// readForm parses the request body as a form, bounded in size.
func readForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBodySize)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid form body")
		return false
	}
	return true
}

func formBool(r *http.Request, name string) bool {
	switch strings.ToLower(r.PostFormValue(name)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

func (a *API) setCookie(w http.ResponseWriter, r *http.Request, name, value string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secureCookies || requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

func (a *API) clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secureCookies || requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func (a *API) writeSessionCookie(w http.ResponseWriter, r *http.Request, s session.Session) {
	a.setCookie(w, r, sessionCookieName, s.ID, s.ExpiresAt)
}

func (a *API) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	a.clearCookie(w, r, sessionCookieName)
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
