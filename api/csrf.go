package api

import (
	"net/http"
)

const (
	csrfHeaderName = "X-CSRF-Token"
	csrfFormField  = "csrf_token"
)

// CSRFMiddleware checks the session's CSRF token on mutating requests. The
// token is taken from the X-CSRF-Token header or the csrf_token form field.
// It must run after AuthMiddleware.
func (a *API) CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if !readForm(w, r) {
			return
		}
		s := sessionFromContext(r.Context())
		if err := a.auth.CheckCSRF(r.Context(), s.ID, csrfToken(r), a.extractClientIP(r)); err != nil {
			a.mapError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func csrfToken(r *http.Request) string {
	if h := r.Header.Get(csrfHeaderName); h != "" {
		return h
	}
	return r.PostFormValue(csrfFormField)
}
