package api

import (
	"net/http"
)

// ListAudit handles GET /audit. Entries come back newest first.
func (a *API) ListAudit(w http.ResponseWriter, r *http.Request) {
	if a.auditor == nil {
		writeError(w, http.StatusServiceUnavailable, CodeAuditUnavailable, "audit log not configured")
		return
	}
	q, err := parseAuditQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	entries, err := a.auditor.List(r.Context(), q.filter)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	page, meta := q.page(entries)
	writeJSON(w, http.StatusOK, AuditListResponse{Entries: page, AuditPage: meta})
}
