package api

import (
	"time"

	"github.com/jmcleod/opsvault/audit"
	"github.com/jmcleod/opsvault/session"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// SessionResponse describes the caller's session.
type SessionResponse struct {
	State     session.State `json:"state"`
	CSRFToken string        `json:"csrf_token,omitempty"`
	ExpiresAt time.Time     `json:"expires_at,omitzero"`
}

// SecretResponse reports whether a secret column holds a value.
type SecretResponse struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Field      string `json:"field"`
	Present    bool   `json:"present"`
	Algorithm  string `json:"algorithm,omitempty"`
}

// RevealResponse carries one revealed secret.
type RevealResponse struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Field      string `json:"field"`
	Value      string `json:"value"`
}

// TOTPCodeResponse is the current code for a tracked credential.
type TOTPCodeResponse struct {
	Code      string `json:"code"`
	ExpiresIn int    `json:"expires_in"`
}

// StatusResponse is a bare acknowledgement.
type StatusResponse struct {
	Status string `json:"status"`
}

// AuditListResponse is one page of audit entries, newest first.
type AuditListResponse struct {
	Entries []audit.Entry `json:"entries"`
	AuditPage
}
