// Package session defines the server-side login session and the stores that
// hold it. Sessions never carry vault key material; that lives in the vault
// manager's in-process keyring.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/jmcleod/opsvault/internal/util"
)

// ErrNotFound is returned for missing, expired and idle sessions alike.
var ErrNotFound = errors.New("session not found")

// State is the authentication state of a session.
type State string

const (
	StateAnonymous            State = "anonymous"
	StateAwaitingSecondFactor State = "awaiting_second_factor"
	StateAuthenticated        State = "authenticated"
)

const (
	idBytes   = 32
	csrfBytes = 32
)

// Session is the serialisable session record.
type Session struct {
	ID              string    `json:"id"`
	State           State     `json:"state"`
	UserID          string    `json:"user_id,omitempty"`
	CSRFToken       string    `json:"csrf_token"`
	IPAddress       string    `json:"ip_address,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	AuthenticatedAt time.Time `json:"authenticated_at,omitzero"`
	LastAccessedAt  time.Time `json:"last_accessed_at"`
	ExpiresAt       time.Time `json:"expires_at"`

	SecondFactorSatisfied bool   `json:"second_factor_satisfied,omitempty"`
	SecondFactorMethod    string `json:"second_factor_method,omitempty"`

	PendingUserID      string    `json:"pending_user_id,omitempty"`
	ChallengeExpiresAt time.Time `json:"challenge_expires_at,omitzero"`
	ChallengeFailures  int       `json:"challenge_failures,omitempty"`

	PendingTOTPSeed   string    `json:"pending_totp_seed,omitempty"`
	PendingTOTPExpiry time.Time `json:"pending_totp_expiry,omitzero"`

	VaultUnlockedAt time.Time `json:"vault_unlocked_at,omitzero"`
}

// Authenticated reports whether the session has completed login.
func (s Session) Authenticated() bool {
	return s.State == StateAuthenticated && s.UserID != ""
}

// expired reports whether s is past its absolute or idle deadline.
func (s Session) expired(now time.Time, idleTimeout time.Duration) bool {
	if !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt) {
		return true
	}
	return idleTimeout > 0 && now.Sub(s.LastAccessedAt) > idleTimeout
}

// Store persists sessions by ID. Get returns ErrNotFound for sessions past
// their ExpiresAt or inactive longer than the store's idle timeout, and
// removes them. Destroy is idempotent.
//
// Put creates or replaces a record. Update modifies an existing record
// atomically: fn sees the current record and its changes are written only
// if the session still exists, otherwise Update returns ErrNotFound. An
// error from fn aborts the update and is returned as is. fn cannot change
// the ID.
type Store interface {
	Get(ctx context.Context, id string) (Session, error)
	Put(ctx context.Context, s Session) error
	Update(ctx context.Context, id string, fn func(*Session) error) (Session, error)
	Destroy(ctx context.Context, id string) error
}

// NewID returns a fresh random session identifier.
func NewID() (string, error) {
	return util.RandomToken(idBytes)
}

// NewCSRFToken returns a fresh random CSRF token.
func NewCSRFToken() (string, error) {
	return util.RandomToken(csrfBytes)
}

// VerifyCSRF compares token with the session's CSRF token in constant time.
func VerifyCSRF(s Session, token string) bool {
	if s.CSRFToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s.CSRFToken), []byte(token)) == 1
}
