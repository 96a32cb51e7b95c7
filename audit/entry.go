// Package audit records security-relevant transitions and every secret
// disclosure in an append-only, SHA-256 hash-chained log.
package audit

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"hash"
	"time"
)

// ErrAuditWriteFailed is returned by Record when the entry could not be
// persisted.
var ErrAuditWriteFailed = errors.New("audit write failed")

// GenesisHash is the PrevHash of the first entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Action identifies the kind of audited event.
type Action string

const (
	ActionLoginSuccess        Action = "login_success"
	ActionLoginFailure        Action = "login_failure"
	ActionLoginChallenge      Action = "login_challenge"
	ActionLoginRejected       Action = "login_rejected"
	ActionLoginRateLimited    Action = "login_rate_limited"
	ActionSecondFactorFailure Action = "second_factor_failure"
	ActionLogout              Action = "logout"
	ActionCSRFRejected        Action = "csrf_rejected"
	ActionRememberRejected    Action = "remember_token_rejected"

	ActionVaultInitialized  Action = "vault_initialized"
	ActionVaultUnlock       Action = "vault_unlock"
	ActionVaultUnlockFailed Action = "vault_unlock_failed"
	ActionVaultLock         Action = "vault_lock"
	ActionVaultAutoLock     Action = "vault_auto_lock"
	ActionVaultRotated      Action = "vault_rotated"
	ActionVaultRotateFailed Action = "vault_rotate_failed"

	ActionSecretReveal       Action = "secret_reveal"
	ActionSecretRevealFailed Action = "secret_reveal_failed"
	ActionSecretUpdated      Action = "secret_updated"
	ActionSecretCleared      Action = "secret_cleared"

	ActionTwoFactorSetup    Action = "2fa_setup"
	ActionTwoFactorEnabled  Action = "2fa_enabled"
	ActionTwoFactorDisabled Action = "2fa_disabled"
	ActionPasswordChanged   Action = "password_changed"
	ActionUserCreated       Action = "user_created"
	ActionUserDisabled      Action = "user_disabled"
)

// Entry is one audit log record. Description never contains secret values.
type Entry struct {
	ID          string    `json:"id"`
	Seq         uint64    `json:"seq"`
	Timestamp   time.Time `json:"timestamp"`
	UserID      string    `json:"user_id,omitempty"`
	Action      Action    `json:"action"`
	EntityType  string    `json:"entity_type,omitempty"`
	EntityID    string    `json:"entity_id,omitempty"`
	IPAddress   string    `json:"ip_address,omitempty"`
	Description string    `json:"description,omitempty"`
	PrevHash    string    `json:"prev_hash"`
	Hash        string    `json:"hash"`
}

// ComputeHash returns the chain hash of e over every member except Hash.
func (e Entry) ComputeHash() string {
	h := sha256.New()
	writeField(h, e.ID)
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], e.Seq)
	h.Write(seq[:])
	writeField(h, e.Timestamp.UTC().Format(time.RFC3339Nano))
	writeField(h, e.UserID)
	writeField(h, string(e.Action))
	writeField(h, e.EntityType)
	writeField(h, e.EntityID)
	writeField(h, e.IPAddress)
	writeField(h, e.Description)
	writeField(h, e.PrevHash)
	return hex.EncodeToString(h.Sum(nil))
}

// writeField writes a length-prefixed string so adjacent fields cannot be
// shifted into each other.
func writeField(h hash.Hash, s string) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(s)))
	h.Write(n[:])
	h.Write([]byte(s))
}

// Filter selects entries in List. Zero members match everything.
type Filter struct {
	UserID     string
	Action     Action
	EntityType string
	EntityID   string
	Since      time.Time
	Until      time.Time
}

// Match reports whether e satisfies f.
func (f Filter) Match(e Entry) bool {
	switch {
	case f.UserID != "" && e.UserID != f.UserID:
		return false
	case f.Action != "" && e.Action != f.Action:
		return false
	case f.EntityType != "" && e.EntityType != f.EntityType:
		return false
	case f.EntityID != "" && e.EntityID != f.EntityID:
		return false
	case !f.Since.IsZero() && e.Timestamp.Before(f.Since):
		return false
	case !f.Until.IsZero() && e.Timestamp.After(f.Until):
		return false
	}
	return true
}
