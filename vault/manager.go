// Package vault derives the vault key from the vault password, holds it per
// authenticated session, and is the only path by which a stored secret
// becomes plaintext.
//
// Key material never enters the session record. Each session ID maps to an
// in-process key slot; a slot is wiped on Lock, on logout, when the session
// disappears from the store, when it goes unused for longer than the idle
// timeout, and on rotation by another session.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/opsvault/audit"
	"github.com/jmcleod/opsvault/crypto"
	"github.com/jmcleod/opsvault/internal/clock"
	"github.com/jmcleod/opsvault/internal/util"
	"github.com/jmcleod/opsvault/session"
	"github.com/jmcleod/opsvault/storage"
)

// Manager is safe for concurrent use.
type Manager struct {
	repo     storage.Repository
	sessions session.Store
	auditor  *audit.Auditor
	logger   *slog.Logger
	clock    clock.Clock

	idleTimeout time.Duration
	kdfParams   crypto.KDFParams
	algorithm   string

	keys *keyring

	// rotation is held for writing by Rotate and for reading by every
	// operation that uses a key, so no read or write observes a half-rotated
	// vault. It is always acquired before a slot's mutex.
	rotation sync.RWMutex
}

// NewManager returns a Manager storing vault records in repo and checking
// sessions against sessions.
func NewManager(repo storage.Repository, sessions session.Store, opts ...Option) *Manager {
	m := &Manager{
		repo:        repo,
		sessions:    sessions,
		logger:      slog.Default(),
		idleTimeout: DefaultIdleTimeout,
		kdfParams:   crypto.DefaultKDFParams(),
		algorithm:   crypto.AlgAES256GCM,
		keys:        newKeyring(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.clock = clock.OrReal(m.clock)
	m.logger = m.logger.With("component", "vault")
	return m
}

// RevealRequest asks for the plaintext of one secret column.
type RevealRequest struct {
	SessionID string
	Actor     string
	IPAddress string
	Ref       Ref
}

// Status describes the vault as seen by one session.
type Status struct {
	Initialized  bool      `json:"initialized"`
	Unlocked     bool      `json:"unlocked"`
	Algorithm    string    `json:"algorithm,omitempty"`
	UnlockedAt   time.Time `json:"unlocked_at,omitzero"`
	LastUsedAt   time.Time `json:"last_used_at,omitzero"`
	IdleDeadline time.Time `json:"idle_deadline,omitzero"`
	CreatedAt    time.Time `json:"created_at,omitzero"`
	RotatedAt    time.Time `json:"rotated_at,omitzero"`
}

func (m *Manager) record(ctx context.Context, e audit.Entry) {
	// Record logs and counts its own failures.
	_ = m.auditor.Record(ctx, e)
}

// authenticatedSession loads sessionID and requires it to be logged in.
func (m *Manager) authenticatedSession(ctx context.Context, sessionID string) (session.Session, error) {
	s, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if !s.Authenticated() {
		return session.Session{}, session.ErrNotFound
	}
	return s, nil
}

// Initialize creates the vault configuration from password.
func (m *Manager) Initialize(ctx context.Context, actor, password string) error {
	if password == "" {
		return validationErrorf("vault password must not be empty")
	}
	if err := crypto.ValidateKDFParams(m.kdfParams); err != nil {
		return err
	}
	if _, err := m.loadConfig(ctx); err == nil {
		return ErrAlreadyInitialized
	} else if !errors.Is(err, ErrNotInitialized) {
		return err
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return err
	}
	key, err := crypto.DeriveKey(password, salt, m.kdfParams)
	if err != nil {
		return err
	}
	defer util.WipeBytes(key)

	cfg, err := newConfig(key, salt, m.kdfParams, m.algorithm, m.clock.Now().UTC())
	if err != nil {
		return err
	}
	env, err := storage.EncodeJSON(cfg, 1)
	if err != nil {
		return err
	}
	err = m.repo.PutCAS(ctx, storage.NamespaceVault, recordTypeConfig, recordIDCurrent, 0, env)
	if errors.Is(err, storage.ErrCASFailed) {
		return ErrAlreadyInitialized
	}
	if err != nil {
		return fmt.Errorf("storing vault config: %w", err)
	}

	m.logger.Info("vault initialized", "algorithm", cfg.Algorithm)
	m.record(ctx, audit.Entry{UserID: actor, Action: audit.ActionVaultInitialized})
	return nil
}

// Unlock derives the key for password and, if it opens the canary, stores
// it in the session's slot. On failure nothing is stored and the session
// stays locked.
func (m *Manager) Unlock(ctx context.Context, sessionID, password string) error {
	s, err := m.authenticatedSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("unlock: %w", err)
	}

	m.rotation.RLock()
	defer m.rotation.RUnlock()

	cfg, err := m.loadConfig(ctx)
	if err != nil {
		return err
	}
	key, err := crypto.DeriveKey(password, cfg.Salt, cfg.KDFParams)
	if err != nil {
		return err
	}
	if !cfg.checkCanary(key) {
		util.WipeBytes(key)
		m.record(ctx, audit.Entry{
			UserID:    s.UserID,
			Action:    audit.ActionVaultUnlockFailed,
			IPAddress: s.IPAddress,
		})
		return ErrIncorrectVaultPassword
	}

	// The key is kept only if the session still exists once it is in place.
	// Logout destroys before it locks, so it either finds this slot or makes
	// the update fail.
	now := m.clock.Now()
	slot := m.keys.lock(sessionID, true)
	slot.set(key, s.UserID, now)
	_, err = m.sessions.Update(ctx, sessionID, func(cur *session.Session) error {
		if !cur.Authenticated() || cur.UserID != s.UserID {
			return session.ErrNotFound
		}
		cur.VaultUnlockedAt = now
		return nil
	})
	if err != nil {
		slot.wipe()
		m.keys.drop(sessionID, slot)
		slot.mu.Unlock()
		return fmt.Errorf("unlock: %w", err)
	}
	slot.mu.Unlock()

	m.record(ctx, audit.Entry{UserID: s.UserID, Action: audit.ActionVaultUnlock, IPAddress: s.IPAddress})
	return nil
}

// Lock wipes the session's key. It is idempotent and audits only when a
// key was actually held.
func (m *Manager) Lock(ctx context.Context, sessionID string) error {
	userID, held := m.wipeSlot(sessionID)
	if !held {
		return nil
	}
	_, _ = m.sessions.Update(ctx, sessionID, func(s *session.Session) error {
		s.VaultUnlockedAt = time.Time{}
		return nil
	})
	m.record(ctx, audit.Entry{UserID: userID, Action: audit.ActionVaultLock})
	return nil
}

// LockAll wipes every held key.
func (m *Manager) LockAll(ctx context.Context) {
	for _, id := range m.keys.ids() {
		_ = m.Lock(ctx, id)
	}
}

func (m *Manager) wipeSlot(sessionID string) (userID string, held bool) {
	slot := m.keys.lock(sessionID, false)
	if slot == nil {
		return "", false
	}
	defer slot.mu.Unlock()
	userID = slot.userID
	held = slot.wipe()
	m.keys.drop(sessionID, slot)
	return userID, held
}

// acquire returns the session's slot with mu held and a live key, or
// ErrVaultLocked. Expired slots are wiped here.
func (m *Manager) acquire(ctx context.Context, sessionID string) (*keySlot, error) {
	slot := m.keys.lock(sessionID, false)
	if slot == nil {
		return nil, ErrVaultLocked
	}
	if slot.key == nil {
		m.keys.drop(sessionID, slot)
		slot.mu.Unlock()
		return nil, ErrVaultLocked
	}
	if reason := m.expiryReason(ctx, sessionID, slot); reason != "" {
		m.autoLock(ctx, sessionID, slot, reason)
		return nil, ErrVaultLocked
	}
	return slot, nil
}

// expiryReason says why a held key must go, or "" if it may stay. slot.mu
// must be held.
func (m *Manager) expiryReason(ctx context.Context, sessionID string, slot *keySlot) string {
	if m.idleTimeout > 0 && m.clock.Now().Sub(slot.lastUsedAt) > m.idleTimeout {
		return "idle timeout"
	}
	if _, err := m.authenticatedSession(ctx, sessionID); err != nil {
		return "session ended"
	}
	return ""
}

// autoLock wipes and unregisters slot, then releases slot.mu.
func (m *Manager) autoLock(ctx context.Context, sessionID string, slot *keySlot, reason string) {
	userID := slot.userID
	slot.wipe()
	m.keys.drop(sessionID, slot)
	slot.mu.Unlock()
	m.logger.Info("vault auto-locked", "reason", reason)
	m.record(ctx, audit.Entry{UserID: userID, Action: audit.ActionVaultAutoLock, Description: reason})
}

// Sweep wipes every key that is past the idle timeout or whose session has
// ended, and returns how many it wiped. Without it such keys are only
// wiped when their session comes back.
func (m *Manager) Sweep(ctx context.Context) int {
	wiped := 0
	for _, id := range m.keys.ids() {
		slot := m.keys.lock(id, false)
		if slot == nil {
			continue
		}
		if slot.key == nil {
			m.keys.drop(id, slot)
			slot.mu.Unlock()
			continue
		}
		reason := m.expiryReason(ctx, id, slot)
		if reason == "" {
			slot.mu.Unlock()
			continue
		}
		m.autoLock(ctx, id, slot, reason)
		wiped++
	}
	return wiped
}

// IsUnlocked reports whether the session currently holds a usable key. It
// does not count as use for the idle timeout.
func (m *Manager) IsUnlocked(ctx context.Context, sessionID string) bool {
	slot, err := m.acquire(ctx, sessionID)
	if err != nil {
		return false
	}
	slot.mu.Unlock()
	return true
}

// Reveal decrypts one secret column for an unlocked session and audits the
// disclosure before returning it. The caller owns the returned slice.
func (m *Manager) Reveal(ctx context.Context, req RevealRequest) ([]byte, error) {
	if err := req.Ref.Validate(); err != nil {
		return nil, err
	}

	m.rotation.RLock()
	defer m.rotation.RUnlock()

	slot, err := m.acquire(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer slot.mu.Unlock()

	actor := req.Actor
	if actor == "" {
		actor = slot.userID
	}
	entry := audit.Entry{
		UserID:     actor,
		EntityType: string(req.Ref.EntityType),
		EntityID:   req.Ref.EntityID,
		IPAddress:  req.IPAddress,
	}

	rec, err := m.loadField(ctx, req.Ref)
	if err != nil {
		return nil, err
	}
	plaintext, err := crypto.DecryptWithAAD(rec.Field, slot.key.Bytes(), req.Ref.aad())
	if err != nil {
		m.logger.Warn("secret decryption failed", "entity_type", string(req.Ref.EntityType), "entity_id", req.Ref.EntityID, "field", string(req.Ref.Name))
		entry.Action = audit.ActionSecretRevealFailed
		entry.Description = "field " + string(req.Ref.Name) + " could not be decrypted"
		m.record(ctx, entry)
		return nil, err
	}
	slot.lastUsedAt = m.clock.Now()

	entry.Action = audit.ActionSecretReveal
	entry.Description = "revealed " + string(req.Ref.Name)
	m.record(ctx, entry)
	return plaintext, nil
}

// Secret reports whether ref has a stored secret.
func (m *Manager) Secret(ctx context.Context, ref Ref) (SecretField, error) {
	if err := ref.Validate(); err != nil {
		return SecretField{}, err
	}
	rec, err := m.loadField(ctx, ref)
	if errors.Is(err, ErrSecretAbsent) {
		return Absent(), nil
	}
	if err != nil {
		return SecretField{}, err
	}
	return Present(rec.Field), nil
}

// StoreSecret applies upd to ref. Keep is a no-op, Clear removes the field,
// and Set encrypts the new value under the session's key.
func (m *Manager) StoreSecret(ctx context.Context, sessionID, actor string, ref Ref, upd SecretUpdate) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	entry := audit.Entry{UserID: actor, EntityType: string(ref.EntityType), EntityID: ref.EntityID}

	switch upd.Action {
	case ActionKeep:
		return nil

	case ActionClear:
		s, err := m.authenticatedSession(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("clear secret: %w", err)
		}
		if entry.UserID == "" {
			entry.UserID = s.UserID
		}
		m.rotation.RLock()
		err = m.repo.Delete(ctx, storage.NamespaceVault, recordTypeField, ref.String())
		m.rotation.RUnlock()
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("clearing secret: %w", err)
		}
		entry.Action = audit.ActionSecretCleared
		entry.IPAddress = s.IPAddress
		entry.Description = "cleared " + string(ref.Name)
		m.record(ctx, entry)
		return nil

	case ActionSet:
		m.rotation.RLock()
		defer m.rotation.RUnlock()

		slot, err := m.acquire(ctx, sessionID)
		if err != nil {
			return err
		}
		defer slot.mu.Unlock()
		if entry.UserID == "" {
			entry.UserID = slot.userID
		}

		f, err := crypto.EncryptWith(m.algorithm, upd.value, slot.key.Bytes(), ref.aad())
		if err != nil {
			return err
		}
		now := m.clock.Now()
		env, err := storage.EncodeJSON(fieldRecord{Ref: ref, Field: f, UpdatedAt: now.UTC(), UpdatedBy: entry.UserID}, 0)
		if err != nil {
			return err
		}
		if err := m.repo.Put(ctx, storage.NamespaceVault, recordTypeField, ref.String(), env); err != nil {
			return fmt.Errorf("storing secret: %w", err)
		}
		slot.lastUsedAt = now

		entry.Action = audit.ActionSecretUpdated
		entry.Description = "updated " + string(ref.Name)
		m.record(ctx, entry)
		return nil

	default:
		return validationErrorf("unknown secret action %d", int(upd.Action))
	}
}

// Status reports the vault state for sessionID.
func (m *Manager) Status(ctx context.Context, sessionID string) (Status, error) {
	cfg, err := m.loadConfig(ctx)
	if errors.Is(err, ErrNotInitialized) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Initialized: true,
		Algorithm:   cfg.Algorithm,
		CreatedAt:   cfg.CreatedAt,
		RotatedAt:   cfg.RotatedAt,
	}
	slot, err := m.acquire(ctx, sessionID)
	if err != nil {
		return st, nil
	}
	st.Unlocked = true
	st.UnlockedAt = slot.unlockedAt
	st.LastUsedAt = slot.lastUsedAt
	if m.idleTimeout > 0 {
		st.IdleDeadline = slot.lastUsedAt.Add(m.idleTimeout)
	}
	slot.mu.Unlock()
	return st, nil
}

// Initialized reports whether a vault configuration exists.
func (m *Manager) Initialized(ctx context.Context) (bool, error) {
	_, err := m.loadConfig(ctx)
	if errors.Is(err, ErrNotInitialized) {
		return false, nil
	}
	return err == nil, err
}
