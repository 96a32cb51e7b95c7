package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmcleod/opsvault/audit"
	"github.com/jmcleod/opsvault/crypto"
	"github.com/jmcleod/opsvault/internal/util"
	"github.com/jmcleod/opsvault/storage"
)

// Rotate re-keys the vault from oldPassword to newPassword under a fresh
// salt. Every field, the canary and the config are rewritten in a single
// batch: either all of them move to the new key or none do. Afterwards the
// rotating session holds the new key and every other session is locked.
func (m *Manager) Rotate(ctx context.Context, sessionID, oldPassword, newPassword string) error {
	s, err := m.authenticatedSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("rotate: %w", err)
	}
	if newPassword == "" {
		return validationErrorf("new vault password must not be empty")
	}
	if err := crypto.ValidateKDFParams(m.kdfParams); err != nil {
		return err
	}

	m.rotation.Lock()
	defer m.rotation.Unlock()

	fail := func(err error) error {
		m.record(ctx, audit.Entry{
			UserID:      s.UserID,
			Action:      audit.ActionVaultRotateFailed,
			IPAddress:   s.IPAddress,
			Description: rotateFailureReason(err),
		})
		return err
	}

	cfg, err := m.loadConfig(ctx)
	if err != nil {
		return fail(err)
	}
	oldKey, err := crypto.DeriveKey(oldPassword, cfg.Salt, cfg.KDFParams)
	if err != nil {
		return fail(err)
	}
	defer util.WipeBytes(oldKey)
	if !cfg.checkCanary(oldKey) {
		return fail(ErrIncorrectVaultPassword)
	}

	salt, err := crypto.NewSalt()
	if err != nil {
		return fail(err)
	}
	newKey, err := crypto.DeriveKey(newPassword, salt, m.kdfParams)
	if err != nil {
		return fail(err)
	}
	defer util.WipeBytes(newKey)

	now := m.clock.Now()
	newCfg, err := newConfig(newKey, salt, m.kdfParams, m.algorithm, cfg.CreatedAt)
	if err != nil {
		return fail(err)
	}
	newCfg.RotatedAt = now.UTC()

	// Writers are excluded by the rotation lock, so the ID list is stable.
	ids, err := m.repo.List(ctx, storage.NamespaceVault, recordTypeField)
	if err != nil {
		return fail(err)
	}

	err = m.repo.Batch(ctx, storage.NamespaceVault, func(tx storage.BatchTx) error {
		for _, id := range ids {
			if err := reencryptField(tx, id, oldKey, newKey, m.algorithm); err != nil {
				return fmt.Errorf("re-encrypting %s: %w", id, err)
			}
		}
		env, err := storage.EncodeJSON(newCfg, 0)
		if err != nil {
			return err
		}
		return tx.Put(recordTypeConfig, recordIDCurrent, env)
	})
	if err != nil {
		m.logger.Error("vault rotation aborted", "error", err)
		return fail(fmt.Errorf("rotating vault: %w", err))
	}

	for _, id := range m.keys.ids() {
		if id == sessionID {
			continue
		}
		if userID, held := m.wipeSlot(id); held {
			m.record(ctx, audit.Entry{UserID: userID, Action: audit.ActionVaultLock, Description: "vault password rotated"})
		}
	}

	slot := m.keys.lock(sessionID, true)
	slot.set(util.CopyBytes(newKey), s.UserID, now)
	slot.mu.Unlock()

	m.logger.Info("vault rotated", "fields", len(ids))
	m.record(ctx, audit.Entry{
		UserID:      s.UserID,
		Action:      audit.ActionVaultRotated,
		IPAddress:   s.IPAddress,
		Description: fmt.Sprintf("re-encrypted %d fields", len(ids)),
	})
	return nil
}

func reencryptField(tx storage.BatchTx, id string, oldKey, newKey []byte, alg string) error {
	env, err := tx.Get(recordTypeField, id)
	if err != nil {
		return err
	}
	var rec fieldRecord
	if err := storage.DecodeJSON(env, &rec); err != nil {
		return err
	}
	aad := rec.Ref.aad()
	plaintext, err := crypto.DecryptWithAAD(rec.Field, oldKey, aad)
	if err != nil {
		return err
	}
	defer util.WipeBytes(plaintext)

	rec.Field, err = crypto.EncryptWith(alg, plaintext, newKey, aad)
	if err != nil {
		return err
	}
	out, err := storage.EncodeJSON(rec, env.Version)
	if err != nil {
		return err
	}
	return tx.Put(recordTypeField, id, out)
}

func rotateFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrIncorrectVaultPassword):
		return "incorrect vault password"
	case errors.Is(err, ErrNotInitialized):
		return "vault not initialized"
	default:
		return "rotation aborted"
	}
}
