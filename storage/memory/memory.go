// Package memory provides an in-process storage.Repository.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/jmcleod/opsvault/storage"
)

// Repository keeps records in maps guarded by a single RWMutex. Batch
// journals the records it writes and restores them if fn fails.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]*storage.Envelope
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates an empty Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string]*storage.Envelope)}
}

func makeKey(recordType, recordID string) string {
	return recordType + ":" + recordID
}

func (r *Repository) Put(_ context.Context, namespace, recordType, recordID string, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(namespace, recordType, recordID, envelope)
	return nil
}

func (r *Repository) putLocked(namespace, recordType, recordID string, envelope *storage.Envelope) {
	ns, ok := r.data[namespace]
	if !ok {
		ns = make(map[string]*storage.Envelope)
		r.data[namespace] = ns
	}
	ns[makeKey(recordType, recordID)] = envelope.Clone()
}

func (r *Repository) Get(_ context.Context, namespace, recordType, recordID string) (*storage.Envelope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(namespace, recordType, recordID)
}

func (r *Repository) getLocked(namespace, recordType, recordID string) (*storage.Envelope, error) {
	env, ok := r.data[namespace][makeKey(recordType, recordID)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return env.Clone(), nil
}

func (r *Repository) List(_ context.Context, namespace, recordType string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	prefix := recordType + ":"
	var ids []string
	for k := range r.data[namespace] {
		if id, ok := strings.CutPrefix(k, prefix); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Repository) Delete(_ context.Context, namespace, recordType, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(namespace, recordType, recordID)
}

func (r *Repository) deleteLocked(namespace, recordType, recordID string) error {
	k := makeKey(recordType, recordID)
	if _, ok := r.data[namespace][k]; !ok {
		return storage.ErrNotFound
	}
	delete(r.data[namespace], k)
	return nil
}

func (r *Repository) PutCAS(_ context.Context, namespace, recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putCASLocked(namespace, recordType, recordID, expectedVersion, envelope)
}

func (r *Repository) putCASLocked(namespace, recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	existing, err := r.getLocked(namespace, recordType, recordID)
	switch {
	case err != nil && expectedVersion != 0:
		return storage.ErrCASFailed
	case err == nil && existing.Version != expectedVersion:
		return storage.ErrCASFailed
	case err == nil && expectedVersion == 0:
		return storage.ErrCASFailed
	}
	r.putLocked(namespace, recordType, recordID, envelope)
	return nil
}

// Batch runs fn holding the write lock. Each key is journaled the first
// time fn writes it, and on error the journal is replayed, so the cost of a
// batch follows the keys it touches and not the size of the namespace.
func (r *Repository) Batch(_ context.Context, namespace string, fn func(tx storage.BatchTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, existed := r.data[namespace]
	tx := &batchTx{repo: r, namespace: namespace, undo: make(map[string]*storage.Envelope)}
	if err := fn(tx); err != nil {
		tx.rollback(existed)
		return err
	}
	return nil
}

// Close is a no-op.
func (r *Repository) Close() error { return nil }

type batchTx struct {
	repo      *Repository
	namespace string
	// undo holds the pre-batch value of every written key, nil when the key
	// did not exist.
	undo map[string]*storage.Envelope
}

func (tx *batchTx) journal(recordType, recordID string) {
	k := makeKey(recordType, recordID)
	if _, seen := tx.undo[k]; seen {
		return
	}
	tx.undo[k] = tx.repo.data[tx.namespace][k]
}

func (tx *batchTx) rollback(namespaceExisted bool) {
	ns := tx.repo.data[tx.namespace]
	for k, prev := range tx.undo {
		if prev == nil {
			delete(ns, k)
			continue
		}
		ns[k] = prev
	}
	if !namespaceExisted && len(ns) == 0 {
		delete(tx.repo.data, tx.namespace)
	}
}

func (tx *batchTx) Get(recordType, recordID string) (*storage.Envelope, error) {
	return tx.repo.getLocked(tx.namespace, recordType, recordID)
}

func (tx *batchTx) Put(recordType, recordID string, envelope *storage.Envelope) error {
	tx.journal(recordType, recordID)
	tx.repo.putLocked(tx.namespace, recordType, recordID, envelope)
	return nil
}

func (tx *batchTx) PutCAS(recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	tx.journal(recordType, recordID)
	return tx.repo.putCASLocked(tx.namespace, recordType, recordID, expectedVersion, envelope)
}

func (tx *batchTx) Delete(recordType, recordID string) error {
	tx.journal(recordType, recordID)
	return tx.repo.deleteLocked(tx.namespace, recordType, recordID)
}
