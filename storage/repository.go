// Package storage provides the record store shared by the vault, the user
// directory, the audit log and the persistent session store.
//
// Records are addressed by (namespace, record type, record ID). A namespace
// is the unit of atomicity: Batch applies every write inside one namespace
// or none of them.
package storage

import (
	"context"
	"errors"
)

// Well-known namespaces.
const (
	NamespaceVault    = "__vault"
	NamespaceUsers    = "__users"
	NamespaceAudit    = "__audit"
	NamespaceSessions = "__sessions"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
)

// BatchTx is a transaction scoped to one namespace.
type BatchTx interface {
	Get(recordType, recordID string) (*Envelope, error)
	Put(recordType, recordID string, envelope *Envelope) error
	PutCAS(recordType, recordID string, expectedVersion uint64, envelope *Envelope) error
	Delete(recordType, recordID string) error
}

// Repository is implemented by every storage backend. List returns record
// IDs in ascending byte order.
type Repository interface {
	Put(ctx context.Context, namespace, recordType, recordID string, envelope *Envelope) error
	Get(ctx context.Context, namespace, recordType, recordID string) (*Envelope, error)
	List(ctx context.Context, namespace, recordType string) ([]string, error)
	Delete(ctx context.Context, namespace, recordType, recordID string) error
	PutCAS(ctx context.Context, namespace, recordType, recordID string, expectedVersion uint64, envelope *Envelope) error
	Batch(ctx context.Context, namespace string, fn func(tx BatchTx) error) error
	Close() error
}
