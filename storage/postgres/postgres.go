// Package postgres implements storage.Repository on PostgreSQL via pgx.
//
// Envelope members are stored as individual columns under the composite
// key (namespace, record_type, record_id).
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/opsvault/storage"
)

const upsertSQL = `INSERT INTO opsvault_records (namespace, record_type, record_id, ver, scheme, nonce, data, tag, version)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (namespace, record_type, record_id)
	DO UPDATE SET ver = $4, scheme = $5, nonce = $6, data = $7, tag = $8, version = $9`

const selectSQL = `SELECT ver, scheme, nonce, data, tag, version FROM opsvault_records
	WHERE namespace = $1 AND record_type = $2 AND record_id = $3`

const deleteSQL = `DELETE FROM opsvault_records WHERE namespace = $1 AND record_type = $2 AND record_id = $3`

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository wraps an existing pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open connects to dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// execer covers *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func put(ctx context.Context, q execer, namespace, recordType, recordID string, env *storage.Envelope) error {
	_, err := q.Exec(ctx, upsertSQL, namespace, recordType, recordID,
		env.Ver, env.Scheme, env.Nonce, env.Data, env.Tag, int64(env.Version))
	return err
}

func get(ctx context.Context, q execer, namespace, recordType, recordID string, lock bool) (*storage.Envelope, error) {
	query := selectSQL
	if lock {
		query += " FOR UPDATE"
	}
	var (
		env     storage.Envelope
		version int64
	)
	err := q.QueryRow(ctx, query, namespace, recordType, recordID).Scan(
		&env.Ver, &env.Scheme, &env.Nonce, &env.Data, &env.Tag, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	env.Version = uint64(version)
	return &env, nil
}

func del(ctx context.Context, q execer, namespace, recordType, recordID string) error {
	tag, err := q.Exec(ctx, deleteSQL, namespace, recordType, recordID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return nil
}

func putCAS(ctx context.Context, tx pgx.Tx, namespace, recordType, recordID string, expectedVersion uint64, env *storage.Envelope) error {
	current, err := get(ctx, tx, namespace, recordType, recordID, true)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
	case err != nil:
		return err
	case expectedVersion == 0 || current.Version != expectedVersion:
		return storage.ErrCASFailed
	}
	return put(ctx, tx, namespace, recordType, recordID, env)
}

func (s *Store) Put(ctx context.Context, namespace, recordType, recordID string, envelope *storage.Envelope) error {
	return put(ctx, s.pool, namespace, recordType, recordID, envelope)
}

func (s *Store) Get(ctx context.Context, namespace, recordType, recordID string) (*storage.Envelope, error) {
	return get(ctx, s.pool, namespace, recordType, recordID, false)
}

func (s *Store) List(ctx context.Context, namespace, recordType string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record_id FROM opsvault_records WHERE namespace = $1 AND record_type = $2 ORDER BY record_id COLLATE "C"`,
		namespace, recordType)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) Delete(ctx context.Context, namespace, recordType, recordID string) error {
	return del(ctx, s.pool, namespace, recordType, recordID)
}

func (s *Store) PutCAS(ctx context.Context, namespace, recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return putCAS(ctx, tx, namespace, recordType, recordID, expectedVersion, envelope)
	})
}

// Batch runs fn in one database transaction; any error rolls it back.
func (s *Store) Batch(ctx context.Context, namespace string, fn func(tx storage.BatchTx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgBatchTx{ctx: ctx, tx: tx, namespace: namespace})
	})
}

type pgBatchTx struct {
	ctx       context.Context
	tx        pgx.Tx
	namespace string
}

var _ storage.BatchTx = (*pgBatchTx)(nil)

func (b *pgBatchTx) Get(recordType, recordID string) (*storage.Envelope, error) {
	return get(b.ctx, b.tx, b.namespace, recordType, recordID, true)
}

func (b *pgBatchTx) Put(recordType, recordID string, envelope *storage.Envelope) error {
	return put(b.ctx, b.tx, b.namespace, recordType, recordID, envelope)
}

func (b *pgBatchTx) PutCAS(recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	return putCAS(b.ctx, b.tx, b.namespace, recordType, recordID, expectedVersion, envelope)
}

func (b *pgBatchTx) Delete(recordType, recordID string) error {
	return del(b.ctx, b.tx, b.namespace, recordType, recordID)
}
