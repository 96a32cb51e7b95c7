// Package sqlite implements storage.Repository on SQLite using the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/jmcleod/opsvault/storage"
)

// Store implements storage.Repository backed by a SQLite database file.
type Store struct {
	db *sql.DB
}

var _ storage.Repository = (*Store)(nil)

// Open opens or creates the database at path and runs migrations.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS records (
		namespace   TEXT    NOT NULL,
		record_type TEXT    NOT NULL,
		record_id   TEXT    NOT NULL,
		ver         INTEGER NOT NULL,
		scheme      TEXT    NOT NULL,
		nonce       BLOB,
		data        BLOB    NOT NULL,
		tag         BLOB,
		version     INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (namespace, record_type, record_id)
	)`)
	if err != nil {
		return fmt.Errorf("exec migration: %w", err)
	}
	return nil
}

// queryer covers *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func put(ctx context.Context, q queryer, namespace, recordType, recordID string, env *storage.Envelope) error {
	data := env.Data
	if data == nil {
		data = []byte{}
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO records (namespace, record_type, record_id, ver, scheme, nonce, data, tag, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (namespace, record_type, record_id)
		 DO UPDATE SET ver = excluded.ver, scheme = excluded.scheme, nonce = excluded.nonce,
		   data = excluded.data, tag = excluded.tag, version = excluded.version`,
		namespace, recordType, recordID, env.Ver, env.Scheme, env.Nonce, data, env.Tag, int64(env.Version))
	return err
}

func get(ctx context.Context, q queryer, namespace, recordType, recordID string) (*storage.Envelope, error) {
	var (
		env     storage.Envelope
		version int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT ver, scheme, nonce, data, tag, version FROM records
		 WHERE namespace = ? AND record_type = ? AND record_id = ?`,
		namespace, recordType, recordID).Scan(&env.Ver, &env.Scheme, &env.Nonce, &env.Data, &env.Tag, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	env.Version = uint64(version)
	return &env, nil
}

func del(ctx context.Context, q queryer, namespace, recordType, recordID string) error {
	res, err := q.ExecContext(ctx,
		`DELETE FROM records WHERE namespace = ? AND record_type = ? AND record_id = ?`,
		namespace, recordType, recordID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", recordType, recordID, storage.ErrNotFound)
	}
	return nil
}

func putCAS(ctx context.Context, q queryer, namespace, recordType, recordID string, expectedVersion uint64, env *storage.Envelope) error {
	current, err := get(ctx, q, namespace, recordType, recordID)
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
	return put(ctx, q, namespace, recordType, recordID, env)
}

func (s *Store) Put(ctx context.Context, namespace, recordType, recordID string, envelope *storage.Envelope) error {
	return put(ctx, s.db, namespace, recordType, recordID, envelope)
}

func (s *Store) Get(ctx context.Context, namespace, recordType, recordID string) (*storage.Envelope, error) {
	return get(ctx, s.db, namespace, recordType, recordID)
}

func (s *Store) List(ctx context.Context, namespace, recordType string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_id FROM records WHERE namespace = ? AND record_type = ? ORDER BY record_id`,
		namespace, recordType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Delete(ctx context.Context, namespace, recordType, recordID string) error {
	return del(ctx, s.db, namespace, recordType, recordID)
}

func (s *Store) PutCAS(ctx context.Context, namespace, recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	return s.Batch(ctx, namespace, func(tx storage.BatchTx) error {
		return tx.PutCAS(recordType, recordID, expectedVersion, envelope)
	})
}

// Batch runs fn inside one SQL transaction.
func (s *Store) Batch(ctx context.Context, namespace string, fn func(tx storage.BatchTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&sqliteBatchTx{ctx: ctx, tx: tx, namespace: namespace}); err != nil {
		return err
	}
	return tx.Commit()
}

type sqliteBatchTx struct {
	ctx       context.Context
	tx        *sql.Tx
	namespace string
}

func (b *sqliteBatchTx) Get(recordType, recordID string) (*storage.Envelope, error) {
	return get(b.ctx, b.tx, b.namespace, recordType, recordID)
}

func (b *sqliteBatchTx) Put(recordType, recordID string, envelope *storage.Envelope) error {
	return put(b.ctx, b.tx, b.namespace, recordType, recordID, envelope)
}

func (b *sqliteBatchTx) PutCAS(recordType, recordID string, expectedVersion uint64, envelope *storage.Envelope) error {
	return putCAS(b.ctx, b.tx, b.namespace, recordType, recordID, expectedVersion, envelope)
}

func (b *sqliteBatchTx) Delete(recordType, recordID string) error {
	return del(b.ctx, b.tx, b.namespace, recordType, recordID)
}
