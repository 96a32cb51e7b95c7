package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jmcleod/opsvault/internal/util"
	"github.com/jmcleod/opsvault/storage"
)

const (
	recordType = "SESSION"
	aadPrefix  = "opsvault:session:v1:"
)

// PersistentStore keeps sessions in a storage.Repository, sealed with
// AES-256-GCM under a key supplied by the caller. Records are keyed by the
// SHA-256 of the session ID so the repository never holds live IDs.
type PersistentStore struct {
	repo storage.Repository
	key  []byte
	opts options
}

var _ Store = (*PersistentStore)(nil)

// NewPersistentStore returns a store sealing records with key (32 bytes).
func NewPersistentStore(repo storage.Repository, key []byte, opts ...Option) (*PersistentStore, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("session key must be exactly 32 bytes, got %d", len(key))
	}
	return &PersistentStore{
		repo: repo,
		key:  util.CopyBytes(key),
		opts: buildOptions(opts),
	}, nil
}

// Close wipes the sealing key.
func (p *PersistentStore) Close() {
	util.WipeBytes(p.key)
}

func recordID(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:])
}

func (p *PersistentStore) open(env *storage.Envelope, rid string) (Session, error) {
	var s Session
	if err := storage.OpenJSON(p.key, env, []byte(aadPrefix+rid), &s); err != nil {
		return Session{}, err
	}
	return s, nil
}

func (p *PersistentStore) Get(ctx context.Context, id string) (Session, error) {
	rid := recordID(id)
	env, err := p.repo.Get(ctx, storage.NamespaceSessions, recordType, rid)
	if errors.Is(err, storage.ErrNotFound) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("loading session: %w", err)
	}
	s, err := p.open(env, rid)
	if err != nil || s.ID != id || s.expired(p.opts.clock.Now(), p.opts.idleTimeout) {
		_ = p.repo.Delete(ctx, storage.NamespaceSessions, recordType, rid)
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (p *PersistentStore) Put(ctx context.Context, s Session) error {
	rid := recordID(s.ID)
	env, err := storage.SealJSON(p.key, []byte(aadPrefix+rid), s, 0)
	if err != nil {
		return fmt.Errorf("sealing session: %w", err)
	}
	return p.repo.Put(ctx, storage.NamespaceSessions, recordType, rid, env)
}

// Update runs fn inside a repository batch so a concurrent Destroy either
// happens before the read, and Update reports ErrNotFound, or after the
// write.
func (p *PersistentStore) Update(ctx context.Context, id string, fn func(*Session) error) (Session, error) {
	rid := recordID(id)
	var out Session
	err := p.repo.Batch(ctx, storage.NamespaceSessions, func(tx storage.BatchTx) error {
		env, err := tx.Get(recordType, rid)
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("loading session: %w", err)
		}
		s, err := p.open(env, rid)
		if err != nil || s.ID != id || s.expired(p.opts.clock.Now(), p.opts.idleTimeout) {
			return ErrNotFound
		}
		if err := fn(&s); err != nil {
			return err
		}
		s.ID = id
		sealed, err := storage.SealJSON(p.key, []byte(aadPrefix+rid), s, 0)
		if err != nil {
			return fmt.Errorf("sealing session: %w", err)
		}
		if err := tx.Put(recordType, rid, sealed); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	return out, nil
}

func (p *PersistentStore) Destroy(ctx context.Context, id string) error {
	err := p.repo.Delete(ctx, storage.NamespaceSessions, recordType, recordID(id))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

// Sweep removes expired, idle and unreadable sessions and returns how many
// were removed.
func (p *PersistentStore) Sweep(ctx context.Context) (int, error) {
	ids, err := p.repo.List(ctx, storage.NamespaceSessions, recordType)
	if err != nil {
		return 0, err
	}
	now := p.opts.clock.Now()
	removed := 0
	for _, rid := range ids {
		env, err := p.repo.Get(ctx, storage.NamespaceSessions, recordType, rid)
		if err != nil {
			continue
		}
		s, err := p.open(env, rid)
		if err == nil && !s.expired(now, p.opts.idleTimeout) {
			continue
		}
		if err := p.repo.Delete(ctx, storage.NamespaceSessions, recordType, rid); err == nil {
			removed++
		}
	}
	return removed, nil
}
