package audit

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/jmcleod/opsvault/storage"
)

const (
	entryRecordType = "AUDIT"
	headRecordType  = "HEAD"
	headRecordID    = "current"
)

// Store persists audit entries. Append assigns ID, Seq, PrevHash and Hash.
// List returns matching entries newest first; Entries returns the whole
// log oldest first.
type Store interface {
	Append(ctx context.Context, e Entry) (Entry, error)
	List(ctx context.Context, f Filter) ([]Entry, error)
	Entries(ctx context.Context) ([]Entry, error)
}

// Head is the latest sequence number and hash of the chain.
type Head struct {
	Seq  uint64 `json:"seq"`
	Hash string `json:"hash"`
}

func chain(e Entry, head Head) Entry {
	e.Seq = head.Seq + 1
	e.ID = fmt.Sprintf("%020d", e.Seq)
	e.PrevHash = head.Hash
	if head.Seq == 0 {
		e.PrevHash = GenesisHash
	}
	e.Hash = e.ComputeHash()
	return e
}

// RepositoryStore keeps the log in the "__audit" namespace of a
// storage.Repository. Each append writes the entry and the chain head in
// one batch.
type RepositoryStore struct {
	mu   sync.Mutex
	repo storage.Repository
}

var _ Store = (*RepositoryStore)(nil)

// NewRepositoryStore returns a Store on repo.
func NewRepositoryStore(repo storage.Repository) *RepositoryStore {
	return &RepositoryStore{repo: repo}
}

func (s *RepositoryStore) Append(ctx context.Context, e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Entry
	err := s.repo.Batch(ctx, storage.NamespaceAudit, func(tx storage.BatchTx) error {
		var head Head
		env, err := tx.Get(headRecordType, headRecordID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return err
		default:
			if err := storage.DecodeJSON(env, &head); err != nil {
				return err
			}
		}

		out = chain(e, head)
		entryEnv, err := storage.EncodeJSON(out, 0)
		if err != nil {
			return err
		}
		if err := tx.Put(entryRecordType, out.ID, entryEnv); err != nil {
			return err
		}
		headEnv, err := storage.EncodeJSON(Head{Seq: out.Seq, Hash: out.Hash}, 0)
		if err != nil {
			return err
		}
		return tx.Put(headRecordType, headRecordID, headEnv)
	})
	if err != nil {
		return Entry{}, err
	}
	return out, nil
}

// Head returns the current chain head. A fresh log has a zero Head.
func (s *RepositoryStore) Head(ctx context.Context) (Head, error) {
	env, err := s.repo.Get(ctx, storage.NamespaceAudit, headRecordType, headRecordID)
	if errors.Is(err, storage.ErrNotFound) {
		return Head{}, nil
	}
	if err != nil {
		return Head{}, err
	}
	var head Head
	if err := storage.DecodeJSON(env, &head); err != nil {
		return Head{}, err
	}
	return head, nil
}

func (s *RepositoryStore) Entries(ctx context.Context) ([]Entry, error) {
	ids, err := s.repo.List(ctx, storage.NamespaceAudit, entryRecordType)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		env, err := s.repo.Get(ctx, storage.NamespaceAudit, entryRecordType, id)
		if err != nil {
			return nil, fmt.Errorf("loading audit entry %s: %w", id, err)
		}
		var e Entry
		if err := storage.DecodeJSON(env, &e); err != nil {
			return nil, fmt.Errorf("decoding audit entry %s: %w", id, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *RepositoryStore) List(ctx context.Context, f Filter) ([]Entry, error) {
	entries, err := s.Entries(ctx)
	if err != nil {
		return nil, err
	}
	return newestFirst(entries, f), nil
}

// Verify checks the stored chain and that its tail matches the head record.
func (s *RepositoryStore) Verify(ctx context.Context) (Report, error) {
	entries, err := s.Entries(ctx)
	if err != nil {
		return Report{}, err
	}
	head, err := s.Head(ctx)
	if err != nil {
		return Report{}, err
	}
	report := VerifyChain(entries)
	report.addHeadCheck(entries, head)
	return report, nil
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, e Entry) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var head Head
	if n := len(m.entries); n > 0 {
		head = Head{Seq: m.entries[n-1].Seq, Hash: m.entries[n-1].Hash}
	}
	out := chain(e, head)
	m.entries = append(m.entries, out)
	return out, nil
}

func (m *MemoryStore) Entries(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.entries), nil
}

func (m *MemoryStore) List(ctx context.Context, f Filter) ([]Entry, error) {
	entries, _ := m.Entries(ctx)
	return newestFirst(entries, f), nil
}

func newestFirst(entries []Entry, f Filter) []Entry {
	out := make([]Entry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if f.Match(entries[i]) {
			out = append(out, entries[i])
		}
	}
	return out
}
