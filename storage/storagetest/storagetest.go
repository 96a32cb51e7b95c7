// Package storagetest holds the behaviour every storage.Repository must
// share. Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/opsvault/storage"
)

func envelope(data string, version uint64) *storage.Envelope {
	return &storage.Envelope{
		Ver:     1,
		Scheme:  storage.SchemeSealed,
		Nonce:   []byte("nonce1234567"),
		Data:    []byte(data),
		Tag:     []byte("tag4567890123456"),
		Version: version,
	}
}

// Run exercises repo. newRepo must return an empty repository.
func Run(t *testing.T, newRepo func(t *testing.T) storage.Repository) {
	ctx := context.Background()

	t.Run("PutGet", func(t *testing.T) {
		repo := newRepo(t)
		want := envelope("ciphertext", 1)
		require.NoError(t, repo.Put(ctx, "ns", "ITEM", "a", want))

		got, err := repo.Get(ctx, "ns", "ITEM", "a")
		require.NoError(t, err)
		assert.Equal(t, want, got)

		got.Data[0] = 'X'
		again, err := repo.Get(ctx, "ns", "ITEM", "a")
		require.NoError(t, err)
		assert.Equal(t, "ciphertext", string(again.Data))
	})

	t.Run("PlainEnvelope", func(t *testing.T) {
		repo := newRepo(t)
		env, err := storage.EncodeJSON(map[string]string{"k": "v"}, 0)
		require.NoError(t, err)
		require.NoError(t, repo.Put(ctx, "ns", "CFG", "main", env))

		got, err := repo.Get(ctx, "ns", "CFG", "main")
		require.NoError(t, err)
		var m map[string]string
		require.NoError(t, storage.DecodeJSON(got, &m))
		assert.Equal(t, "v", m["k"])
	})

	t.Run("NotFound", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Get(ctx, "missing", "ITEM", "a")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		require.NoError(t, repo.Put(ctx, "ns", "ITEM", "a", envelope("x", 0)))
		_, err = repo.Get(ctx, "ns", "ITEM", "b")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		_, err = repo.Get(ctx, "ns", "OTHER", "a")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		assert.ErrorIs(t, repo.Delete(ctx, "ns", "ITEM", "b"), storage.ErrNotFound)
	})

	t.Run("ListSortedAndScoped", func(t *testing.T) {
		repo := newRepo(t)
		for _, id := range []string{"003", "001", "002"} {
			require.NoError(t, repo.Put(ctx, "ns", "ITEM", id, envelope(id, 0)))
		}
		require.NoError(t, repo.Put(ctx, "ns", "ITEMS", "zzz", envelope("z", 0)))
		require.NoError(t, repo.Put(ctx, "other", "ITEM", "004", envelope("4", 0)))

		ids, err := repo.List(ctx, "ns", "ITEM")
		require.NoError(t, err)
		assert.Equal(t, []string{"001", "002", "003"}, ids)

		ids, err = repo.List(ctx, "empty", "ITEM")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("Delete", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Put(ctx, "ns", "ITEM", "a", envelope("x", 0)))
		require.NoError(t, repo.Delete(ctx, "ns", "ITEM", "a"))
		_, err := repo.Get(ctx, "ns", "ITEM", "a")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("PutCAS", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.PutCAS(ctx, "ns", "ITEM", "c", 0, envelope("v1", 1)))
		assert.ErrorIs(t, repo.PutCAS(ctx, "ns", "ITEM", "c", 0, envelope("again", 1)), storage.ErrCASFailed)
		assert.ErrorIs(t, repo.PutCAS(ctx, "ns", "ITEM", "c", 7, envelope("stale", 8)), storage.ErrCASFailed)
		require.NoError(t, repo.PutCAS(ctx, "ns", "ITEM", "c", 1, envelope("v2", 2)))
		assert.ErrorIs(t, repo.PutCAS(ctx, "ns", "ITEM", "missing", 1, envelope("x", 2)), storage.ErrCASFailed)

		got, err := repo.Get(ctx, "ns", "ITEM", "c")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), got.Version)
		assert.Equal(t, "v2", string(got.Data))
	})

	t.Run("BatchCommits", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Put(ctx, "ns", "ITEM", "old", envelope("old", 0)))
		err := repo.Batch(ctx, "ns", func(tx storage.BatchTx) error {
			got, err := tx.Get("ITEM", "old")
			if err != nil {
				return err
			}
			if err := tx.Put("ITEM", "new", envelope(string(got.Data)+"+", 0)); err != nil {
				return err
			}
			return tx.Delete("ITEM", "old")
		})
		require.NoError(t, err)

		got, err := repo.Get(ctx, "ns", "ITEM", "new")
		require.NoError(t, err)
		assert.Equal(t, "old+", string(got.Data))
		_, err = repo.Get(ctx, "ns", "ITEM", "old")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("BatchRollsBack", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Put(ctx, "ns", "ITEM", "keep", envelope("original", 0)))
		boom := errors.New("boom")
		err := repo.Batch(ctx, "ns", func(tx storage.BatchTx) error {
			for i := range 3 {
				if err := tx.Put("ITEM", fmt.Sprintf("n%d", i), envelope("x", 0)); err != nil {
					return err
				}
			}
			if err := tx.Put("ITEM", "keep", envelope("changed", 0)); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := repo.Get(ctx, "ns", "ITEM", "keep")
		require.NoError(t, err)
		assert.Equal(t, "original", string(got.Data))
		ids, err := repo.List(ctx, "ns", "ITEM")
		require.NoError(t, err)
		assert.Equal(t, []string{"keep"}, ids)
	})

	t.Run("BatchCASConflictRollsBack", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Put(ctx, "ns", "ITEM", "c", envelope("v3", 3)))
		err := repo.Batch(ctx, "ns", func(tx storage.BatchTx) error {
			if err := tx.Put("ITEM", "side", envelope("x", 0)); err != nil {
				return err
			}
			return tx.PutCAS("ITEM", "c", 2, envelope("v4", 4))
		})
		assert.ErrorIs(t, err, storage.ErrCASFailed)
		_, err = repo.Get(ctx, "ns", "ITEM", "side")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
