package memory

import (
	"testing"

	"github.com/jmcleod/opsvault/storage"
	"github.com/jmcleod/opsvault/storage/storagetest"
)

func TestMemoryRepository(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Repository {
		return NewRepository()
	})
}

func TestRollbackOfNewNamespace(t *testing.T) {
	repo := NewRepository()
	_ = repo.Batch(t.Context(), "fresh", func(tx storage.BatchTx) error {
		_ = tx.Put("ITEM", "a", &storage.Envelope{Ver: 1})
		return storage.ErrCASFailed
	})
	if _, ok := repo.data["fresh"]; ok {
		t.Error("rolled back batch should not leave an empty namespace behind")
	}
}

func TestRollbackRestoresOnlyTouchedRecords(t *testing.T) {
	ctx := t.Context()
	repo := NewRepository()
	for _, id := range []string{"a", "b", "c"} {
		if err := repo.Put(ctx, "ns", "ITEM", id, &storage.Envelope{Ver: 1}); err != nil {
			t.Fatal(err)
		}
	}
	untouched := repo.data["ns"][makeKey("ITEM", "c")]

	err := repo.Batch(ctx, "ns", func(tx storage.BatchTx) error {
		_ = tx.Put("ITEM", "a", &storage.Envelope{Ver: 2})
		_ = tx.Put("ITEM", "a", &storage.Envelope{Ver: 3})
		_ = tx.Delete("ITEM", "b")
		_ = tx.Put("ITEM", "d", &storage.Envelope{Ver: 1})
		return storage.ErrCASFailed
	})
	if err != storage.ErrCASFailed {
		t.Fatalf("Batch error = %v", err)
	}

	a, err := repo.Get(ctx, "ns", "ITEM", "a")
	if err != nil || a.Ver != 1 {
		t.Errorf("a = %+v, %v; want the pre-batch record", a, err)
	}
	if _, err := repo.Get(ctx, "ns", "ITEM", "b"); err != nil {
		t.Errorf("deleted record not restored: %v", err)
	}
	if _, err := repo.Get(ctx, "ns", "ITEM", "d"); err != storage.ErrNotFound {
		t.Errorf("record created in a failed batch survived: %v", err)
	}
	if repo.data["ns"][makeKey("ITEM", "c")] != untouched {
		t.Error("a record the batch never wrote was copied")
	}
}
