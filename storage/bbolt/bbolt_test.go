package bbolt

import (
	"path/filepath"
	"testing"

	"github.com/jmcleod/opsvault/storage"
	"github.com/jmcleod/opsvault/storage/storagetest"
)

func TestBboltRepository(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Repository {
		s, err := Open(filepath.Join(t.TempDir(), "test.db"))
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	env := &storage.Envelope{Ver: 1, Scheme: storage.SchemePlainJSON, Data: []byte(`{}`)}
	if err := s.Put(t.Context(), "ns", "CFG", "main", env); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	got, err := s.Get(t.Context(), "ns", "CFG", "main")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(got.Data) != "{}" {
		t.Errorf("unexpected data %q", got.Data)
	}
}
