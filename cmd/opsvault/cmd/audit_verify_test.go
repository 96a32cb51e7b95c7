package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/opsvault/audit"
)

// buildChain appends n entries and returns them oldest first.
func buildChain(t *testing.T, n int) []audit.Entry {
	t.Helper()
	store := audit.NewMemoryStore()
	for i := range n {
		_, err := store.Append(context.Background(), audit.Entry{
			Timestamp:  time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
			UserID:     "user-1",
			Action:     audit.ActionSecretReveal,
			EntityType: "credential",
			EntityID:   fmt.Sprintf("cred-%d", i),
		})
		require.NoError(t, err)
	}
	entries, err := store.Entries(context.Background())
	require.NoError(t, err)
	return entries
}

func checkStatus(r audit.Report, name string) string {
	for _, c := range r.Checks {
		if c.Name == name {
			return c.Status
		}
	}
	return ""
}

func TestLoadExportAcceptsAPIResponse(t *testing.T) {
	entries := buildChain(t, 4)
	newest := slices.Clone(entries)
	slices.Reverse(newest)
	data, err := json.Marshal(map[string]any{"entries": newest, "total_count": 4})
	require.NoError(t, err)

	got, err := loadExport(data)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, uint64(1), got[0].Seq)

	r := audit.VerifyChain(got)
	assert.True(t, r.Valid)
}

func TestLoadExportAcceptsArray(t *testing.T) {
	data, err := json.Marshal(buildChain(t, 2))
	require.NoError(t, err)
	got, err := loadExport(append([]byte("\n  "), data...))
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = loadExport([]byte("{not json"))
	assert.Error(t, err)
}

func TestVerifyDetectsModifiedEntry(t *testing.T) {
	entries := buildChain(t, 5)
	entries[2].Description = "nothing to see"

	r := audit.VerifyChain(entries)
	assert.False(t, r.Valid)
	assert.Equal(t, audit.StatusFail, checkStatus(r, "entry_hashes"))
}

func TestVerifyDetectsRemovedEntry(t *testing.T) {
	entries := buildChain(t, 5)
	entries = slices.Delete(entries, 1, 2)

	r := audit.VerifyChain(entries)
	assert.False(t, r.Valid)
	assert.Equal(t, audit.StatusFail, checkStatus(r, "sequence_contiguous"))
	assert.Equal(t, audit.StatusFail, checkStatus(r, "chain_continuity"))
}

func TestPrintHumanResult(t *testing.T) {
	var buf bytes.Buffer
	printHumanResult(&buf, verifyResult{Source: "export.json", Report: audit.VerifyChain(buildChain(t, 3))})
	out := buf.String()
	assert.Contains(t, out, "Audit chain verification: export.json")
	assert.Contains(t, out, "[PASS] genesis_anchor")
	assert.Contains(t, out, "Result: VALID")

	entries := buildChain(t, 3)
	entries[0].PrevHash = "ff"
	buf.Reset()
	printHumanResult(&buf, verifyResult{Source: "bad.json", Report: audit.VerifyChain(entries)})
	assert.Contains(t, buf.String(), "[FAIL] genesis_anchor")
	assert.Contains(t, buf.String(), "Result: INVALID")
}

func TestRunVerifyFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	data, err := json.Marshal(buildChain(t, 3))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(good, data, 0o600))

	entries := buildChain(t, 3)
	entries[1].UserID = "someone-else"
	bad := filepath.Join(dir, "bad.json")
	data, err = json.Marshal(entries)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(bad, data, 0o600))

	var out bytes.Buffer
	verifyCmd.SetOut(&out)
	t.Cleanup(func() { verifyCmd.SetOut(nil) })

	require.NoError(t, runVerify(verifyCmd, []string{good}))
	assert.Contains(t, out.String(), "Result: VALID")

	out.Reset()
	assert.ErrorIs(t, runVerify(verifyCmd, []string{bad}), errReported)
	assert.Contains(t, out.String(), "Result: INVALID")

	assert.Error(t, runVerify(verifyCmd, []string{filepath.Join(dir, "missing.json")}))
}
