package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/opsvault/crypto"
)

func TestSealOpenRecord(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	env, err := SealRecord(key, []byte("payload"), []byte("aad"), 3)
	require.NoError(t, err)
	assert.Equal(t, SchemeSealed, env.Scheme)
	assert.Equal(t, uint64(3), env.Version)

	pt, err := OpenRecord(key, env, []byte("aad"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(pt))

	_, err = OpenRecord(key, env, []byte("other"))
	assert.ErrorIs(t, err, crypto.ErrDecryptionFailed)
}

func TestSealJSON(t *testing.T) {
	key := bytes.Repeat([]byte{9}, 32)
	type rec struct{ Name string }
	env, err := SealJSON(key, []byte("rec"), rec{Name: "alice"}, 0)
	require.NoError(t, err)
	assert.NotContains(t, string(env.Data), "alice")

	var out rec
	require.NoError(t, OpenJSON(key, env, []byte("rec"), &out))
	assert.Equal(t, "alice", out.Name)
}

func TestSchemeMismatch(t *testing.T) {
	plain, err := EncodeJSON(map[string]int{"n": 1}, 0)
	require.NoError(t, err)
	_, err = OpenRecord(bytes.Repeat([]byte{1}, 32), plain, nil)
	assert.Error(t, err)

	sealed, err := SealRecord(bytes.Repeat([]byte{1}, 32), []byte("{}"), nil, 0)
	require.NoError(t, err)
	var v map[string]any
	assert.Error(t, DecodeJSON(sealed, &v))

	bad := plain.Clone()
	bad.Ver = 2
	assert.Error(t, DecodeJSON(bad, &v))
}
