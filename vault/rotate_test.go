package vault

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/opsvault/audit"
	"github.com/jmcleod/opsvault/crypto"
	"github.com/jmcleod/opsvault/session"
	"github.com/jmcleod/opsvault/storage"
	"github.com/jmcleod/opsvault/storage/memory"
)

// flakyRepo fails the nth FIELD write inside a batch.
type flakyRepo struct {
	storage.Repository
	failAt int32
	puts   atomic.Int32
}

var errInjected = errors.New("injected write failure")

func (r *flakyRepo) Batch(ctx context.Context, ns string, fn func(storage.BatchTx) error) error {
	return r.Repository.Batch(ctx, ns, func(tx storage.BatchTx) error {
		return fn(&flakyTx{BatchTx: tx, repo: r})
	})
}

type flakyTx struct {
	storage.BatchTx
	repo *flakyRepo
}

func (t *flakyTx) Put(recordType, id string, env *storage.Envelope) error {
	if recordType == recordTypeField && t.repo.puts.Add(1) == t.repo.failAt {
		return errInjected
	}
	return t.BatchTx.Put(recordType, id, env)
}

func seedThree(t *testing.T, f *fixture, sid string) []Ref {
	t.Helper()
	refs := []Ref{
		cred("c1", FieldPassword),
		cred("c1", FieldAPIKey),
		{EntityType: EntityEmailAccount, EntityID: "e1", Name: FieldPassword},
	}
	for i, ref := range refs {
		f.setSecret(t, sid, ref, "value-"+string(rune('a'+i)))
	}
	return refs
}

func TestRotate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.mgr.Initialize(ctx, "", "old"))
	rotator := f.login(t, "admin")
	other := f.login(t, "ops")
	require.NoError(t, f.mgr.Unlock(ctx, rotator, "old"))
	require.NoError(t, f.mgr.Unlock(ctx, other, "old"))
	refs := seedThree(t, f, rotator)

	cfgBefore, err := f.mgr.loadConfig(ctx)
	require.NoError(t, err)

	require.NoError(t, f.mgr.Rotate(ctx, rotator, "old", "new"))

	assert.True(t, f.mgr.IsUnlocked(ctx, rotator))
	assert.False(t, f.mgr.IsUnlocked(ctx, other), "other sessions are locked by rotation")

	for i, ref := range refs {
		pt, err := f.mgr.Reveal(ctx, RevealRequest{SessionID: rotator, Ref: ref})
		require.NoError(t, err)
		assert.Equal(t, "value-"+string(rune('a'+i)), string(pt))
	}

	cfgAfter, err := f.mgr.loadConfig(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, cfgBefore.Salt, cfgAfter.Salt)
	assert.Equal(t, cfgBefore.CreatedAt, cfgAfter.CreatedAt)
	assert.False(t, cfgAfter.RotatedAt.IsZero())

	assert.ErrorIs(t, f.mgr.Unlock(ctx, other, "old"), ErrIncorrectVaultPassword)
	require.NoError(t, f.mgr.Unlock(ctx, other, "new"))

	rotated := f.actions(t, audit.ActionVaultRotated)
	require.Len(t, rotated, 1)
	assert.Equal(t, "re-encrypted 3 fields", rotated[0].Description)
	locks := f.actions(t, audit.ActionVaultLock)
	require.Len(t, locks, 1)
	assert.Equal(t, "ops", locks[0].UserID)
}

func TestRotateWrongOldPassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.mgr.Initialize(ctx, "", "old"))
	sid := f.login(t, "admin")
	require.NoError(t, f.mgr.Unlock(ctx, sid, "old"))

	assert.ErrorIs(t, f.mgr.Rotate(ctx, sid, "guess", "new"), ErrIncorrectVaultPassword)
	failed := f.actions(t, audit.ActionVaultRotateFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "incorrect vault password", failed[0].Description)
	assert.True(t, f.mgr.IsUnlocked(ctx, sid))
}

func TestRotateRollsBackOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyRepo{Repository: memory.NewRepository(), failAt: 2}
	f := newFixture(t, func(f *fixture) { f.repo = flaky })
	require.NoError(t, f.mgr.Initialize(ctx, "", "old"))
	sid := f.login(t, "admin")
	other := f.login(t, "ops")
	require.NoError(t, f.mgr.Unlock(ctx, sid, "old"))
	require.NoError(t, f.mgr.Unlock(ctx, other, "old"))
	refs := seedThree(t, f, sid)

	err := f.mgr.Rotate(ctx, sid, "old", "new")
	require.ErrorIs(t, err, errInjected)

	// Every field still opens under the old key and the old password works.
	assert.True(t, f.mgr.IsUnlocked(ctx, other))
	for _, ref := range refs {
		_, err := f.mgr.Reveal(ctx, RevealRequest{SessionID: other, Ref: ref})
		require.NoError(t, err, ref.String())
	}
	fresh := f.login(t, "ops")
	require.NoError(t, f.mgr.Unlock(ctx, fresh, "old"))
	assert.ErrorIs(t, f.mgr.Unlock(ctx, f.login(t, "ops"), "new"), ErrIncorrectVaultPassword)

	failed := f.actions(t, audit.ActionVaultRotateFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "rotation aborted", failed[0].Description)
	assert.Empty(t, f.actions(t, audit.ActionVaultRotated))
}

func TestRotateAbortsOnCorruptField(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.mgr.Initialize(ctx, "", "old"))
	sid := f.login(t, "admin")
	require.NoError(t, f.mgr.Unlock(ctx, sid, "old"))
	refs := seedThree(t, f, sid)
	corruptField(t, f, refs[1])

	err := f.mgr.Rotate(ctx, sid, "old", "new")
	require.ErrorIs(t, err, crypto.ErrDecryptionFailed)
	assert.True(t, strings.Contains(err.Error(), refs[1].String()))

	pt, err := f.mgr.Reveal(ctx, RevealRequest{SessionID: sid, Ref: refs[0]})
	require.NoError(t, err)
	assert.Equal(t, "value-a", string(pt))
}

func TestRotateRequiresNewPassword(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.mgr.Initialize(ctx, "", "old"))
	sid := f.login(t, "admin")

	var verr *ValidationError
	assert.ErrorAs(t, f.mgr.Rotate(ctx, sid, "old", ""), &verr)
	assert.ErrorIs(t, f.mgr.Rotate(ctx, "nobody", "old", "new"), session.ErrNotFound)
}
