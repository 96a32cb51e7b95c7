package auth

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/opsvault/audit"
	"github.com/jmcleod/opsvault/internal/clock"
	"github.com/jmcleod/opsvault/internal/util"
	"github.com/jmcleod/opsvault/session"
	"github.com/jmcleod/opsvault/storage/memory"
)

var t0 = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

type fakeVault struct {
	mu     sync.Mutex
	locked []string
}

func (f *fakeVault) Lock(_ context.Context, sessionID string) error {
	f.mu.Lock()
	f.locked = append(f.locked, sessionID)
	f.mu.Unlock()
	return nil
}

type fixture struct {
	clock    *clock.Manual
	sessions *session.MemoryStore
	audits   *audit.MemoryStore
	vault    *fakeVault
	auth     *Authenticator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newWrappedFixture(t, nil, opts...)
}

// newWrappedFixture hands the Authenticator wrap(sessions) instead of the
// bare memory store.
func newWrappedFixture(t *testing.T, wrap func(session.Store) session.Store, opts ...Option) *fixture {
	t.Helper()
	params, err := util.Argon2idProfile(util.KDFProfileInteractive)
	require.NoError(t, err)
	appKey, err := util.RandomBytes(32)
	require.NoError(t, err)

	f := &fixture{
		clock:  clock.NewManual(t0),
		audits: audit.NewMemoryStore(),
		vault:  &fakeVault{},
	}
	f.sessions = session.NewMemoryStore(session.WithClock(f.clock))
	var store session.Store = f.sessions
	if wrap != nil {
		store = wrap(f.sessions)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	base := []Option{
		WithClock(f.clock),
		WithLogger(logger),
		WithAuditor(audit.New(f.audits, audit.WithClock(f.clock), audit.WithLogger(logger))),
		WithVault(f.vault),
		WithPasswordParams(params),
	}
	f.auth, err = New(NewUserStore(memory.NewRepository()), store, appKey, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(f.auth.Close)
	return f
}

func (f *fixture) count(t *testing.T, action audit.Action) int {
	t.Helper()
	entries, err := f.audits.List(context.Background(), audit.Filter{Action: action})
	require.NoError(t, err)
	return len(entries)
}

func (f *fixture) addUser(t *testing.T, name, password string) User {
	t.Helper()
	u, err := f.auth.CreateUser(context.Background(), "", name, password)
	require.NoError(t, err)
	return u
}

func (f *fixture) login(t *testing.T, name, password, remember string) (Result, error) {
	t.Helper()
	s, err := f.auth.Begin(context.Background(), "192.0.2.1")
	require.NoError(t, err)
	return f.auth.Login(context.Background(), LoginRequest{
		SessionID:     s.ID,
		CSRFToken:     s.CSRFToken,
		Username:      name,
		Password:      password,
		RememberToken: remember,
		IPAddress:     "192.0.2.1",
	})
}

func (f *fixture) loggedIn(t *testing.T, name, password string) session.Session {
	t.Helper()
	res, err := f.login(t, name, password, "")
	require.NoError(t, err)
	require.Equal(t, session.StateAuthenticated, res.State)
	return res.Session
}

// enable2FA turns on TOTP for the logged-in session and returns the seed.
func (f *fixture) enable2FA(t *testing.T, s session.Session) string {
	t.Helper()
	ctx := context.Background()
	setup, err := f.auth.BeginSecondFactorSetup(ctx, s.ID)
	require.NoError(t, err)
	code, err := GenerateCode(setup.Secret, f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.auth.EnableSecondFactor(ctx, s.ID, code))
	return setup.Secret
}

func (f *fixture) verify(t *testing.T, res Result, code string, remember bool) (Result, error) {
	t.Helper()
	return f.auth.VerifySecondFactor(context.Background(), VerifyRequest{
		SessionID: res.Session.ID,
		CSRFToken: res.Session.CSRFToken,
		Code:      code,
		Remember:  remember,
		IPAddress: "192.0.2.1",
	})
}

func TestAdminLoginWithoutSecondFactor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "admin", "correct horse battery")

	anon, err := f.auth.Begin(ctx, "192.0.2.1")
	require.NoError(t, err)
	res, err := f.auth.Login(ctx, LoginRequest{
		SessionID: anon.ID,
		CSRFToken: anon.CSRFToken,
		Username:  "Admin",
		Password:  "correct horse battery",
		IPAddress: "192.0.2.1",
	})
	require.NoError(t, err)

	assert.Equal(t, session.StateAuthenticated, res.State)
	assert.NotEqual(t, anon.ID, res.Session.ID, "session ID rotates on login")
	assert.NotEqual(t, anon.CSRFToken, res.Session.CSRFToken)
	assert.Equal(t, MethodPassword, res.Session.SecondFactorMethod)
	assert.Equal(t, t0.Add(DefaultSessionTTL), res.Session.ExpiresAt)
	assert.Equal(t, 1, f.count(t, audit.ActionLoginSuccess))

	_, err = f.sessions.Get(ctx, anon.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)

	s, err := f.auth.Authenticate(ctx, res.Session.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, s.UserID)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "alice", "alice-password")
	f.addUser(t, "bob", "bob-password1")
	require.NoError(t, f.auth.DisableUser(context.Background(), "", "bob"))

	for _, tc := range []struct{ name, user, pass string }{
		{"unknown user", "mallory", "whatever-pass"},
		{"wrong password", "alice", "not-her-password"},
		{"disabled user", "bob", "bob-password1"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			res, err := f.login(t, tc.user, tc.pass, "")
			assert.ErrorIs(t, err, ErrInvalidCredentials)
			assert.Equal(t, "invalid credentials", err.Error())
			assert.Empty(t, res.State)
		})
	}
	assert.Equal(t, 3, f.count(t, audit.ActionLoginFailure))
	assert.Zero(t, f.count(t, audit.ActionLoginSuccess))
}

func TestLoginRequiresCSRF(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "alice", "alice-password")
	anon, err := f.auth.Begin(ctx, "")
	require.NoError(t, err)

	for _, token := range []string{"", "forged"} {
		_, err = f.auth.Login(ctx, LoginRequest{SessionID: anon.ID, CSRFToken: token, Username: "alice", Password: "alice-password"})
		assert.ErrorIs(t, err, ErrCSRFMismatch)
	}
	assert.Equal(t, 2, f.count(t, audit.ActionCSRFRejected))

	_, err = f.auth.Login(ctx, LoginRequest{SessionID: "missing", Username: "alice", Password: "alice-password"})
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestSecondFactorLogin(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "alice", "alice-password")
	seed := f.enable2FA(t, f.loggedIn(t, "alice", "alice-password"))

	f.clock.Advance(30 * time.Second)
	res, err := f.login(t, "alice", "alice-password", "")
	require.NoError(t, err)
	assert.Equal(t, session.StateAwaitingSecondFactor, res.State)
	assert.Empty(t, res.Session.UserID, "pending user is not yet the session user")
	assert.Equal(t, 1, f.count(t, audit.ActionLoginChallenge))

	_, err = f.auth.Authenticate(context.Background(), res.Session.ID)
	assert.ErrorIs(t, err, ErrSessionExpired, "challenge session is not authenticated")

	code, err := GenerateCode(seed, f.clock.Now())
	require.NoError(t, err)
	done, err := f.verify(t, res, code, false)
	require.NoError(t, err)
	assert.Equal(t, session.StateAuthenticated, done.State)
	assert.True(t, done.Session.SecondFactorSatisfied)
	assert.Equal(t, MethodTOTP, done.Session.SecondFactorMethod)
	assert.NotEqual(t, res.Session.ID, done.Session.ID)
	assert.Empty(t, done.RememberToken)
}

func TestTOTPCodeAcceptedOncePerStep(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "alice", "alice-password")
	seed := f.enable2FA(t, f.loggedIn(t, "alice", "alice-password"))

	// The setup code spent the current step.
	res, err := f.login(t, "alice", "alice-password", "")
	require.NoError(t, err)
	code, err := GenerateCode(seed, f.clock.Now())
	require.NoError(t, err)
	_, err = f.verify(t, res, code, false)
	assert.ErrorIs(t, err, ErrInvalidCode)

	f.clock.Advance(30 * time.Second)
	code, err = GenerateCode(seed, f.clock.Now())
	require.NoError(t, err)
	_, err = f.verify(t, res, code, false)
	require.NoError(t, err)

	again, err := f.login(t, "alice", "alice-password", "")
	require.NoError(t, err)
	_, err = f.verify(t, again, code, false)
	assert.ErrorIs(t, err, ErrInvalidCode, "same code replayed in the same step")

	// The previous step is inside the window but already behind the guard.
	f.clock.Advance(30 * time.Second)
	_, err = f.verify(t, again, code, false)
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestConcurrentCodeSubmissionsSpendOnce(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "alice", "alice-password")
	seed := f.enable2FA(t, f.loggedIn(t, "alice", "alice-password"))
	f.clock.Advance(30 * time.Second)
	code, err := GenerateCode(seed, f.clock.Now())
	require.NoError(t, err)

	const n = 8
	challenges := make([]Result, n)
	for i := range challenges {
		challenges[i], err = f.login(t, "alice", "alice-password", "")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for _, c := range challenges {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.verify(t, c, code, false); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
}

func TestSecondFactorMaxAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithMaxSecondFactorAttempts(3))
	f.addUser(t, "alice", "alice-password")
	f.enable2FA(t, f.loggedIn(t, "alice", "alice-password"))

	res, err := f.login(t, "alice", "alice-password", "")
	require.NoError(t, err)
	for range 2 {
		out, err := f.verify(t, res, "000000", false)
		assert.ErrorIs(t, err, ErrInvalidCode)
		assert.NotErrorIs(t, err, ErrRejected)
		assert.Equal(t, session.StateAwaitingSecondFactor, out.State)
	}
	out, err := f.verify(t, res, "000000", false)
	assert.ErrorIs(t, err, ErrInvalidCode)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, StateRejected, out.State)

	_, err = f.sessions.Get(ctx, res.Session.ID)
	assert.ErrorIs(t, err, session.ErrNotFound, "challenge session destroyed")
	assert.Equal(t, 3, f.count(t, audit.ActionSecondFactorFailure))
	assert.Equal(t, 1, f.count(t, audit.ActionLoginRejected))
}

func TestChallengeExpires(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "alice", "alice-password")
	seed := f.enable2FA(t, f.loggedIn(t, "alice", "alice-password"))

	res, err := f.login(t, "alice", "alice-password", "")
	require.NoError(t, err)
	f.clock.Advance(DefaultChallengeTTL + time.Second)
	code, err := GenerateCode(seed, f.clock.Now())
	require.NoError(t, err)
	_, err = f.verify(t, res, code, false)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestRememberDeviceSkipsSecondFactor(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, "alice", "alice-password")
	seed := f.enable2FA(t, f.loggedIn(t, "alice", "alice-password"))

	f.clock.Advance(30 * time.Second)
	res, err := f.login(t, "alice", "alice-password", "")
	require.NoError(t, err)
	code, err := GenerateCode(seed, f.clock.Now())
	require.NoError(t, err)
	done, err := f.verify(t, res, code, true)
	require.NoError(t, err)
	require.NotEmpty(t, done.RememberToken)
	assert.Equal(t, f.clock.Now().Add(RememberTTL), done.RememberExpiresAt)

	again, err := f.login(t, "alice", "alice-password", done.RememberToken)
	require.NoError(t, err)
	assert.Equal(t, session.StateAuthenticated, again.State)
	assert.Equal(t, MethodRemember, again.Session.SecondFactorMethod)

	// A remember token never stands in for the password.
	_, err = f.login(t, "alice", "wrong-password", done.RememberToken)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRememberTokenBoundToUser(t *testing.T) {
	f := newFixture(t)
	alice := f.addUser(t, "alice", "alice-password")
	f.addUser(t, "bob", "bob-password1")
	f.enable2FA(t, f.loggedIn(t, "bob", "bob-password1"))

	aliceToken, _, err := f.auth.Remember().Issue(alice)
	require.NoError(t, err)

	res, err := f.login(t, "bob", "bob-password1", aliceToken)
	require.NoError(t, err)
	assert.Equal(t, session.StateAwaitingSecondFactor, res.State)
	assert.True(t, res.ClearRememberToken)
	assert.Equal(t, 1, f.count(t, audit.ActionRememberRejected))
}

func TestRememberTokenValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.addUser(t, "alice", "alice-password")
	rm := f.auth.Remember()

	token, _, err := rm.Issue(u)
	require.NoError(t, err)
	id, ok := rm.Validate(ctx, token)
	require.True(t, ok)
	assert.Equal(t, u.ID, id)

	t.Run("tampered", func(t *testing.T) {
		parts := strings.Split(token, ".")
		require.Len(t, parts, 3)
		sig := []byte(parts[2])
		if sig[0] == 'A' {
			sig[0] = 'B'
		} else {
			sig[0] = 'A'
		}
		_, ok := rm.Validate(ctx, parts[0]+"."+parts[1]+"."+string(sig))
		assert.False(t, ok)
		_, ok = rm.Validate(ctx, "")
		assert.False(t, ok)
	})

	t.Run("other key", func(t *testing.T) {
		other := newFixture(t)
		_, ok := other.auth.Remember().Validate(ctx, token)
		assert.False(t, ok)
	})

	t.Run("expired", func(t *testing.T) {
		f.clock.Advance(RememberTTL + time.Minute)
		defer f.clock.Set(t0)
		_, ok := rm.Validate(ctx, token)
		assert.False(t, ok)
	})

	t.Run("revoked", func(t *testing.T) {
		require.NoError(t, rm.RevokeAll(ctx, u.ID))
		_, ok := rm.Validate(ctx, token)
		assert.False(t, ok)

		fresh, err := f.auth.Users().Get(ctx, u.ID)
		require.NoError(t, err)
		newToken, _, err := rm.Issue(fresh)
		require.NoError(t, err)
		_, ok = rm.Validate(ctx, newToken)
		assert.True(t, ok)
	})
}

func TestPasswordChangeRevokesRememberTokens(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.addUser(t, "alice", "alice-password")
	s := f.loggedIn(t, "alice", "alice-password")
	token, _, err := f.auth.Remember().Issue(u)
	require.NoError(t, err)

	assert.ErrorIs(t, f.auth.ChangePassword(ctx, s.ID, "wrong", "new-password-1"), ErrInvalidCredentials)
	var verr *ValidationError
	assert.ErrorAs(t, f.auth.ChangePassword(ctx, s.ID, "alice-password", "short"), &verr)

	require.NoError(t, f.auth.ChangePassword(ctx, s.ID, "alice-password", "new-password-1"))
	_, ok := f.auth.Remember().Validate(ctx, token)
	assert.False(t, ok)
	assert.Equal(t, 1, f.count(t, audit.ActionPasswordChanged))

	_, err = f.login(t, "alice", "alice-password", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	f.loggedIn(t, "alice", "new-password-1")
}

func TestDisableSecondFactor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "alice", "alice-password")
	s := f.loggedIn(t, "alice", "alice-password")
	seed := f.enable2FA(t, s)

	st, err := f.auth.SecondFactorStatus(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, st.Enabled)
	_, err = f.auth.BeginSecondFactorSetup(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSecondFactorEnabled)

	assert.ErrorIs(t, f.auth.DisableSecondFactor(ctx, s.ID, "000000"), ErrInvalidCode)

	f.clock.Advance(30 * time.Second)
	code, err := GenerateCode(seed, f.clock.Now())
	require.NoError(t, err)
	require.NoError(t, f.auth.DisableSecondFactor(ctx, s.ID, code))
	assert.Equal(t, 1, f.count(t, audit.ActionTwoFactorDisabled))

	f.loggedIn(t, "alice", "alice-password")
	assert.ErrorIs(t, f.auth.DisableSecondFactor(ctx, s.ID, code), ErrSecondFactorDisabled)
}

func TestEnableSecondFactorRequiresPendingSetup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "alice", "alice-password")
	s := f.loggedIn(t, "alice", "alice-password")

	assert.ErrorIs(t, f.auth.EnableSecondFactor(ctx, s.ID, "123456"), ErrNoPendingSetup)

	setup, err := f.auth.BeginSecondFactorSetup(ctx, s.ID)
	require.NoError(t, err)
	assert.Contains(t, setup.URL, "otpauth://totp/opsvault:alice")
	assert.ErrorIs(t, f.auth.EnableSecondFactor(ctx, s.ID, "abc"), ErrInvalidCode)

	f.clock.Advance(totpSetupTTL + time.Second)
	code, err := GenerateCode(setup.Secret, f.clock.Now())
	require.NoError(t, err)
	assert.ErrorIs(t, f.auth.EnableSecondFactor(ctx, s.ID, code), ErrNoPendingSetup)
}

func TestLogoutLocksVaultAndDestroysSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "alice", "alice-password")
	s := f.loggedIn(t, "alice", "alice-password")

	assert.ErrorIs(t, f.auth.Logout(ctx, LogoutRequest{SessionID: s.ID, CSRFToken: "nope"}), ErrCSRFMismatch)
	require.NoError(t, f.auth.Logout(ctx, LogoutRequest{SessionID: s.ID, CSRFToken: s.CSRFToken}))

	assert.Contains(t, f.vault.locked, s.ID)
	_, err := f.auth.Authenticate(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, 1, f.count(t, audit.ActionLogout))
}

// hookedStore runs hook once, right after the next Get has read its record.
type hookedStore struct {
	session.Store
	mu   sync.Mutex
	hook func()
}

func (h *hookedStore) Get(ctx context.Context, id string) (session.Session, error) {
	s, err := h.Store.Get(ctx, id)
	h.mu.Lock()
	hook := h.hook
	h.hook = nil
	h.mu.Unlock()
	if hook != nil {
		hook()
	}
	return s, err
}

func TestLogoutDuringAuthenticateIsNotUndone(t *testing.T) {
	ctx := context.Background()
	hooked := &hookedStore{}
	f := newWrappedFixture(t, func(s session.Store) session.Store {
		hooked.Store = s
		return hooked
	})
	f.addUser(t, "alice", "alice-password")
	s := f.loggedIn(t, "alice", "alice-password")

	hooked.mu.Lock()
	hooked.hook = func() {
		require.NoError(t, f.auth.Logout(ctx, LogoutRequest{SessionID: s.ID, CSRFToken: s.CSRFToken}))
	}
	hooked.mu.Unlock()

	_, err := f.auth.Authenticate(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)
	_, err = f.sessions.Get(ctx, s.ID)
	assert.ErrorIs(t, err, session.ErrNotFound, "logout stays in effect")
	assert.Contains(t, f.vault.locked, s.ID)
}

func TestLogoutDuringChallengeFailure(t *testing.T) {
	ctx := context.Background()
	hooked := &hookedStore{}
	f := newWrappedFixture(t, func(s session.Store) session.Store {
		hooked.Store = s
		return hooked
	})
	f.addUser(t, "alice", "alice-password")
	seed := f.enable2FA(t, f.loggedIn(t, "alice", "alice-password"))
	res, err := f.login(t, "alice", "alice-password", "")
	require.NoError(t, err)
	require.Equal(t, session.StateAwaitingSecondFactor, res.State)

	hooked.mu.Lock()
	hooked.hook = func() {
		require.NoError(t, f.sessions.Destroy(ctx, res.Session.ID))
	}
	hooked.mu.Unlock()

	spent, err := GenerateCode(seed, f.clock.Now())
	require.NoError(t, err)
	_, err = f.verify(t, res, spent, false)
	assert.ErrorIs(t, err, ErrSessionExpired)
	_, err = f.sessions.Get(ctx, res.Session.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestDisabledUserSessionEnds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "alice", "alice-password")
	s := f.loggedIn(t, "alice", "alice-password")

	require.NoError(t, f.auth.DisableUser(ctx, "admin", "alice"))
	_, err := f.auth.Authenticate(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Contains(t, f.vault.locked, s.ID)
	assert.Equal(t, 1, f.count(t, audit.ActionUserDisabled))
}

func TestAuthenticateTouchesSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUser(t, "alice", "alice-password")
	s := f.loggedIn(t, "alice", "alice-password")

	f.clock.Advance(time.Minute)
	got, err := f.auth.Authenticate(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Minute), got.LastAccessedAt)

	f.clock.Advance(DefaultSessionTTL)
	_, err = f.auth.Authenticate(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionExpired, "absolute lifetime")
}

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.addUser(t, "  Alice ", "alice-password")
	assert.Equal(t, "alice", u.Username)
	assert.Contains(t, u.PasswordHash, "$argon2id$")

	_, err := f.auth.CreateUser(ctx, "", "ALICE", "another-password")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	var verr *ValidationError
	_, err = f.auth.CreateUser(ctx, "", "bob", "short")
	assert.ErrorAs(t, err, &verr)
	_, err = f.auth.CreateUser(ctx, "", "a/b", "long-enough-pw")
	assert.ErrorAs(t, err, &verr)

	users, err := f.auth.Users().List(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestNewRejectsShortAppKey(t *testing.T) {
	_, err := New(NewUserStore(memory.NewRepository()), session.NewMemoryStore(), make([]byte, 16))
	assert.Error(t, err)
}

func TestDeriveSubkeyIndependence(t *testing.T) {
	key := make([]byte, 32)
	a, err := DeriveSubkey(key, PurposeTOTPSeed)
	require.NoError(t, err)
	b, err := DeriveSubkey(key, PurposeRememberToken)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 32)
}
