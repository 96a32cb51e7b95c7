// Package auth runs the login state machine: password check, optional TOTP
// second factor, remember-device tokens, session establishment, logout and
// CSRF enforcement. It also owns the user directory and account settings.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/opsvault/audit"
	"github.com/jmcleod/opsvault/crypto"
	"github.com/jmcleod/opsvault/internal/clock"
	"github.com/jmcleod/opsvault/internal/util"
	"github.com/jmcleod/opsvault/session"
)

// Terminal login results that are not session states.
const (
	StateRejected  session.State = "rejected"
	StateLoggedOut session.State = "logged_out"
)

// Second-factor methods recorded on the session and in the audit log.
const (
	MethodPassword = "password"
	MethodTOTP     = "totp"
	MethodRemember = "remember"
)

// Authenticator is safe for concurrent use.
type Authenticator struct {
	users    *UserStore
	sessions session.Store
	remember *RememberManager
	seedKey  *memguard.LockedBuffer
	vault    VaultLocker
	auditor  *audit.Auditor
	logger   *slog.Logger
	clock    clock.Clock

	sessionTTL     time.Duration
	challengeTTL   time.Duration
	maxAttempts    int
	passwordParams crypto.KDFParams
}

// New returns an Authenticator. appKey is the application secret from
// which the TOTP seed key and remember-token key are derived.
func New(users *UserStore, sessions session.Store, appKey []byte, opts ...Option) (*Authenticator, error) {
	a := &Authenticator{
		users:          users,
		sessions:       sessions,
		logger:         slog.Default(),
		sessionTTL:     DefaultSessionTTL,
		challengeTTL:   DefaultChallengeTTL,
		maxAttempts:    DefaultMaxSecondFactorAttempts,
		passwordParams: crypto.DefaultKDFParams(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.clock = clock.OrReal(a.clock)
	a.logger = a.logger.With("component", "auth")
	if err := crypto.ValidateKDFParams(a.passwordParams); err != nil {
		return nil, err
	}

	seedKey, err := DeriveSubkey(appKey, PurposeTOTPSeed)
	if err != nil {
		return nil, err
	}
	rememberKey, err := DeriveSubkey(appKey, PurposeRememberToken)
	if err != nil {
		util.WipeBytes(seedKey)
		return nil, err
	}
	a.remember, err = NewRememberManager(rememberKey, users, a.clock)
	if err != nil {
		util.WipeBytes(seedKey)
		return nil, err
	}
	a.seedKey = memguard.NewBufferFromBytes(seedKey)
	return a, nil
}

// Close destroys the derived keys.
func (a *Authenticator) Close() {
	a.seedKey.Destroy()
	a.remember.Close()
}

// Users returns the user directory.
func (a *Authenticator) Users() *UserStore { return a.users }

// Remember returns the remember-device token manager.
func (a *Authenticator) Remember() *RememberManager { return a.remember }

// LoginRequest carries the login form.
type LoginRequest struct {
	SessionID     string
	CSRFToken     string
	Username      string
	Password      string
	RememberToken string
	IPAddress     string
}

// VerifyRequest carries the second-factor form.
type VerifyRequest struct {
	SessionID string
	CSRFToken string
	Code      string
	Remember  bool
	IPAddress string
}

// LogoutRequest carries the logout form.
type LogoutRequest struct {
	SessionID string
	CSRFToken string
	IPAddress string
}

// Result is the outcome of a login step. Session is the session the client
// must use from now on; its ID differs from the request's once the login
// completes.
type Result struct {
	State             session.State
	Session           session.Session
	RememberToken     string
	RememberExpiresAt time.Time
	// ClearRememberToken is set when the presented remember token was
	// rejected and should be removed from the client.
	ClearRememberToken bool
}

func (a *Authenticator) record(ctx context.Context, e audit.Entry) {
	_ = a.auditor.Record(ctx, e)
}

// Begin creates an anonymous session carrying a fresh CSRF token.
func (a *Authenticator) Begin(ctx context.Context, ip string) (session.Session, error) {
	id, err := session.NewID()
	if err != nil {
		return session.Session{}, err
	}
	csrf, err := session.NewCSRFToken()
	if err != nil {
		return session.Session{}, err
	}
	now := a.clock.Now().UTC()
	s := session.Session{
		ID:             id,
		State:          session.StateAnonymous,
		CSRFToken:      csrf,
		IPAddress:      ip,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(a.sessionTTL),
	}
	if err := a.sessions.Put(ctx, s); err != nil {
		return session.Session{}, fmt.Errorf("storing session: %w", err)
	}
	return s, nil
}

// load returns the session or ErrSessionExpired.
func (a *Authenticator) load(ctx context.Context, sessionID string) (session.Session, error) {
	if sessionID == "" {
		return session.Session{}, ErrSessionExpired
	}
	s, err := a.sessions.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return session.Session{}, ErrSessionExpired
	}
	if err != nil {
		return session.Session{}, err
	}
	return s, nil
}

// Session returns the session for sessionID in whatever state it is in.
func (a *Authenticator) Session(ctx context.Context, sessionID string) (session.Session, error) {
	return a.load(ctx, sessionID)
}

// checkCSRF compares token to the session's and audits a mismatch.
func (a *Authenticator) checkCSRF(ctx context.Context, s session.Session, token, ip string) error {
	if session.VerifyCSRF(s, token) {
		return nil
	}
	a.record(ctx, audit.Entry{UserID: s.UserID, Action: audit.ActionCSRFRejected, IPAddress: ip})
	return ErrCSRFMismatch
}

// CheckCSRF verifies token against the session's CSRF token.
func (a *Authenticator) CheckCSRF(ctx context.Context, sessionID, token, ip string) error {
	s, err := a.load(ctx, sessionID)
	if err != nil {
		return err
	}
	return a.checkCSRF(ctx, s, token, ip)
}

// Login checks the username and password. Users without a second factor,
// or presenting a valid remember token for themselves, are authenticated
// immediately; everyone else receives a second-factor challenge.
func (a *Authenticator) Login(ctx context.Context, req LoginRequest) (Result, error) {
	s, err := a.load(ctx, req.SessionID)
	if err != nil {
		return Result{}, err
	}
	if err := a.checkCSRF(ctx, s, req.CSRFToken, req.IPAddress); err != nil {
		return Result{}, err
	}

	u, err := a.users.ByUsername(ctx, req.Username)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return Result{}, err
	}
	if err != nil || u.Disabled {
		crypto.DummyVerify(req.Password, a.passwordParams)
		reason := "unknown user"
		if err == nil {
			reason = "user disabled"
		}
		a.record(ctx, audit.Entry{UserID: u.ID, Action: audit.ActionLoginFailure, IPAddress: req.IPAddress, Description: reason})
		return Result{}, ErrInvalidCredentials
	}
	ok, err := crypto.VerifyPassword(req.Password, u.PasswordHash)
	if err != nil {
		a.logger.Error("stored password hash unreadable", "user_id", u.ID, "error", err)
	}
	if err != nil || !ok {
		a.record(ctx, audit.Entry{UserID: u.ID, Action: audit.ActionLoginFailure, IPAddress: req.IPAddress, Description: "wrong password"})
		return Result{}, ErrInvalidCredentials
	}

	if !u.SecondFactorEnabled {
		return a.complete(ctx, s, u, MethodPassword, req.IPAddress)
	}

	var clearRemember bool
	if req.RememberToken != "" {
		userID, valid := a.remember.Validate(ctx, req.RememberToken)
		if valid && userID == u.ID {
			return a.complete(ctx, s, u, MethodRemember, req.IPAddress)
		}
		clearRemember = true
		a.record(ctx, audit.Entry{UserID: u.ID, Action: audit.ActionRememberRejected, IPAddress: req.IPAddress})
	}

	now := a.clock.Now().UTC()
	s, err = a.sessions.Update(ctx, s.ID, func(cur *session.Session) error {
		cur.State = session.StateAwaitingSecondFactor
		cur.UserID = ""
		cur.PendingUserID = u.ID
		cur.ChallengeExpiresAt = now.Add(a.challengeTTL)
		cur.ChallengeFailures = 0
		cur.LastAccessedAt = now
		return nil
	})
	if errors.Is(err, session.ErrNotFound) {
		return Result{}, ErrSessionExpired
	}
	if err != nil {
		return Result{}, fmt.Errorf("storing session: %w", err)
	}
	a.record(ctx, audit.Entry{UserID: u.ID, Action: audit.ActionLoginChallenge, IPAddress: req.IPAddress})
	return Result{State: s.State, Session: s, ClearRememberToken: clearRemember}, nil
}

// VerifySecondFactor checks a TOTP code against a pending challenge. A code
// is accepted only for a time step later than the last one the user spent.
func (a *Authenticator) VerifySecondFactor(ctx context.Context, req VerifyRequest) (Result, error) {
	s, err := a.load(ctx, req.SessionID)
	if err != nil {
		return Result{}, err
	}
	if err := a.checkCSRF(ctx, s, req.CSRFToken, req.IPAddress); err != nil {
		return Result{}, err
	}
	if s.State != session.StateAwaitingSecondFactor || s.PendingUserID == "" {
		return Result{}, ErrSessionExpired
	}
	now := a.clock.Now()
	if now.After(s.ChallengeExpiresAt) {
		_ = a.sessions.Destroy(ctx, s.ID)
		return Result{}, ErrSessionExpired
	}

	u, err := a.users.Get(ctx, s.PendingUserID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return Result{}, err
	}
	if err != nil || u.Disabled || !u.SecondFactorEnabled {
		_ = a.sessions.Destroy(ctx, s.ID)
		return Result{}, ErrInvalidCredentials
	}

	u, err = a.spendCode(ctx, u.ID, req.Code, now)
	if errors.Is(err, ErrInvalidCode) {
		return a.failChallenge(ctx, s, req.IPAddress)
	}
	if err != nil {
		return Result{}, err
	}

	res, err := a.complete(ctx, s, u, MethodTOTP, req.IPAddress)
	if err != nil {
		return Result{}, err
	}
	if req.Remember {
		token, exp, err := a.remember.Issue(u)
		if err != nil {
			a.logger.Error("issuing remember token failed", "user_id", u.ID, "error", err)
		} else {
			res.RememberToken, res.RememberExpiresAt = token, exp
		}
	}
	return res, nil
}

// spendCode verifies code for the user and advances LastTOTPStep in the
// same compare-and-swap write, so a code is accepted at most once per step
// even under concurrent submissions.
func (a *Authenticator) spendCode(ctx context.Context, userID, code string, now time.Time) (User, error) {
	return a.users.Modify(ctx, userID, now, func(u *User) error {
		seed, err := a.openSeed(*u)
		if err != nil {
			return err
		}
		step, ok := matchStep(seed, code, now)
		if !ok || step <= u.LastTOTPStep {
			return ErrInvalidCode
		}
		u.LastTOTPStep = step
		return nil
	})
}

func (a *Authenticator) failChallenge(ctx context.Context, s session.Session, ip string) (Result, error) {
	s, err := a.sessions.Update(ctx, s.ID, func(cur *session.Session) error {
		if cur.State != session.StateAwaitingSecondFactor {
			return session.ErrNotFound
		}
		cur.ChallengeFailures++
		return nil
	})
	if errors.Is(err, session.ErrNotFound) {
		return Result{}, ErrSessionExpired
	}
	if err != nil {
		return Result{}, fmt.Errorf("storing session: %w", err)
	}
	a.record(ctx, audit.Entry{
		UserID:      s.PendingUserID,
		Action:      audit.ActionSecondFactorFailure,
		IPAddress:   ip,
		Description: fmt.Sprintf("attempt %d of %d", s.ChallengeFailures, a.maxAttempts),
	})
	if s.ChallengeFailures >= a.maxAttempts {
		if err := a.sessions.Destroy(ctx, s.ID); err != nil {
			return Result{}, fmt.Errorf("destroying session: %w", err)
		}
		a.record(ctx, audit.Entry{UserID: s.PendingUserID, Action: audit.ActionLoginRejected, IPAddress: ip})
		return Result{State: StateRejected}, fmt.Errorf("%w: %w", ErrInvalidCode, ErrRejected)
	}
	return Result{State: s.State, Session: s}, ErrInvalidCode
}

// complete replaces the pre-login session with a fresh authenticated one.
func (a *Authenticator) complete(ctx context.Context, old session.Session, u User, method, ip string) (Result, error) {
	id, err := session.NewID()
	if err != nil {
		return Result{}, err
	}
	csrf, err := session.NewCSRFToken()
	if err != nil {
		return Result{}, err
	}
	now := a.clock.Now().UTC()
	s := session.Session{
		ID:                    id,
		State:                 session.StateAuthenticated,
		UserID:                u.ID,
		CSRFToken:             csrf,
		IPAddress:             ip,
		CreatedAt:             now,
		AuthenticatedAt:       now,
		LastAccessedAt:        now,
		ExpiresAt:             now.Add(a.sessionTTL),
		SecondFactorSatisfied: method != MethodPassword,
		SecondFactorMethod:    method,
	}
	if err := a.sessions.Put(ctx, s); err != nil {
		return Result{}, fmt.Errorf("storing session: %w", err)
	}
	if a.vault != nil {
		_ = a.vault.Lock(ctx, old.ID)
	}
	if err := a.sessions.Destroy(ctx, old.ID); err != nil {
		a.logger.Warn("destroying pre-login session failed", "error", err)
	}
	a.record(ctx, audit.Entry{UserID: u.ID, Action: audit.ActionLoginSuccess, IPAddress: ip, Description: "method=" + method})
	return Result{State: s.State, Session: s}, nil
}

// Logout locks the session's vault and destroys it.
func (a *Authenticator) Logout(ctx context.Context, req LogoutRequest) error {
	s, err := a.load(ctx, req.SessionID)
	if err != nil {
		return err
	}
	if err := a.checkCSRF(ctx, s, req.CSRFToken, req.IPAddress); err != nil {
		return err
	}
	// Destroy first: an unlock still in flight then either has its key
	// wiped by the Lock below or fails to record itself on the session.
	destroyErr := a.sessions.Destroy(ctx, s.ID)
	if a.vault != nil {
		if err := a.vault.Lock(ctx, s.ID); err != nil {
			a.logger.Warn("locking vault on logout failed", "error", err)
		}
	}
	if destroyErr != nil {
		return fmt.Errorf("destroying session: %w", destroyErr)
	}
	a.record(ctx, audit.Entry{UserID: s.UserID, Action: audit.ActionLogout, IPAddress: req.IPAddress})
	return nil
}

// Authenticate returns the logged-in session for sessionID and marks it
// accessed. Sessions of disabled users are ended.
func (a *Authenticator) Authenticate(ctx context.Context, sessionID string) (session.Session, error) {
	s, err := a.load(ctx, sessionID)
	if err != nil {
		return session.Session{}, err
	}
	if !s.Authenticated() {
		return session.Session{}, ErrSessionExpired
	}
	u, err := a.users.Get(ctx, s.UserID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return session.Session{}, err
	}
	if err != nil || u.Disabled {
		_ = a.sessions.Destroy(ctx, s.ID)
		if a.vault != nil {
			_ = a.vault.Lock(ctx, s.ID)
		}
		return session.Session{}, ErrSessionExpired
	}
	now := a.clock.Now().UTC()
	s, err = a.sessions.Update(ctx, sessionID, func(cur *session.Session) error {
		if !cur.Authenticated() {
			return session.ErrNotFound
		}
		cur.LastAccessedAt = now
		return nil
	})
	if errors.Is(err, session.ErrNotFound) {
		return session.Session{}, ErrSessionExpired
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("storing session: %w", err)
	}
	return s, nil
}

func (a *Authenticator) seedAAD(userID string) []byte {
	return []byte("opsvault:totp-seed:v1:" + userID)
}

func (a *Authenticator) sealSeed(userID, seed string) (crypto.Field, error) {
	return crypto.EncryptWithAAD([]byte(seed), a.seedKey.Bytes(), a.seedAAD(userID))
}

func (a *Authenticator) openSeed(u User) (string, error) {
	if u.SecondFactorSeed.IsZero() {
		return "", ErrSecondFactorDisabled
	}
	pt, err := crypto.DecryptWithAAD(u.SecondFactorSeed, a.seedKey.Bytes(), a.seedAAD(u.ID))
	if err != nil {
		return "", fmt.Errorf("opening second-factor seed: %w", err)
	}
	defer util.WipeBytes(pt)
	return string(pt), nil
}
