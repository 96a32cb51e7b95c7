package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmcleod/opsvault/audit"
	"github.com/jmcleod/opsvault/crypto"
	"github.com/jmcleod/opsvault/internal/uuid"
	"github.com/jmcleod/opsvault/session"
)

// SecondFactorSetup is a freshly generated seed awaiting confirmation.
type SecondFactorSetup struct {
	Secret    string    `json:"secret"`
	URL       string    `json:"otpauth_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SecondFactorStatus describes a user's second factor.
type SecondFactorStatus struct {
	Enabled      bool      `json:"enabled"`
	SetupPending bool      `json:"setup_pending"`
	SetupExpires time.Time `json:"setup_expires_at,omitzero"`
}

func (a *Authenticator) currentUser(ctx context.Context, sessionID string) (User, error) {
	s, err := a.Authenticate(ctx, sessionID)
	if err != nil {
		return User{}, err
	}
	return a.users.Get(ctx, s.UserID)
}

// SecondFactorStatus reports the session user's second-factor state.
func (a *Authenticator) SecondFactorStatus(ctx context.Context, sessionID string) (SecondFactorStatus, error) {
	s, err := a.Authenticate(ctx, sessionID)
	if err != nil {
		return SecondFactorStatus{}, err
	}
	u, err := a.users.Get(ctx, s.UserID)
	if err != nil {
		return SecondFactorStatus{}, err
	}
	st := SecondFactorStatus{Enabled: u.SecondFactorEnabled}
	if s.PendingTOTPSeed != "" && a.clock.Now().Before(s.PendingTOTPExpiry) {
		st.SetupPending = true
		st.SetupExpires = s.PendingTOTPExpiry
	}
	return st, nil
}

// BeginSecondFactorSetup generates a seed and parks it on the session until
// EnableSecondFactor confirms it with a code.
func (a *Authenticator) BeginSecondFactorSetup(ctx context.Context, sessionID string) (SecondFactorSetup, error) {
	s, err := a.Authenticate(ctx, sessionID)
	if err != nil {
		return SecondFactorSetup{}, err
	}
	u, err := a.users.Get(ctx, s.UserID)
	if err != nil {
		return SecondFactorSetup{}, err
	}
	if u.SecondFactorEnabled {
		return SecondFactorSetup{}, ErrSecondFactorEnabled
	}
	secret, err := GenerateSecret()
	if err != nil {
		return SecondFactorSetup{}, err
	}
	expires := a.clock.Now().UTC().Add(totpSetupTTL)
	_, err = a.sessions.Update(ctx, s.ID, func(cur *session.Session) error {
		cur.PendingTOTPSeed = secret
		cur.PendingTOTPExpiry = expires
		return nil
	})
	if errors.Is(err, session.ErrNotFound) {
		return SecondFactorSetup{}, ErrSessionExpired
	}
	if err != nil {
		return SecondFactorSetup{}, fmt.Errorf("storing session: %w", err)
	}
	a.record(ctx, audit.Entry{UserID: u.ID, Action: audit.ActionTwoFactorSetup, IPAddress: s.IPAddress})
	return SecondFactorSetup{Secret: secret, URL: OTPAuthURL(secret, u.Username), ExpiresAt: expires}, nil
}

// EnableSecondFactor confirms the pending seed with a code, stores it under
// the application key and revokes existing remember tokens.
func (a *Authenticator) EnableSecondFactor(ctx context.Context, sessionID, code string) error {
	s, err := a.Authenticate(ctx, sessionID)
	if err != nil {
		return err
	}
	now := a.clock.Now()
	if s.PendingTOTPSeed == "" || !now.Before(s.PendingTOTPExpiry) {
		return ErrNoPendingSetup
	}
	step, ok := matchStep(s.PendingTOTPSeed, code, now)
	if !ok {
		a.record(ctx, audit.Entry{UserID: s.UserID, Action: audit.ActionSecondFactorFailure, IPAddress: s.IPAddress, Description: "setup confirmation"})
		return ErrInvalidCode
	}
	sealed, err := a.sealSeed(s.UserID, s.PendingTOTPSeed)
	if err != nil {
		return err
	}
	_, err = a.users.Modify(ctx, s.UserID, now, func(u *User) error {
		if u.SecondFactorEnabled {
			return ErrSecondFactorEnabled
		}
		u.SecondFactorSeed = sealed
		u.SecondFactorEnabled = true
		u.LastTOTPStep = step
		return nil
	})
	if err != nil {
		return err
	}
	if err := a.remember.RevokeAll(ctx, s.UserID); err != nil {
		return fmt.Errorf("revoking remember tokens: %w", err)
	}

	_, err = a.sessions.Update(ctx, s.ID, func(cur *session.Session) error {
		cur.PendingTOTPSeed = ""
		cur.PendingTOTPExpiry = time.Time{}
		cur.SecondFactorSatisfied = true
		cur.SecondFactorMethod = MethodTOTP
		return nil
	})
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("storing session: %w", err)
	}
	a.record(ctx, audit.Entry{UserID: s.UserID, Action: audit.ActionTwoFactorEnabled, IPAddress: s.IPAddress})
	return nil
}

// DisableSecondFactor turns 2FA off after checking a current code.
func (a *Authenticator) DisableSecondFactor(ctx context.Context, sessionID, code string) error {
	s, err := a.Authenticate(ctx, sessionID)
	if err != nil {
		return err
	}
	now := a.clock.Now()
	_, err = a.users.Modify(ctx, s.UserID, now, func(u *User) error {
		if !u.SecondFactorEnabled {
			return ErrSecondFactorDisabled
		}
		seed, err := a.openSeed(*u)
		if err != nil {
			return err
		}
		step, ok := matchStep(seed, code, now)
		if !ok || step <= u.LastTOTPStep {
			return ErrInvalidCode
		}
		u.SecondFactorSeed = crypto.Field{}
		u.SecondFactorEnabled = false
		u.LastTOTPStep = 0
		return nil
	})
	if errors.Is(err, ErrInvalidCode) {
		a.record(ctx, audit.Entry{UserID: s.UserID, Action: audit.ActionSecondFactorFailure, IPAddress: s.IPAddress, Description: "disable confirmation"})
	}
	if err != nil {
		return err
	}
	if err := a.remember.RevokeAll(ctx, s.UserID); err != nil {
		return fmt.Errorf("revoking remember tokens: %w", err)
	}
	a.record(ctx, audit.Entry{UserID: s.UserID, Action: audit.ActionTwoFactorDisabled, IPAddress: s.IPAddress})
	return nil
}

// ChangePassword replaces the session user's password and revokes their
// remember tokens.
func (a *Authenticator) ChangePassword(ctx context.Context, sessionID, oldPassword, newPassword string) error {
	u, err := a.currentUser(ctx, sessionID)
	if err != nil {
		return err
	}
	ok, err := crypto.VerifyPassword(oldPassword, u.PasswordHash)
	if err != nil || !ok {
		a.record(ctx, audit.Entry{UserID: u.ID, Action: audit.ActionLoginFailure, Description: "password change: wrong password"})
		return ErrInvalidCredentials
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	hash, err := crypto.HashPassword(newPassword, a.passwordParams)
	if err != nil {
		return err
	}
	if _, err := a.users.Modify(ctx, u.ID, a.clock.Now(), func(u *User) error {
		u.PasswordHash = hash
		return nil
	}); err != nil {
		return err
	}
	if err := a.remember.RevokeAll(ctx, u.ID); err != nil {
		return fmt.Errorf("revoking remember tokens: %w", err)
	}
	a.record(ctx, audit.Entry{UserID: u.ID, Action: audit.ActionPasswordChanged})
	return nil
}

// CreateUser adds a login account. actor is recorded as the creator.
func (a *Authenticator) CreateUser(ctx context.Context, actor, username, password string) (User, error) {
	if err := validateUsername(NormalizeUsername(username)); err != nil {
		return User{}, err
	}
	if err := validatePassword(password); err != nil {
		return User{}, err
	}
	hash, err := crypto.HashPassword(password, a.passwordParams)
	if err != nil {
		return User{}, err
	}
	now := a.clock.Now().UTC()
	u, err := a.users.Create(ctx, User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return User{}, err
	}
	a.logger.Info("user created", "user_id", u.ID)
	a.record(ctx, audit.Entry{UserID: actor, Action: audit.ActionUserCreated, EntityType: "user", EntityID: u.ID, Description: u.Username})
	return u, nil
}

// DisableUser soft-disables username. Open sessions end on their next
// Authenticate and remember tokens stop validating.
func (a *Authenticator) DisableUser(ctx context.Context, actor, username string) error {
	u, err := a.users.ByUsername(ctx, username)
	if err != nil {
		return err
	}
	if _, err := a.users.Modify(ctx, u.ID, a.clock.Now(), func(u *User) error {
		u.Disabled = true
		u.RememberGeneration++
		return nil
	}); err != nil {
		return err
	}
	a.logger.Info("user disabled", "user_id", u.ID)
	a.record(ctx, audit.Entry{UserID: actor, Action: audit.ActionUserDisabled, EntityType: "user", EntityID: u.ID, Description: u.Username})
	return nil
}
