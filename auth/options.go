package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmcleod/opsvault/audit"
	"github.com/jmcleod/opsvault/crypto"
	"github.com/jmcleod/opsvault/internal/clock"
)

const (
	DefaultSessionTTL              = 12 * time.Hour
	DefaultChallengeTTL            = 5 * time.Minute
	DefaultMaxSecondFactorAttempts = 5
)

// VaultLocker wipes a session's vault key. *vault.Manager implements it.
type VaultLocker interface {
	Lock(ctx context.Context, sessionID string) error
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Authenticator) { a.logger = l }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(a *Authenticator) { a.clock = c }
}

// WithAuditor sets where authentication events are recorded.
func WithAuditor(au *audit.Auditor) Option {
	return func(a *Authenticator) { a.auditor = au }
}

// WithVault makes Logout lock the session's vault key.
func WithVault(v VaultLocker) Option {
	return func(a *Authenticator) { a.vault = v }
}

// WithSessionTTL sets the absolute lifetime of an authenticated session.
func WithSessionTTL(d time.Duration) Option {
	return func(a *Authenticator) { a.sessionTTL = d }
}

// WithChallengeTTL sets how long a second-factor challenge stays open.
func WithChallengeTTL(d time.Duration) Option {
	return func(a *Authenticator) { a.challengeTTL = d }
}

// WithMaxSecondFactorAttempts sets how many wrong codes end a challenge.
func WithMaxSecondFactorAttempts(n int) Option {
	return func(a *Authenticator) { a.maxAttempts = n }
}

// WithPasswordParams sets the Argon2id parameters for new password hashes.
func WithPasswordParams(p crypto.KDFParams) Option {
	return func(a *Authenticator) { a.passwordParams = p }
}
