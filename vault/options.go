package vault

import (
	"log/slog"
	"time"

	"github.com/jmcleod/opsvault/audit"
	"github.com/jmcleod/opsvault/crypto"
	"github.com/jmcleod/opsvault/internal/clock"
)

// DefaultIdleTimeout is how long an unused vault key survives.
const DefaultIdleTimeout = 15 * time.Minute

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithAuditor sets where vault events are recorded.
func WithAuditor(a *audit.Auditor) Option {
	return func(m *Manager) { m.auditor = a }
}

// WithIdleTimeout sets how long a key may go unused before it is wiped.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idleTimeout = d }
}

// WithKDFParams sets the Argon2id parameters for Initialize and Rotate.
func WithKDFParams(p crypto.KDFParams) Option {
	return func(m *Manager) { m.kdfParams = p }
}

// WithAlgorithm sets the field cipher for new ciphertext.
func WithAlgorithm(alg string) Option {
	return func(m *Manager) { m.algorithm = alg }
}
