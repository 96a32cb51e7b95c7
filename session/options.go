package session

import (
	"time"

	"github.com/jmcleod/opsvault/internal/clock"
)

// DefaultIdleTimeout is the idle limit the server applies unless told
// otherwise. Stores built without WithIdleTimeout have none.
const DefaultIdleTimeout = 30 * time.Minute

type options struct {
	clock       clock.Clock
	idleTimeout time.Duration
}

// Option configures a Store implementation.
type Option func(*options)

// WithClock sets the time source used for expiry checks.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithIdleTimeout expires sessions not accessed for d. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) { o.idleTimeout = d }
}

func buildOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	o.clock = clock.OrReal(o.clock)
	return o
}
