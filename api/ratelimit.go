package api

import (
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmcleod/opsvault/internal/clock"
)

// backoffLimits configures a backoffLimiter.
type backoffLimits struct {
	maxFailures int
	baseLockout time.Duration
	maxLockout  time.Duration
	expiry      time.Duration
}

var (
	// accountLimits key on a hash of the normalized username.
	accountLimits = backoffLimits{maxFailures: 5, baseLockout: time.Minute, maxLockout: 15 * time.Minute, expiry: time.Hour}
	ipLimits      = backoffLimits{maxFailures: 20, baseLockout: time.Minute, maxLockout: 30 * time.Minute, expiry: time.Hour}
	// unlockLimits key on the user ID of the session that asked.
	unlockLimits = backoffLimits{maxFailures: 5, baseLockout: time.Minute, maxLockout: 15 * time.Minute, expiry: time.Hour}
)

// backoffLimiter tracks failures per key and locks a key out with
// exponential backoff once maxFailures is reached.
type backoffLimiter struct {
	mu       sync.Mutex
	clock    clock.Clock
	limits   backoffLimits
	attempts map[string]*attemptRecord
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

func newBackoffLimiter(c clock.Clock, limits backoffLimits) *backoffLimiter {
	return &backoffLimiter{
		clock:    clock.OrReal(c),
		limits:   limits,
		attempts: make(map[string]*attemptRecord),
	}
}

// check reports whether key is locked out and for how long.
func (rl *backoffLimiter) check(key string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		return false, 0
	}
	now := rl.clock.Now()
	if now.Sub(rec.lastFailure) > rl.limits.expiry {
		delete(rl.attempts, key)
		return false, 0
	}
	if now.Before(rec.lockedUntil) {
		return true, rec.lockedUntil.Sub(now)
	}
	return false, 0
}

// recordFailure counts a failure, doubling the lockout for every failure
// past the threshold up to maxLockout.
func (rl *backoffLimiter) recordFailure(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.attempts[key]
	if !ok {
		rec = &attemptRecord{}
		rl.attempts[key] = rec
	}
	now := rl.clock.Now()
	rec.failures++
	rec.lastFailure = now

	if rec.failures >= rl.limits.maxFailures {
		lockout := rl.limits.baseLockout
		for range rec.failures - rl.limits.maxFailures {
			lockout *= 2
			if lockout >= rl.limits.maxLockout {
				lockout = rl.limits.maxLockout
				break
			}
		}
		rec.lockedUntil = now.Add(lockout)
	}
}

func (rl *backoffLimiter) recordSuccess(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.attempts, key)
}

// sweep drops records idle longer than the expiry.
func (rl *backoffLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	for key, rec := range rl.attempts {
		if now.Sub(rec.lastFailure) > rl.limits.expiry {
			delete(rl.attempts, key)
		}
	}
}

const (
	globalWindow      = 1 * time.Minute
	globalMaxFailures = 100
	globalLockout     = 5 * time.Minute
)

// globalRateLimiter locks every login out when failures across all
// accounts exceed globalMaxFailures within globalWindow.
type globalRateLimiter struct {
	mu          sync.Mutex
	clock       clock.Clock
	failures    []time.Time
	lockedUntil time.Time
}

func newGlobalRateLimiter(c clock.Clock) *globalRateLimiter {
	return &globalRateLimiter{clock: clock.OrReal(c)}
}

func (rl *globalRateLimiter) check() (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	if now.Before(rl.lockedUntil) {
		return true, rl.lockedUntil.Sub(now)
	}
	return false, 0
}

func (rl *globalRateLimiter) recordFailure() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	cutoff := now.Add(-globalWindow)
	start := 0
	for start < len(rl.failures) && rl.failures[start].Before(cutoff) {
		start++
	}
	rl.failures = append(rl.failures[start:], now)

	if len(rl.failures) >= globalMaxFailures {
		rl.lockedUntil = now.Add(globalLockout)
	}
}

// writeRateLimited sends a 429 Too Many Requests response.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration, msg string) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeError(w, http.StatusTooManyRequests, CodeRateLimited, msg)
}

func retryAfterString(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func (a *API) extractClientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

// extractClientIPWithProxies returns the client address. Forwarding headers
// are consulted only when the direct peer is inside trustedProxies, in the
// order X-Forwarded-For, Forwarded, X-Real-IP.
func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)
	if !peerTrusted(remoteIP, trustedProxies) {
		return remoteIP
	}

	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		for part := range strings.SplitSeq(xff, ",") {
			if ip, ok := parseIPCandidate(part); ok {
				return ip
			}
		}
	}
	if fwd := strings.TrimSpace(r.Header.Get("Forwarded")); fwd != "" {
		for elem := range strings.SplitSeq(fwd, ",") {
			for param := range strings.SplitSeq(elem, ";") {
				param = strings.TrimSpace(param)
				if len(param) < 4 || !strings.EqualFold(param[:4], "for=") {
					continue
				}
				if ip, ok := parseIPCandidate(param[4:]); ok {
					return ip
				}
			}
		}
	}
	if ip, ok := parseIPCandidate(r.Header.Get("X-Real-IP")); ok {
		return ip
	}
	return remoteIP
}

func peerTrusted(remoteIP string, trustedProxies []netip.Prefix) bool {
	if len(trustedProxies) == 0 || remoteIP == "" {
		return false
	}
	addr, err := netip.ParseAddr(remoteIP)
	if err != nil {
		return false
	}
	for _, prefix := range trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.Trim(strings.TrimSpace(raw), "\"")
	if s == "" {
		return "", false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.Unmap().String(), true
	}
	return "", false
}

// ParseTrustedProxies parses a comma-separated list of CIDRs or bare
// addresses.
func ParseTrustedProxies(s string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "/") {
			addr, err := netip.ParseAddr(part)
			if err != nil {
				return nil, err
			}
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(part)
		if err != nil {
			return nil, err
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

// SweepRateLimits drops expired rate-limit records. The server calls it
// periodically.
func (a *API) SweepRateLimits() {
	a.accountLimiter.sweep()
	a.ipLimiter.sweep()
	a.unlockLimiter.sweep()
}
