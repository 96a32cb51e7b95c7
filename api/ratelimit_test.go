package api

import (
	"net/http"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/opsvault/internal/clock"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestBackoffLimiterAllowsBeforeThreshold(t *testing.T) {
	rl := newBackoffLimiter(clock.NewManual(t0), accountLimits)
	for range accountLimits.maxFailures - 1 {
		rl.recordFailure("acct")
		blocked, _ := rl.check("acct")
		assert.False(t, blocked)
	}
}

func TestBackoffLimiterLocksOutAtThreshold(t *testing.T) {
	clk := clock.NewManual(t0)
	rl := newBackoffLimiter(clk, accountLimits)
	for range accountLimits.maxFailures {
		rl.recordFailure("acct")
	}

	blocked, retryAfter := rl.check("acct")
	require.True(t, blocked)
	assert.Equal(t, accountLimits.baseLockout, retryAfter)

	clk.Advance(accountLimits.baseLockout)
	blocked, _ = rl.check("acct")
	assert.False(t, blocked, "lockout ends after baseLockout")
}

func TestBackoffLimiterDoublesAndCaps(t *testing.T) {
	rl := newBackoffLimiter(clock.NewManual(t0), accountLimits)
	for range accountLimits.maxFailures + 2 {
		rl.recordFailure("acct")
	}
	_, retryAfter := rl.check("acct")
	assert.Equal(t, 4*accountLimits.baseLockout, retryAfter)

	for range 20 {
		rl.recordFailure("acct")
	}
	_, retryAfter = rl.check("acct")
	assert.Equal(t, accountLimits.maxLockout, retryAfter)
}

func TestBackoffLimiterSuccessAndIsolation(t *testing.T) {
	rl := newBackoffLimiter(clock.NewManual(t0), ipLimits)
	for range ipLimits.maxFailures {
		rl.recordFailure("203.0.113.1")
	}
	blocked, _ := rl.check("203.0.113.2")
	assert.False(t, blocked, "other keys are unaffected")

	rl.recordSuccess("203.0.113.1")
	blocked, _ = rl.check("203.0.113.1")
	assert.False(t, blocked)
}

func TestBackoffLimiterSweep(t *testing.T) {
	clk := clock.NewManual(t0)
	rl := newBackoffLimiter(clk, unlockLimits)
	rl.recordFailure("old")
	clk.Advance(unlockLimits.expiry + time.Second)
	rl.recordFailure("new")

	rl.sweep()
	assert.NotContains(t, rl.attempts, "old")
	assert.Contains(t, rl.attempts, "new")
}

func TestGlobalRateLimiter(t *testing.T) {
	clk := clock.NewManual(t0)
	rl := newGlobalRateLimiter(clk)
	for range globalMaxFailures - 1 {
		rl.recordFailure()
	}
	blocked, _ := rl.check()
	assert.False(t, blocked)

	// The earlier failures slide out of the window.
	clk.Advance(globalWindow + time.Second)
	rl.recordFailure()
	blocked, _ = rl.check()
	assert.False(t, blocked)

	for range globalMaxFailures {
		rl.recordFailure()
	}
	blocked, retryAfter := rl.check()
	assert.True(t, blocked)
	assert.Equal(t, globalLockout, retryAfter)
}

func TestRetryAfterString(t *testing.T) {
	assert.Equal(t, "1", retryAfterString(0))
	assert.Equal(t, "1", retryAfterString(300*time.Millisecond))
	assert.Equal(t, "90", retryAfterString(90*time.Second))
}

func TestExtractClientIPWithProxies(t *testing.T) {
	proxies := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		proxies    []netip.Prefix
		want       string
	}{
		{name: "remote ipv4", remoteAddr: "192.168.1.1:12345", want: "192.168.1.1"},
		{name: "remote ipv6", remoteAddr: "[::1]:8080", want: "::1"},
		{name: "mapped ipv4 unwrapped", remoteAddr: "[::ffff:192.0.2.4]:80", want: "192.0.2.4"},
		{name: "unparseable remote", remoteAddr: "not-a-hostport", want: ""},
		{
			name:       "headers ignored without proxies",
			remoteAddr: "192.168.1.1:80",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.25"},
			want:       "192.168.1.1",
		},
		{
			name:       "untrusted peer ignores headers",
			remoteAddr: "192.168.1.1:80",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.25", "X-Real-IP": "198.51.100.26"},
			proxies:    proxies,
			want:       "192.168.1.1",
		},
		{
			name:       "trusted peer first valid xff",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "unknown, 198.51.100.25, 203.0.113.9"},
			proxies:    proxies,
			want:       "198.51.100.25",
		},
		{
			name:       "trusted peer forwarded",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"Forwarded": `for="[2001:db8::1]:4711";proto=https`},
			proxies:    proxies,
			want:       "2001:db8::1",
		},
		{
			name:       "trusted peer x-real-ip",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Real-IP": "203.0.113.11"},
			proxies:    proxies,
			want:       "203.0.113.11",
		},
		{
			name:       "trusted peer without headers",
			remoteAddr: "10.0.0.1:80",
			proxies:    proxies,
			want:       "10.0.0.1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr, Header: make(http.Header)}
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, extractClientIPWithProxies(r, tt.proxies))
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	got, err := ParseTrustedProxies("10.0.0.0/8, 192.168.1.7 ,::1,172.16.5.4/12")
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.168.1.7/32"),
		netip.MustParsePrefix("::1/128"),
		netip.MustParsePrefix("172.16.0.0/12"),
	}, got)

	empty, err := ParseTrustedProxies("")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = ParseTrustedProxies("10.0.0.0/33")
	assert.Error(t, err)
	_, err = ParseTrustedProxies("proxy.internal")
	assert.Error(t, err)
}
