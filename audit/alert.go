package audit

import (
	"sync"
	"time"

	"github.com/jmcleod/opsvault/internal/clock"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	AlertBulkReveal        AlertType = "bulk_reveal"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	UserID    string    `json:"user_id,omitempty"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is invoked when a threshold is crossed.
type AlertFunc func(AlertEvent)

const (
	DefaultLoginFailureWindow    = time.Minute
	DefaultLoginFailureThreshold = 50
	DefaultRevealWindow          = 5 * time.Minute
	DefaultRevealThreshold       = 20
)

// Monitor keeps sliding-window counters over recorded entries: login
// failures across all users, and secret reveals per user.
type Monitor struct {
	mu    sync.Mutex
	clock clock.Clock

	loginFailures  []time.Time
	loginWindow    time.Duration
	loginThreshold int

	reveals         map[string][]time.Time
	revealWindow    time.Duration
	revealThreshold int

	alertFn AlertFunc
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithLoginFailureThreshold alerts when n failures occur within window.
func WithLoginFailureThreshold(n int, window time.Duration) MonitorOption {
	return func(m *Monitor) { m.loginThreshold, m.loginWindow = n, window }
}

// WithRevealThreshold alerts when one user reveals n secrets within window.
func WithRevealThreshold(n int, window time.Duration) MonitorOption {
	return func(m *Monitor) { m.revealThreshold, m.revealWindow = n, window }
}

// WithMonitorClock sets the monitor's time source.
func WithMonitorClock(c clock.Clock) MonitorOption {
	return func(m *Monitor) { m.clock = c }
}

// NewMonitor returns a Monitor calling alertFn.
func NewMonitor(alertFn AlertFunc, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		loginWindow:     DefaultLoginFailureWindow,
		loginThreshold:  DefaultLoginFailureThreshold,
		reveals:         make(map[string][]time.Time),
		revealWindow:    DefaultRevealWindow,
		revealThreshold: DefaultRevealThreshold,
		alertFn:         alertFn,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.clock = clock.OrReal(m.clock)
	return m
}

// Observe updates counters for e.
func (m *Monitor) Observe(e Entry) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch e.Action {
	case ActionLoginFailure, ActionSecondFactorFailure:
		m.recordLoginFailure()
	case ActionSecretReveal:
		m.recordReveal(e.UserID)
	}
}

func (m *Monitor) recordLoginFailure() {
	m.mu.Lock()
	now := m.clock.Now()
	m.loginFailures = trimWindow(append(m.loginFailures, now), now, m.loginWindow)
	var alert *AlertEvent
	if len(m.loginFailures) >= m.loginThreshold {
		alert = &AlertEvent{
			Type:      AlertLoginFailureSpike,
			Message:   "login failure rate exceeds threshold",
			Count:     len(m.loginFailures),
			Threshold: m.loginThreshold,
			Timestamp: now,
		}
		m.loginFailures = m.loginFailures[:0]
	}
	m.mu.Unlock()
	if alert != nil {
		m.alertFn(*alert)
	}
}

func (m *Monitor) recordReveal(userID string) {
	m.mu.Lock()
	now := m.clock.Now()
	times := trimWindow(append(m.reveals[userID], now), now, m.revealWindow)
	var alert *AlertEvent
	if len(times) >= m.revealThreshold {
		alert = &AlertEvent{
			Type:      AlertBulkReveal,
			Message:   "secret reveal rate exceeds threshold",
			UserID:    userID,
			Count:     len(times),
			Threshold: m.revealThreshold,
			Timestamp: now,
		}
		times = times[:0]
	}
	m.reveals[userID] = times
	m.mu.Unlock()
	if alert != nil {
		m.alertFn(*alert)
	}
}

// trimWindow drops entries older than now-window from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
