// Package recovery rate-limits and bounds the recovery attempts a node makes
// after the committee stalls or the node falls behind mid-round.
package recovery

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/r3e-network/dbft"
)

// needsRecoveryThreshold is the number of consecutive processing errors after
// which a recovery attempt is worthwhile.
const needsRecoveryThreshold = 3

// Manager bounds recovery attempts. It is not safe for concurrent use; the
// engine only touches it from the event-loop goroutine.
type Manager struct {
	attempts    int
	maxAttempts int
	lastAttempt time.Time

	clk clock.Clock
}

// New returns a manager that permits at most maxAttempts recovery attempts
// before requiring a Reset.
func New(maxAttempts int, clk clock.Clock) *Manager {
	return &Manager{
		maxAttempts: maxAttempts,
		clk:         clk,
	}
}

// Attempt registers a recovery attempt. It fails with ErrRecoveryFailed when
// the attempt budget is exhausted and with ErrRecoveryTooSoon when less than
// MinRecoveryInterval elapsed since the previous attempt. On success the
// caller broadcasts a recovery request.
func (m *Manager) Attempt() error {
	if m.attempts >= m.maxAttempts {
		return fmt.Errorf("%w: %d attempts exhausted", dbft.ErrRecoveryFailed, m.attempts)
	}
	now := m.clk.Now()
	if !m.lastAttempt.IsZero() && now.Sub(m.lastAttempt) < dbft.MinRecoveryInterval {
		return fmt.Errorf("%w: only %s since the previous attempt", dbft.ErrRecoveryTooSoon, now.Sub(m.lastAttempt))
	}
	m.attempts++
	m.lastAttempt = now
	return nil
}

// Reset zeroes the attempt counter and timestamp after consensus resumes normally.
func (m *Manager) Reset() {
	m.attempts = 0
	m.lastAttempt = time.Time{}
}

// Attempts returns the number of attempts since the last reset.
func (m *Manager) Attempts() int {
	return m.attempts
}

// NeedsRecovery reports whether the node should attempt recovery given the
// number of consecutive processing errors it has seen.
func (m *Manager) NeedsRecovery(consecutiveErrors int) bool {
	return consecutiveErrors >= needsRecoveryThreshold && m.attempts < m.maxAttempts
}
