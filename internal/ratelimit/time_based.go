package ratelimit

import (
	"fmt"
	"time"
)

// TimeBasedLimiter allows a backup once MinInterval has passed since the
// last one.
type TimeBasedLimiter struct {
	config Config
}

// NewTimeBasedLimiter creates a new time-based rate limiter.
func NewTimeBasedLimiter(config Config) *TimeBasedLimiter {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &TimeBasedLimiter{config: config}
}

// ShouldBackup implements RateLimiter.
func (t *TimeBasedLimiter) ShouldBackup(lastBackup time.Time) (bool, string) {
	if t.config.ForceBackup {
		return true, "forced backup requested"
	}

	if t.config.MinInterval <= 0 {
		return false, "manual backups only"
	}

	if lastBackup.IsZero() {
		return true, "no previous backup found"
	}

	since := t.config.Now().Sub(lastBackup)
	if since < t.config.MinInterval {
		return false, fmt.Sprintf(
			"last backup was %s ago, next backup allowed in %s",
			formatDuration(since),
			formatDuration(t.config.MinInterval-since),
		)
	}

	return true, fmt.Sprintf("last backup was %s ago", formatDuration(since))
}

// NextBackup implements RateLimiter.
func (t *TimeBasedLimiter) NextBackup(lastBackup time.Time) (time.Time, bool) {
	if t.config.MinInterval <= 0 {
		return time.Time{}, false
	}
	if lastBackup.IsZero() {
		return t.config.Now(), true
	}
	return lastBackup.Add(t.config.MinInterval), true
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0f minutes", d.Minutes())
	}
	return fmt.Sprintf("%.1f hours", d.Hours())
}
