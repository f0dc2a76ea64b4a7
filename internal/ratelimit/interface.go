// Package ratelimit decides whether a scheduled backup is due.
package ratelimit

import (
	"time"
)

// RateLimiter decides whether a configuration is due for a backup.
type RateLimiter interface {
	// ShouldBackup reports whether a backup should run given the time of the
	// last successful one (zero if none), with a human-readable reason.
	ShouldBackup(lastBackup time.Time) (bool, string)

	// NextBackup returns when the next backup becomes due. The boolean is
	// false for manual-only configurations.
	NextBackup(lastBackup time.Time) (time.Time, bool)
}

// Config holds configuration for rate limiting.
type Config struct {
	// MinInterval is the minimum time between backups. Zero disables
	// scheduled backups; only forced ones run.
	MinInterval time.Duration

	// ForceBackup overrides rate limiting when true.
	ForceBackup bool

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}
