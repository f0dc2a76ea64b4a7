// Package backup implements the backup and recovery engine: attempt
// lifecycle, incremental and full-archive strategies, and error handling.
package backup

import (
	"context"

	"github.com/imedwei/file-backup/internal/catalog"
	"github.com/imedwei/file-backup/internal/snapshot"
)

// Strategy is the mode-specific half of an attempt.
type Strategy interface {
	// Backup runs the Executing phase and commits the new record. A nil
	// error with Result.Skipped set means nothing changed.
	Backup(ctx context.Context, a *Attempt) (*Result, error)

	// Recover materializes the tree of rec into a staging directory and
	// returns it. The engine moves it into place.
	Recover(ctx context.Context, a *Attempt, rec snapshot.Record) (string, error)
}

// Result describes a finished backup.
type Result struct {
	Name    string
	UUID    string
	Skipped bool
	Record  snapshot.Record

	// Updates is the number of update entries. Compress snapshots have none.
	Updates int
	Volumes int
	Size    int64
}

var strategies = map[catalog.Mode]Strategy{
	catalog.ModeIncrement: incrementStrategy{},
	catalog.ModeCompress:  compressStrategy{},
}

// strategyFor returns the strategy registered for mode.
func strategyFor(mode catalog.Mode) (Strategy, bool) {
	s, ok := strategies[mode]
	return s, ok
}
