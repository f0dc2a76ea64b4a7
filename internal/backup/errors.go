package backup

import (
	"context"
	"errors"
	"fmt"

	"github.com/imedwei/file-backup/internal/archive"
	"github.com/imedwei/file-backup/internal/codec"
	"github.com/imedwei/file-backup/internal/storage"
)

var (
	// ErrChainMissing reports a configuration that has never been backed up.
	ErrChainMissing = errors.New("snapshot chain does not exist")

	// ErrSnapshotNotFound reports an unknown snapshot uuid.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// StopOperation aborts the current attempt without restarting it. UUID names
// the in-progress snapshot, if one was started.
type StopOperation struct {
	UUID   string
	Reason string
	Err    error
}

func (e *StopOperation) Error() string {
	if e.UUID != "" {
		return fmt.Sprintf("operation stopped (snapshot %s): %s: %v", e.UUID, e.Reason, e.Err)
	}
	return fmt.Sprintf("operation stopped: %s: %v", e.Reason, e.Err)
}

func (e *StopOperation) Unwrap() error {
	return e.Err
}

// RestartOperation asks the engine to run the attempt again from scratch.
type RestartOperation struct {
	Reason string
}

func (e *RestartOperation) Error() string {
	return "restart requested: " + e.Reason
}

// classify maps an attempt failure onto the error taxonomy. Storage, codec
// and archive failures, missing data and cancellation stop the operation.
// Anything else is left as is and may be restarted.
func classify(err error, uuid string) error {
	var (
		stop    *StopOperation
		restart *RestartOperation
		serr    *storage.Error
		cerr    *codec.Error
	)
	switch {
	case errors.As(err, &stop), errors.As(err, &restart):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &StopOperation{UUID: uuid, Reason: "cancelled", Err: err}
	case errors.As(err, &serr):
		return &StopOperation{UUID: uuid, Reason: "storage failure", Err: err}
	case errors.As(err, &cerr):
		return &StopOperation{UUID: uuid, Reason: "invalid metadata", Err: err}
	case errors.Is(err, archive.ErrCorrupt), errors.Is(err, archive.ErrBadPassword):
		return &StopOperation{UUID: uuid, Reason: "unreadable archive", Err: err}
	case errors.Is(err, ErrChainMissing), errors.Is(err, ErrSnapshotNotFound):
		return &StopOperation{UUID: uuid, Reason: "nothing to recover", Err: err}
	}
	return err
}

// restartReason returns the metrics label for a restartable error, or false
// if err must not be restarted.
func restartReason(err error) (string, bool) {
	var (
		stop    *StopOperation
		restart *RestartOperation
	)
	switch {
	case errors.As(err, &stop):
		return "", false
	case errors.As(err, &restart):
		return "restart_requested", true
	}
	return "unexpected_error", true
}
