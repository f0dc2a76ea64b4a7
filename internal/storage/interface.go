// Package storage defines the remote backend transport and its providers.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// EntryKind distinguishes directories from files in a listing.
type EntryKind string

const (
	KindDir  EntryKind = "dir"
	KindFile EntryKind = "file"
)

// Entry is one child of a remote directory.
type Entry struct {
	Kind EntryKind `json:"kind"`
	Name string    `json:"name"`
}

// Driver is implemented by each storage provider. Remote paths are relative,
// slash-separated and already normalized. Each call is a single attempt;
// retries and memoization are added by Backend.
type Driver interface {
	// Probe validates connectivity. Failure makes the provider unusable.
	Probe(ctx context.Context) error

	// Mkdir creates a directory and its parents. Existing directories are not an error.
	Mkdir(ctx context.Context, remote string) error

	// Rmdir removes a directory recursively. Missing directories are not an error.
	Rmdir(ctx context.Context, remote string) error

	// ListDir returns the children of a directory. Missing directories list as empty.
	ListDir(ctx context.Context, remote string) ([]Entry, error)

	// GetFile downloads remote into the local file, replacing it. A missing
	// remote file returns an error wrapping ErrNotExist.
	GetFile(ctx context.Context, local, remote string) error

	// PutFile uploads the local file to remote, replacing it.
	PutFile(ctx context.Context, local, remote string) error

	// Close releases the provider session.
	Close() error
}

// TreeDriver is implemented by providers with a bulk protocol for whole trees.
type TreeDriver interface {
	GetTree(ctx context.Context, local, remote string) error
	PutTree(ctx context.Context, local, remote string) error
}

var (
	// ErrNotExist reports a missing remote file.
	ErrNotExist = errors.New("remote path does not exist")

	// ErrUnknownMode reports a backend mode with no registered provider.
	ErrUnknownMode = errors.New("unknown backend mode")

	// ErrClosed reports use of a backend after Close.
	ErrClosed = errors.New("backend is closed")
)

// Error wraps a backend failure that persisted after all retries.
type Error struct {
	Op       string
	Path     string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage: %s %s failed after %d attempts: %v", e.Op, e.Path, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
