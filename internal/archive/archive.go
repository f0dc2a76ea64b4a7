// Package archive packs directories into password-keyed, size-bounded
// volumes and unpacks them again.
//
// The password keys a real stream cipher, but the engine derives passwords
// from snapshot uuids, so an archive is only as private as its uuid.
package archive

import (
	"context"
	"errors"
	"fmt"
)

// Archiver packs a directory into volumes and unpacks them.
type Archiver interface {
	// Pack archives srcDir into destDir as volumes named after name, each at
	// most volumeSize bytes (zero means one volume). It returns the volume
	// paths in order.
	Pack(ctx context.Context, srcDir, destDir, name, password string, volumeSize int64) ([]string, error)

	// Unpack extracts the archive starting at firstVolume into destDir.
	// Following volumes are located next to it by name.
	Unpack(ctx context.Context, firstVolume, destDir, password string) error
}

var (
	// ErrBadPassword reports a password that does not match the archive.
	ErrBadPassword = errors.New("wrong archive password")

	// ErrCorrupt reports an archive that cannot be decoded.
	ErrCorrupt = errors.New("corrupt archive")
)

// Error is returned for every archiver failure.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("archive: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
