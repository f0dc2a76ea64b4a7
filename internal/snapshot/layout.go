package snapshot

import (
	"encoding/hex"
	"path"

	"golang.org/x/crypto/sha3"
)

// passwordSuffix salts archive password derivation.
const passwordSuffix = "$file-backup"

// RemoteRoot returns the remote directory of a backup configuration: a
// stable hash of its name.
func RemoteRoot(name string) string {
	sum := sha3.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])[:32]
}

// Password derives the archive password of a snapshot from its uuid. It is
// reproducible by anyone who knows the uuid.
func Password(uuid string) string {
	sum := sha3.Sum256([]byte(uuid + passwordSuffix))
	return hex.EncodeToString(sum[:])
}

// Layout names the remote files of one configuration.
//
//	<root>/chain
//	<root>/<uuid>/updates
//	<root>/<uuid>/manifest
//	<root>/<uuid>/<volume>
type Layout struct {
	Root string
}

// NewLayout returns the layout of the configuration called name.
func NewLayout(name string) Layout {
	return Layout{Root: RemoteRoot(name)}
}

func (l Layout) Chain() string {
	return path.Join(l.Root, "chain")
}

func (l Layout) Dir(uuid string) string {
	return path.Join(l.Root, uuid)
}

func (l Layout) Updates(uuid string) string {
	return path.Join(l.Root, uuid, "updates")
}

func (l Layout) Manifest(uuid string) string {
	return path.Join(l.Root, uuid, "manifest")
}

func (l Layout) Volume(uuid, name string) string {
	return path.Join(l.Root, uuid, name)
}
