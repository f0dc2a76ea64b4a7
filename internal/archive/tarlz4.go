package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pierrec/lz4/v4"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"

	"github.com/imedwei/file-backup/internal/utils"
)

const (
	magic          = "FBAR\x01"
	saltSize       = 16
	checkSize      = 8
	kdfIterations  = 4096
	headerSize     = len(magic) + saltSize + aes.BlockSize + checkSize
	keySize        = 32
	checkSeparator = "$check"

	// progressEvery is how often unpacking logs progress.
	progressEvery = 64 << 20
)

// VolumeArchiver writes tar streams compressed with lz4 and encrypted with
// AES-CTR, split into numbered volumes (name.tar.lz4.001, ...).
type VolumeArchiver struct {
	logger *slog.Logger
}

// NewVolumeArchiver creates an archiver.
func NewVolumeArchiver(logger *slog.Logger) *VolumeArchiver {
	return &VolumeArchiver{logger: logger.With("component", "archive")}
}

func deriveKey(password string, salt []byte) ([]byte, []byte) {
	key := pbkdf2.Key([]byte(password), salt, kdfIterations, keySize, sha256.New)
	sum := sha3.Sum256(append(append([]byte{}, key...), checkSeparator...))
	return key, sum[:checkSize]
}

// newEncryptWriter writes the archive header to w and returns a writer
// encrypting everything after it.
func newEncryptWriter(w io.Writer, password string) (io.Writer, error) {
	header := make([]byte, headerSize)
	copy(header, magic)
	salt := header[len(magic) : len(magic)+saltSize]
	iv := header[len(magic)+saltSize : len(magic)+saltSize+aes.BlockSize]
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	key, check := deriveKey(password, salt)
	copy(header[headerSize-checkSize:], check)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(header); err != nil {
		return nil, err
	}
	return &cipher.StreamWriter{S: cipher.NewCTR(block, iv), W: w}, nil
}

// newDecryptReader reads and checks the archive header from r.
func newDecryptReader(r io.Reader, password string) (io.Reader, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: short header", ErrCorrupt)
	}
	if !bytes.Equal(header[:len(magic)], []byte(magic)) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	salt := header[len(magic) : len(magic)+saltSize]
	iv := header[len(magic)+saltSize : len(magic)+saltSize+aes.BlockSize]

	key, check := deriveKey(password, salt)
	if subtle.ConstantTimeCompare(check, header[headerSize-checkSize:]) != 1 {
		return nil, ErrBadPassword
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &cipher.StreamReader{S: cipher.NewCTR(block, iv), R: r}, nil
}

// Pack implements Archiver.
func (a *VolumeArchiver) Pack(ctx context.Context, srcDir, destDir, name, password string, volumeSize int64) (paths []string, err error) {
	info, err := os.Stat(srcDir)
	if err != nil {
		return nil, &Error{Op: "pack", Path: srcDir, Err: err}
	}
	if !info.IsDir() {
		return nil, &Error{Op: "pack", Path: srcDir, Err: errors.New("not a directory")}
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, &Error{Op: "pack", Path: destDir, Err: err}
	}

	split, err := newSplitWriter(destDir, name, volumeSize)
	if err != nil {
		return nil, &Error{Op: "pack", Path: destDir, Err: err}
	}
	defer func() {
		_ = split.Close()
		if err != nil {
			for _, p := range split.paths {
				_ = os.Remove(p)
			}
		}
	}()

	var size int64
	if err := a.writeTar(ctx, srcDir, split, password, &size); err != nil {
		return nil, &Error{Op: "pack", Path: srcDir, Err: err}
	}
	if err := split.Close(); err != nil {
		return nil, &Error{Op: "pack", Path: destDir, Err: err}
	}

	a.logger.Debug("Packed archive",
		"name", name,
		"volumes", len(split.paths),
		"content", utils.FormatBytes(size),
	)
	return split.paths, nil
}

func (a *VolumeArchiver) writeTar(ctx context.Context, srcDir string, w io.Writer, password string, size *int64) error {
	enc, err := newEncryptWriter(w, password)
	if err != nil {
		return err
	}
	zw := lz4.NewWriter(enc)
	if err := zw.Apply(lz4.BlockChecksumOption(true)); err != nil {
		return err
	}
	tw := tar.NewWriter(zw)

	buf := utils.DefaultBufferPool.Get()
	defer utils.DefaultBufferPool.Put(buf)

	err = filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == srcDir {
			return nil
		}
		if !d.IsDir() && !d.Type().IsRegular() {
			a.logger.Debug("Skipping non-regular file", "path", p)
			return nil
		}

		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
			return tw.WriteHeader(hdr)
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		n, err := io.CopyBuffer(tw, utils.NewContextReader(ctx, f), buf)
		*size += n
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return zw.Close()
}

// Unpack implements Archiver.
func (a *VolumeArchiver) Unpack(ctx context.Context, firstVolume, destDir, password string) error {
	fail := func(err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return &Error{Op: "unpack", Path: firstVolume, Err: err}
	}

	vr, err := newVolumeReader(firstVolume)
	if err != nil {
		return fail(err)
	}
	defer vr.Close()

	progress := utils.NewProgressReader(vr, progressEvery, func(n int64, elapsed time.Duration) {
		a.logger.Debug("Unpacking archive",
			"volume", firstVolume,
			"read", utils.FormatBytes(n),
			"rate", utils.FormatRate(float64(n)/elapsed.Seconds()),
		)
	})
	dec, err := newDecryptReader(progress, password)
	if err != nil {
		return fail(err)
	}
	tr := tar.NewReader(lz4.NewReader(utils.NewContextReader(ctx, dec)))

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fail(err)
	}

	buf := utils.DefaultBufferPool.Get()
	defer utils.DefaultBufferPool.Put(buf)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(fmt.Errorf("%w: %v", ErrCorrupt, err))
		}

		target, err := entryPath(destDir, hdr.Name)
		if err != nil {
			return fail(err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fail(err)
			}
		case tar.TypeReg:
			if err := extractFile(tr, target, hdr, buf); err != nil {
				if errors.Is(err, io.ErrUnexpectedEOF) {
					err = fmt.Errorf("%w: %v", ErrCorrupt, err)
				}
				return fail(err)
			}
		default:
			a.logger.Debug("Skipping unsupported archive entry", "name", hdr.Name, "type", hdr.Typeflag)
		}
	}

	a.logger.Debug("Unpacked archive",
		"volume", firstVolume,
		"volumes", vr.opened,
		"size", utils.FormatBytes(progress.BytesRead()),
	)
	return nil
}

func extractFile(r io.Reader, target string, hdr *tar.Header, buf []byte) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, hdr.FileInfo().Mode().Perm()|0o600)
	if err != nil {
		return err
	}
	if _, err := io.CopyBuffer(f, r, buf); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Chtimes(target, hdr.ModTime, hdr.ModTime)
}

// entryPath maps an archive entry name below destDir, rejecting names that
// would leave it.
func entryPath(destDir, name string) (string, error) {
	name = strings.TrimSuffix(name, "/")
	if name == "" || strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: invalid entry name %q", ErrCorrupt, name)
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: entry %q escapes destination", ErrCorrupt, name)
		}
	}
	return filepath.Join(destDir, filepath.FromSlash(name)), nil
}
