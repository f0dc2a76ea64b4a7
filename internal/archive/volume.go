package archive

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/imedwei/file-backup/internal/utils"
)

// splitWriter spreads a byte stream over numbered volume files.
type splitWriter struct {
	dir     string
	base    string
	limit   int64
	cur     *os.File
	written int64
	paths   []string
}

func newSplitWriter(dir, base string, limit int64) (*splitWriter, error) {
	w := &splitWriter{dir: dir, base: base, limit: limit}
	// The first volume always exists, even for an empty stream.
	if err := w.next(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *splitWriter) next() error {
	if w.cur != nil {
		if err := w.cur.Close(); err != nil {
			return err
		}
	}
	p := filepath.Join(w.dir, utils.VolumeName(w.base, len(w.paths)+1))
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	w.cur = f
	w.written = 0
	w.paths = append(w.paths, p)
	return nil
}

func (w *splitWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		if w.limit > 0 && w.written >= w.limit {
			if err := w.next(); err != nil {
				return total, err
			}
		}
		n := int64(len(p))
		if w.limit > 0 && n > w.limit-w.written {
			n = w.limit - w.written
		}
		m, err := w.cur.Write(p[:n])
		total += m
		w.written += int64(m)
		if err != nil {
			return total, err
		}
		p = p[m:]
	}
	return total, nil
}

// Close closes the current volume. It is safe to call more than once.
func (w *splitWriter) Close() error {
	if w.cur == nil {
		return nil
	}
	err := w.cur.Close()
	w.cur = nil
	return err
}

// volumeReader reads numbered volumes in sequence until the next index is
// missing.
type volumeReader struct {
	dir    string
	base   string
	index  int
	first  bool
	cur    *os.File
	opened int
}

func newVolumeReader(firstVolume string) (*volumeReader, error) {
	base, index, err := utils.ParseVolumeName(filepath.Base(firstVolume))
	if err != nil {
		return nil, err
	}
	return &volumeReader{dir: filepath.Dir(firstVolume), base: base, index: index, first: true}, nil
}

func (r *volumeReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			f, err := os.Open(filepath.Join(r.dir, utils.VolumeName(r.base, r.index)))
			if errors.Is(err, fs.ErrNotExist) && !r.first {
				return 0, io.EOF
			}
			if err != nil {
				return 0, err
			}
			r.cur = f
			r.first = false
			r.opened++
		}

		n, err := r.cur.Read(p)
		if err == io.EOF {
			_ = r.cur.Close()
			r.cur = nil
			r.index++
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *volumeReader) Close() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.Close()
	r.cur = nil
	return err
}
