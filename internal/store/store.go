// Package store maps untrusted TFTP filenames onto a read root and a write
// root and guarantees uploads only become visible once complete.
package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrNotFound        = errors.New("file not found")
	ErrAlreadyExists   = errors.New("file already exists")
	ErrAccessViolation = errors.New("access violation")
)

type Store struct {
	readRoot  string
	writeRoot string
}

// New checks that both roots are directories.
func New(readRoot, writeRoot string) (*Store, error) {
	s := &Store{}
	for _, root := range []struct {
		dir  string
		dest *string
	}{
		{readRoot, &s.readRoot},
		{writeRoot, &s.writeRoot},
	} {
		abs, err := filepath.Abs(root.dir)
		if err != nil {
			return nil, errors.Wrapf(err, "resolving %s", root.dir)
		}
		stat, err := os.Stat(abs)
		if err != nil {
			return nil, errors.Wrap(err, "checking server root")
		}
		if !stat.IsDir() {
			return nil, errors.Errorf("server root %s is not a directory", abs)
		}
		*root.dest = abs
	}
	return s, nil
}

func (s *Store) ReadRoot() string  { return s.readRoot }
func (s *Store) WriteRoot() string { return s.writeRoot }

// Resolve joins name onto root. Absolute names and any ".." component are
// rejected rather than cleaned, so a request can never name a path outside
// root.
func Resolve(root, name string) (string, error) {
	if name == "" {
		return "", errors.Wrap(ErrAccessViolation, "empty filename")
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return "", errors.Wrapf(ErrAccessViolation, "absolute path %q", name)
	}
	if filepath.VolumeName(name) != "" {
		return "", errors.Wrapf(ErrAccessViolation, "volume in path %q", name)
	}
	for _, part := range strings.FieldsFunc(name, isSeparator) {
		if part == ".." {
			return "", errors.Wrapf(ErrAccessViolation, "parent directory in %q", name)
		}
	}

	full := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", errors.Wrapf(ErrAccessViolation, "%q escapes root", name)
	}
	return full, nil
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}

// OpenForRead opens name under the read root. Directories are reported as
// not found.
func (s *Store) OpenForRead(name string) (*os.File, error) {
	path, err := Resolve(s.readRoot, name)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, classify(err, name)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "stat %s", name)
	}
	if !stat.Mode().IsRegular() {
		file.Close()
		return nil, errors.Wrapf(ErrNotFound, "%s is not a regular file", name)
	}
	return file, nil
}

// CreateExclusive prepares an upload of name under the write root. The
// existence check here only lets the caller fail early; Commit is the
// operation that atomically refuses to replace an existing file.
func (s *Store) CreateExclusive(name string, buffered bool) (*Upload, error) {
	path, err := Resolve(s.writeRoot, name)
	if err != nil {
		return nil, err
	}

	if _, err := os.Lstat(path); err == nil {
		return nil, errors.Wrap(ErrAlreadyExists, name)
	} else if !os.IsNotExist(err) {
		return nil, classify(err, name)
	}

	dir := filepath.Dir(path)
	if stat, err := os.Stat(dir); err != nil || !stat.IsDir() {
		return nil, errors.Wrapf(ErrNotFound, "directory for %s", name)
	}

	u := &Upload{path: path, dir: dir}
	if buffered {
		return u, nil
	}
	if u.tmp, err = createTemp(dir); err != nil {
		return nil, err
	}
	return u, nil
}

func classify(err error, name string) error {
	switch {
	case os.IsNotExist(err):
		return errors.Wrap(ErrNotFound, name)
	case os.IsPermission(err):
		return errors.Wrap(ErrAccessViolation, name)
	}
	return errors.Wrapf(err, "opening %s", name)
}
