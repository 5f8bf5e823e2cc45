package store

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
)

const tempPattern = ".tftp-upload-*"

// Upload collects the bytes of a write transfer. Data goes either into
// memory or into a hidden temporary file next to the destination; the
// destination name only appears after a successful Commit.
type Upload struct {
	path string
	dir  string
	buf  bytes.Buffer
	tmp  *os.File
	size int64
	done bool
}

func (u *Upload) Write(p []byte) (int, error) {
	if u.done {
		return 0, errors.New("write to finished upload")
	}

	var n int
	var err error
	if u.tmp != nil {
		n, err = u.tmp.Write(p)
	} else {
		n, err = u.buf.Write(p)
	}
	u.size += int64(n)
	return n, errors.Wrap(err, "writing upload")
}

// Size is the number of bytes written so far.
func (u *Upload) Size() int64 { return u.size }

func (u *Upload) Path() string { return u.path }

// Commit publishes the upload. The temporary file is hard linked to the
// destination, which fails if the destination exists. Two racing uploads
// of the same name therefore cannot both succeed.
func (u *Upload) Commit() error {
	if u.done {
		return errors.New("upload already finished")
	}
	u.done = true

	if u.tmp == nil {
		tmp, err := createTemp(u.dir)
		if err != nil {
			return err
		}
		u.tmp = tmp
		if _, err := u.buf.WriteTo(tmp); err != nil {
			u.discard()
			return errors.Wrap(err, "writing upload")
		}
	}
	defer u.discard()

	if err := u.tmp.Sync(); err != nil {
		return errors.Wrap(err, "syncing upload")
	}
	if err := u.tmp.Chmod(0644); err != nil {
		return errors.Wrap(err, "setting upload permissions")
	}

	if err := os.Link(u.tmp.Name(), u.path); err != nil {
		if os.IsExist(err) {
			return errors.Wrap(ErrAlreadyExists, u.path)
		}
		return errors.Wrap(err, "publishing upload")
	}
	return nil
}

// Abort drops any buffered data. It is safe to call after Commit.
func (u *Upload) Abort() {
	if u.done {
		return
	}
	u.done = true
	u.discard()
}

func (u *Upload) discard() {
	u.buf.Reset()
	if u.tmp != nil {
		u.tmp.Close()
		os.Remove(u.tmp.Name())
		u.tmp = nil
	}
}

func createTemp(dir string) (*os.File, error) {
	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return nil, errors.Wrap(err, "creating temporary upload file")
	}
	return tmp, nil
}
