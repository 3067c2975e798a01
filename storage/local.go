package storage

import (
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrNotFound is returned by Open and Delete for unknown keys.
var ErrNotFound = errors.New("blob not found")

var keyPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Store keeps uploaded document bodies.
type Store interface {
	Save(r io.Reader) (key string, size int64, err error)
	Open(key string) (io.ReadCloser, error)
	Delete(key string) error
}

// Local stores blobs as flat files named by a random UUID under a root
// directory.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, errors.Wrapf(err, "create storage dir %s", root)
	}
	return &Local{root: root}, nil
}

func (l *Local) path(key string) (string, error) {
	if !keyPattern.MatchString(key) {
		return "", errors.Wrapf(ErrNotFound, "invalid key %q", key)
	}
	return filepath.Join(l.root, key), nil
}

// Save copies r into a new blob. A partially written blob is removed when
// the copy fails.
func (l *Local) Save(r io.Reader) (string, int64, error) {
	key := uuid.NewString()
	path := filepath.Join(l.root, key)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", 0, errors.Wrap(err, "create blob")
	}
	size, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", 0, errors.Wrap(err, "write blob")
	}
	return key, size, nil
}

func (l *Local) Open(key string) (io.ReadCloser, error) {
	path, err := l.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrNotFound, "open %s", key)
		}
		return nil, errors.Wrap(err, "open blob")
	}
	return f, nil
}

func (l *Local) Delete(key string) error {
	path, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(ErrNotFound, "delete %s", key)
		}
		return errors.Wrap(err, "delete blob")
	}
	return nil
}
