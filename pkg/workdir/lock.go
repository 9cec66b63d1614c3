// Package workdir guards a working directory against concurrent
// calibration sessions.
package workdir

import (
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"
)

// ErrLocked is returned when another session holds the directory.
var ErrLocked = errors.New("the working directory is in use by another calibration")

// lockDir holds the lock files. They are kept out of the working directory
// so that acquiring a lock never touches it.
var lockDir = os.TempDir

// Lock is an exclusive, advisory lock on one working directory.
type Lock struct {
	Dir  string
	path string
	fl   *flock.Flock
}

// Acquire takes the lock for dir without blocking.
func Acquire(dir string) (*Lock, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to resolve %s", dir)
	}

	sum := blake3.Sum256([]byte(abs))
	path := filepath.Join(lockDir(), "colorcal-"+hex.EncodeToString(sum[:8])+".lock")

	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to lock %s", path)
	}
	if !ok {
		return nil, pkgerrors.Wrapf(ErrLocked, "%s", abs)
	}

	logrus.WithFields(logrus.Fields{
		"dir":  abs,
		"lock": path,
	}).Debug("locked working directory")

	return &Lock{Dir: abs, path: path, fl: fl}, nil
}

// Release drops the lock. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return pkgerrors.Wrapf(err, "failed to unlock %s", l.path)
	}
	logrus.WithField("dir", l.Dir).Debug("unlocked working directory")
	return nil
}
