// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package filelock guards files that must have a single writer with
// non-blocking advisory locks.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// ErrAlreadyLocked indicates the lock is currently held by another owner.
var ErrAlreadyLocked = errors.New("already locked")

// Lock is a held advisory lock on a lock file.
type Lock struct {
	path string
	file *os.File
}

// Path returns the path of the lock file.
func (l *Lock) Path() string { return l.path }

// For returns the lock file path guarding path.
func For(path string) string { return path + ".lock" }

// Acquire takes an exclusive lock on the file at path, creating it if needed,
// and records the current process ID in it. It never blocks: if somebody else
// holds the lock, it returns an error wrapping [ErrAlreadyLocked].
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		if closeErr := f.Close(); closeErr != nil {
			return nil, errors.Join(err, closeErr)
		}
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			return nil, fmt.Errorf("%s: %w", path, ErrAlreadyLocked)
		}
		return nil, err
	}

	l := &Lock{path: path, file: f}
	if err := l.writeOwner(); err != nil {
		return nil, errors.Join(err, l.Release())
	}
	return l, nil
}

func (l *Lock) writeOwner() error {
	if err := l.file.Truncate(0); err != nil {
		return err
	}
	if _, err := l.file.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(l.file, "pid=%d\n", os.Getpid())
	return err
}

// Release drops the lock. Calling Release on an already released lock is a
// no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		return errors.Join(err, f.Close())
	}
	return f.Close()
}
