// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package atomicio replaces files atomically, optionally keeping previous
// versions around.
package atomicio

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"
)

// backupTimeFormat has a fixed width so that backups sort by name.
const backupTimeFormat = "20060102150405.000000000"

// WriteFile replaces the file name with data. Readers either see the old
// contents or the new ones, never a partial write.
//
// If keep is positive and the file exists, its current contents are kept as
// name.<timestamp>.bak, and all but the keep most recent backups are
// removed. Backups share the permissions of the file.
func WriteFile(name string, data []byte, perm fs.FileMode, keep int) (err error) {
	// Same directory, so the final rename stays on one filesystem.
	f, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+".tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Chmod(perm); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if keep > 0 {
		if err := backup(name); err != nil {
			return err
		}
	}
	if err := os.Rename(f.Name(), name); err != nil {
		return err
	}
	if keep > 0 {
		return prune(name, keep)
	}
	return nil
}

// backup hard links the current file under a backup name, so name keeps
// existing until the rename replaces it.
func backup(name string) error {
	err := os.Link(name, name+"."+time.Now().UTC().Format(backupTimeFormat)+".bak")
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Backups returns the backups of name, oldest first.
func Backups(name string) ([]string, error) {
	backups, err := filepath.Glob(name + ".*.bak")
	if err != nil {
		return nil, err
	}
	slices.Sort(backups)
	return backups, nil
}

func prune(name string, keep int) error {
	backups, err := Backups(name)
	if err != nil {
		return err
	}
	if len(backups) <= keep {
		return nil
	}
	for _, b := range backups[:len(backups)-keep] {
		if err := os.Remove(b); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}
