// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"go.astrophena.name/tgdrive/internal/atomicio"
	"go.astrophena.name/tgdrive/internal/filelock"
)

// JSONFile is a [Store] kept in a JSON file. Every write replaces the file
// atomically. The file is locked for as long as the store is open, so two
// processes can't share it.
type JSONFile struct {
	path string
	lock *filelock.Lock

	mu   sync.Mutex
	data map[string]entry
}

// jsonBackups is how many previous versions of the file are kept.
const jsonBackups = 1

type jsonStore struct {
	Data map[string]entry `json:"data"`
}

type entry struct {
	Value   []byte    `json:"value"`
	Updated time.Time `json:"updated"`
}

// NewJSONFile opens the store at path, creating the file if it doesn't exist.
func NewJSONFile(path string) (*JSONFile, error) {
	lock, err := filelock.Acquire(filelock.For(path))
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	s := &JSONFile{
		path: path,
		lock: lock,
		data: make(map[string]entry),
	}
	if err := s.load(); err != nil {
		return nil, errors.Join(err, lock.Release())
	}
	return s, nil
}

func (s *JSONFile) load() error {
	b, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s.flush()
	case err != nil:
		return err
	}
	var js jsonStore
	if err := json.Unmarshal(b, &js); err != nil {
		return fmt.Errorf("parsing %s: %w", s.path, err)
	}
	if js.Data != nil {
		s.data = js.Data
	}
	return nil
}

// flush must be called with mu held.
func (s *JSONFile) flush() error {
	b, err := json.MarshalIndent(jsonStore{Data: s.data}, "", "  ")
	if err != nil {
		return err
	}
	return atomicio.WriteFile(s.path, b, 0o600, jsonBackups)
}

// Get retrieves a value for a given key.
func (s *JSONFile) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), e.Value...), nil
}

// Set stores a value for a given key.
func (s *JSONFile) Set(_ context.Context, key string, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.data[key]
	s.data[key] = entry{
		Value:   append([]byte(nil), val...),
		Updated: time.Now().UTC(),
	}
	if err := s.flush(); err != nil {
		// Keep memory in line with the file.
		if existed {
			s.data[key] = prev
		} else {
			delete(s.data, key)
		}
		return err
	}
	return nil
}

// Delete removes a key.
func (s *JSONFile) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.data[key]
	if !ok {
		return nil
	}
	delete(s.data, key)
	if err := s.flush(); err != nil {
		s.data[key] = prev
		return err
	}
	return nil
}

// Close releases the lock on the file. The data is already on disk.
func (s *JSONFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock.Release()
}
