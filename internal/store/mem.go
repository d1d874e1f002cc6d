// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"

	"go.astrophena.name/tgdrive/internal/syncx"
)

// MemStore keeps values in memory. They are lost when the process exits.
type MemStore struct {
	m syncx.Map[string, []byte]
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore { return new(MemStore) }

// Get retrieves a value for a given key. The returned slice is a copy.
func (s *MemStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := s.m.Load(key)
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value for a given key.
func (s *MemStore) Set(_ context.Context, key string, value []byte) error {
	s.m.Store(key, append([]byte(nil), value...))
	return nil
}

// Delete removes a key.
func (s *MemStore) Delete(_ context.Context, key string) error {
	s.m.Delete(key)
	return nil
}

// Close is a no-op.
func (s *MemStore) Close() error { return nil }
