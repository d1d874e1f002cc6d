// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package store implements a durable key-value store backed in-memory, by
// JSON file or by PostgreSQL.
//
// Entries never expire: the store holds OAuth refresh tokens, which stay
// valid until the user revokes them.
package store

import (
	"context"
	"strings"
)

// Store is a key-value store.
type Store interface {
	// Get retrieves a value for a given key.
	// It must return (nil, nil) if the key is not found.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores a value for a given key.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close closes the store and releases any resources.
	Close() error
}

// Open opens a store described by dsn. An empty dsn means an in-memory store,
// postgres:// and postgresql:// URLs mean PostgreSQL, and anything else is a
// path to a JSON file.
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case dsn == "":
		return NewMemStore(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgresStore(ctx, dsn)
	default:
		return NewJSONFile(dsn)
	}
}
