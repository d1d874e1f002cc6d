// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package fetch

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"sync"
)

// Payload is a downloaded file. It is either held in memory or spilled to a
// temporary file; readers don't need to know which.
//
// Release frees the backing resources. It may be called any number of times.
type Payload interface {
	io.Reader
	// Size returns the number of bytes in the payload.
	Size() int64
	// Spilled reports whether the payload is backed by a temporary file.
	Spilled() bool
	// Release frees the payload. Calls after the first do nothing.
	Release() error

	sealed()
}

type memoryPayload struct {
	*bytes.Reader
	size int64
}

func newMemoryPayload(b []byte) *memoryPayload {
	return &memoryPayload{Reader: bytes.NewReader(b), size: int64(len(b))}
}

func (p *memoryPayload) Size() int64   { return p.size }
func (p *memoryPayload) Spilled() bool { return false }
func (p *memoryPayload) sealed()       {}

func (p *memoryPayload) Release() error {
	p.Reader.Reset(nil)
	return nil
}

type spilledPayload struct {
	f    *os.File
	size int64

	once sync.Once
	err  error
}

func (p *spilledPayload) Read(b []byte) (int, error) { return p.f.Read(b) }
func (p *spilledPayload) Size() int64                { return p.size }
func (p *spilledPayload) Spilled() bool              { return true }
func (p *spilledPayload) sealed()                    {}

// Name returns the path of the temporary file.
func (p *spilledPayload) Name() string { return p.f.Name() }

func (p *spilledPayload) Release() error {
	p.once.Do(func() { p.err = removeTemp(p.f) })
	return p.err
}

func removeTemp(f *os.File) error {
	cerr := f.Close()
	if errors.Is(cerr, os.ErrClosed) {
		cerr = nil
	}
	rerr := os.Remove(f.Name())
	if errors.Is(rerr, fs.ErrNotExist) {
		rerr = nil
	}
	return errors.Join(cerr, rerr)
}
