// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/dustin/go-humanize"
)

// ErrFileTooLarge is returned when a file exceeds the active tier limit.
var ErrFileTooLarge = errors.New("file is too large")

// TooLargeError describes a file over the limit. It matches ErrFileTooLarge
// with errors.Is.
type TooLargeError struct {
	Size  int64
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("%v: %s exceeds the limit of %s", ErrFileTooLarge, humanize.IBytes(uint64(e.Size)), humanize.IBytes(uint64(e.Limit)))
}

func (e *TooLargeError) Unwrap() error { return ErrFileTooLarge }

// Error is a failed download.
type Error struct {
	// StatusCode is the HTTP status returned by the gateway, or zero if no
	// response was received.
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports whether retrying the download may succeed.
func (e *Error) Temporary() bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode >= 500:
		return true
	case e.StatusCode != 0:
		return false
	case errors.Is(e.Err, context.Canceled):
		return false
	case errors.Is(e.Err, context.DeadlineExceeded):
		return true
	}
	var ne net.Error
	if errors.As(e.Err, &ne) && ne.Timeout() {
		return true
	}
	// Other transport failures: connection reset, refused and the like.
	return !errors.Is(e.Err, errSizeMismatch) && !errors.Is(e.Err, errSpill) && !errors.Is(e.Err, errLocalPath)
}

var (
	errSizeMismatch = errors.New("size mismatch")
	errSpill        = errors.New("temporary file")
	errLocalPath    = errors.New("local file path, run the Bot API server without --local")
)
