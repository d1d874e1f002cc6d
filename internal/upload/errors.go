// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package upload

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"
)

// Error is a failed upload.
type Error struct {
	// StatusCode is the HTTP status returned by the provider, or zero.
	StatusCode int
	// Reason is the first error reason reported by the provider, like
	// "storageQuotaExceeded".
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "":
		return fmt.Sprintf("upload: %s (status %d): %v", e.Reason, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("upload: status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upload: %v", e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Temporary reports whether retrying the upload may succeed. Quota and
// permission errors are permanent.
func (e *Error) Temporary() bool {
	switch e.Reason {
	case "rateLimitExceeded", "userRateLimitExceeded", "backendError":
		return true
	}
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
	return errors.As(e.Err, &ne)
}

// QuotaExceeded reports whether the user ran out of storage.
func (e *Error) QuotaExceeded() bool {
	return e.Reason == "storageQuotaExceeded" || e.Reason == "quotaExceeded"
}

func classify(err error) *Error {
	var ue *Error
	if errors.As(err, &ue) {
		return ue
	}
	e := &Error{Err: err}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		e.StatusCode = gerr.Code
		if len(gerr.Errors) > 0 {
			e.Reason = gerr.Errors[0].Reason
		}
	}
	return e
}
