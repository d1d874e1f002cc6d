// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package transfer

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.astrophena.name/tgdrive/internal/credstore"
	"go.astrophena.name/tgdrive/internal/fetch"
	"go.astrophena.name/tgdrive/internal/upload"
)

// State is a stage of a transfer.
type State int

const (
	Received State = iota
	CredentialChecked
	Fetching
	Uploading
	Succeeded
	Failed
)

var stateNames = [...]string{
	Received:          "received",
	CredentialChecked: "credential checked",
	Fetching:          "fetching",
	Uploading:         "uploading",
	Succeeded:         "succeeded",
	Failed:            "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Done reports whether s is terminal.
func (s State) Done() bool { return s == Succeeded || s == Failed }

// Kind classifies transfer errors.
type Kind int

const (
	KindNone Kind = iota
	KindNotAuthorized
	KindAuthInit
	KindInvalidCode
	KindNoPendingFlow
	KindFileTooLarge
	KindFetch
	KindUpload
	KindCanceled
	KindInternal
)

var kindNames = [...]string{
	KindNone:          "ok",
	KindNotAuthorized: "not_authorized",
	KindAuthInit:      "auth_init",
	KindInvalidCode:   "invalid_code",
	KindNoPendingFlow: "no_pending_flow",
	KindFileTooLarge:  "file_too_large",
	KindFetch:         "fetch_error",
	KindUpload:        "upload_error",
	KindCanceled:      "canceled",
	KindInternal:      "internal",
}

// String returns a name usable as a metric label.
func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Classify returns the kind of err.
func Classify(err error) Kind {
	var (
		fe *fetch.Error
		ue *upload.Error
	)
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, credstore.ErrNotAuthorized):
		return KindNotAuthorized
	case errors.Is(err, credstore.ErrAuthInit):
		return KindAuthInit
	case errors.Is(err, credstore.ErrInvalidCode):
		return KindInvalidCode
	case errors.Is(err, credstore.ErrNoPendingFlow):
		return KindNoPendingFlow
	case errors.Is(err, fetch.ErrFileTooLarge):
		return KindFileTooLarge
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.As(err, &fe):
		return KindFetch
	case errors.As(err, &ue):
		return KindUpload
	}
	return KindInternal
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	var te *timeoutError
	if errors.As(err, &te) {
		return false
	}
	switch Classify(err) {
	case KindFetch, KindUpload:
	default:
		return false
	}
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

// timeoutError reports that a stage ran out of its time limit. It is final:
// another attempt would be allowed the same time again.
type timeoutError struct {
	stage State
	limit time.Duration
	err   error
}

func (e *timeoutError) Error() string {
	return e.stage.String() + " timed out after " + e.limit.String() + ": " + e.err.Error()
}

func (e *timeoutError) Unwrap() error { return e.err }
