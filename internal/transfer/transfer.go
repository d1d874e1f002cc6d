// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package transfer drives a file from Telegram to Google Drive: it checks
// credentials and size limits, fetches the file and uploads it, retrying
// transient failures.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"go.astrophena.name/tgdrive/internal/fetch"
	"go.astrophena.name/tgdrive/internal/request"
	"go.astrophena.name/tgdrive/internal/upload"
)

// DefaultMaxRetries is how many times a transient failure is retried.
const DefaultMaxRetries = 3

// Request is one inbound file.
type Request struct {
	// ID identifies the transfer in logs. Run fills it if empty.
	ID string
	// FileID is the Telegram file ID.
	FileID string
	// FilePath is the path on the gateway. If empty, it's resolved from
	// FileID.
	FilePath string
	// DeclaredSize is the size reported by Telegram. It is not trusted.
	DeclaredSize int64
	// Name is the destination file name.
	Name   string
	Owner  int64
	ChatID int64
}

// Result is the outcome of a transfer.
type Result struct {
	ID    string
	State State
	Kind  Kind
	// Link is the shareable link of the uploaded file.
	Link     string
	File     *upload.File
	Spilled  bool
	Attempts int
	Err      error
}

// Observer receives transfer events. Any field may be nil.
type Observer struct {
	// OnState is called on every state change. attempt counts from 1.
	OnState func(s State, attempt int)
	// OnProgress is called as the upload proceeds.
	OnProgress func(sent, total int64)
}

func (o *Observer) state(s State, attempt int) {
	if o != nil && o.OnState != nil {
		o.OnState(s, attempt)
	}
}

func (o *Observer) progress() upload.Progress {
	if o == nil || o.OnProgress == nil {
		return nil
	}
	return upload.Progress(o.OnProgress)
}

// Credentials checks that a user can upload.
type Credentials interface {
	Token(ctx context.Context, user int64) (*oauth2.Token, error)
}

// Resolver returns the gateway path and size of a Telegram file.
type Resolver interface {
	ResolveFile(ctx context.Context, fileID string) (path string, size int64, err error)
}

// ResolverFunc is a function that implements [Resolver].
type ResolverFunc func(ctx context.Context, fileID string) (string, int64, error)

// ResolveFile calls f(ctx, fileID).
func (f ResolverFunc) ResolveFile(ctx context.Context, fileID string) (string, int64, error) {
	return f(ctx, fileID)
}

// Fetcher downloads files. It is implemented by [fetch.Fetcher].
type Fetcher interface {
	Fetch(ctx context.Context, filePath string, declaredSize int64) (fetch.Payload, error)
	Limit() int64
}

// Uploader uploads payloads. It is implemented by [upload.Uploader].
type Uploader interface {
	Upload(ctx context.Context, p fetch.Payload, name string, user int64, progress upload.Progress) (*upload.File, error)
}

// Orchestrator runs transfers. It is safe for concurrent use.
type Orchestrator struct {
	Credentials Credentials
	Files       Resolver
	Fetcher     Fetcher
	Uploader    Uploader

	// FetchTimeout and UploadTimeout bound each attempt of the stage. Zero
	// means no limit. A fetch that times out is retried, an upload is not.
	FetchTimeout  time.Duration
	UploadTimeout time.Duration
	// MaxRetries is the number of retries of transient failures. Zero means
	// DefaultMaxRetries, negative disables retries.
	MaxRetries int

	Logger  *slog.Logger
	Metrics *Metrics

	newBackOff func() backoff.BackOff // for tests
}

// Run performs the transfer and reports its outcome. It never panics on
// transfer failures and returns errors only inside the Result.
func (o *Orchestrator) Run(ctx context.Context, req Request, obs *Observer) Result {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	done := o.Metrics.start()
	logger := o.logger().With("transfer", req.ID, "user", req.Owner, "name", req.Name)

	res := o.run(ctx, req, obs, logger)
	res.ID = req.ID
	if res.Err != nil {
		res.State = Failed
		res.Kind = Classify(res.Err)
		logger.Warn("transfer failed", "kind", res.Kind, "attempts", res.Attempts, "err", res.Err)
	} else {
		res.State = Succeeded
		logger.Info("transfer succeeded", "size", res.File.Size, "spilled", res.Spilled, "attempts", res.Attempts)
	}
	obs.state(res.State, res.Attempts)
	done(res)
	return res
}

func (o *Orchestrator) run(ctx context.Context, req Request, obs *Observer, logger *slog.Logger) Result {
	var res Result
	obs.state(Received, 0)

	if _, err := o.Credentials.Token(ctx, req.Owner); err != nil {
		res.Err = err
		return res
	}
	obs.state(CredentialChecked, 0)

	limit := o.Fetcher.Limit()
	if req.DeclaredSize > limit {
		res.Err = &fetch.TooLargeError{Size: req.DeclaredSize, Limit: limit}
		return res
	}

	op := func() error {
		res.Attempts++
		if res.Attempts > 1 {
			logger.Debug("retrying transfer", "attempt", res.Attempts)
		}
		err := o.attempt(ctx, &req, &res, obs)
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	res.Err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(o.backOff(), o.maxRetries()), ctx))
	return res
}

func (o *Orchestrator) attempt(ctx context.Context, req *Request, res *Result, obs *Observer) error {
	obs.state(Fetching, res.Attempts)

	if req.FilePath == "" {
		path, size, err := o.resolve(ctx, req.FileID)
		if err != nil {
			return err
		}
		req.FilePath = path
		if req.DeclaredSize <= 0 {
			req.DeclaredSize = size
		}
		if limit := o.Fetcher.Limit(); req.DeclaredSize > limit {
			return &fetch.TooLargeError{Size: req.DeclaredSize, Limit: limit}
		}
	}

	fctx, cancel := withTimeout(ctx, o.FetchTimeout)
	p, err := o.Fetcher.Fetch(fctx, req.FilePath, req.DeclaredSize)
	cancel()
	if err != nil {
		return err
	}
	if p.Spilled() {
		res.Spilled = true
		o.Metrics.spill()
	}

	obs.state(Uploading, res.Attempts)
	uctx, cancel := withTimeout(ctx, o.UploadTimeout)
	defer cancel()
	f, err := o.Uploader.Upload(uctx, p, req.Name, req.Owner, obs.progress())
	if err != nil {
		if errors.Is(uctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return &timeoutError{stage: Uploading, limit: o.UploadTimeout, err: err}
		}
		return err
	}
	res.File = f
	res.Link = f.Link
	return nil
}

func (o *Orchestrator) resolve(ctx context.Context, fileID string) (string, int64, error) {
	if o.Files == nil {
		return "", 0, errors.New("no file path and no resolver")
	}
	fctx, cancel := withTimeout(ctx, o.FetchTimeout)
	defer cancel()
	path, size, err := o.Files.ResolveFile(fctx, fileID)
	if err != nil {
		fe := &fetch.Error{Err: fmt.Errorf("resolving file: %w", err)}
		var se *request.StatusError
		if errors.As(err, &se) {
			fe.StatusCode = se.StatusCode
		}
		return "", 0, fe
	}
	return path, size, nil
}

func (o *Orchestrator) backOff() backoff.BackOff {
	if o.newBackOff != nil {
		return o.newBackOff()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	return b
}

func (o *Orchestrator) maxRetries() uint64 {
	switch {
	case o.MaxRetries < 0:
		return 0
	case o.MaxRetries == 0:
		return DefaultMaxRetries
	}
	return uint64(o.MaxRetries)
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
