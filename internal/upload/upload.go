// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package upload streams fetched payloads to Google Drive.
package upload

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"golang.org/x/oauth2"

	"go.astrophena.name/tgdrive/internal/credstore"
	"go.astrophena.name/tgdrive/internal/fetch"
)

// File is an uploaded file.
type File struct {
	ID   string
	Name string
	// Link is the shareable view link.
	Link string
	Size int64
}

// Progress receives the number of bytes sent so far and the payload size.
type Progress func(sent, total int64)

// Credentials gives out tokens of users. It is implemented by
// [credstore.Store].
type Credentials interface {
	Token(ctx context.Context, user int64) (*oauth2.Token, error)
	TokenSource(ctx context.Context, user int64) oauth2.TokenSource
}

// CreateRequest is a file to create in the user's storage.
type CreateRequest struct {
	Name string
	// Parent is the ID of the destination folder. Empty means the root.
	Parent   string
	Media    io.Reader
	Size     int64
	Progress Progress
}

// Provider creates files in cloud storage on behalf of a user.
type Provider interface {
	Create(ctx context.Context, ts oauth2.TokenSource, req CreateRequest) (*File, error)
}

// Uploader uploads payloads for users.
type Uploader struct {
	Credentials Credentials
	Provider    Provider
	// Folder, if set, is the parent folder ID of uploaded files.
	Folder string
	Logger *slog.Logger
}

// Upload uploads p as name to the storage of user. The payload is released
// before Upload returns, whatever the outcome. progress may be nil.
//
// Upload doesn't retry. Provider failures are returned as *Error.
func (u *Uploader) Upload(ctx context.Context, p fetch.Payload, name string, user int64, progress Progress) (*File, error) {
	defer func() {
		if err := p.Release(); err != nil {
			u.logger().Warn("releasing payload", "name", name, "err", err)
		}
	}()

	if _, err := u.Credentials.Token(ctx, user); err != nil {
		if errors.Is(err, credstore.ErrNotAuthorized) {
			return nil, err
		}
		return nil, errors.Join(credstore.ErrNotAuthorized, err)
	}

	f, err := u.Provider.Create(ctx, u.Credentials.TokenSource(ctx, user), CreateRequest{
		Name:     name,
		Parent:   u.Folder,
		Media:    p,
		Size:     p.Size(),
		Progress: progress,
	})
	if err != nil {
		if errors.Is(err, credstore.ErrNotAuthorized) {
			return nil, err
		}
		return nil, classify(err)
	}
	if f.Link == "" && f.ID != "" {
		f.Link = "https://drive.google.com/file/d/" + f.ID + "/view"
	}
	if f.Size == 0 {
		f.Size = p.Size()
	}
	return f, nil
}

func (u *Uploader) logger() *slog.Logger {
	if u.Logger != nil {
		return u.Logger
	}
	return slog.Default()
}
