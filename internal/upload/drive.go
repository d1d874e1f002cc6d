// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package upload

import (
	"context"
	"mime"
	"path/filepath"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"go.astrophena.name/tgdrive/internal/version"
)

// DefaultChunkSize is the size of one resumable upload request.
const DefaultChunkSize = 8 << 20

// Drive is a [Provider] backed by the Google Drive v3 API. Media larger than
// one chunk is sent with a resumable upload.
type Drive struct {
	// Endpoint overrides the API base URL. Used in tests.
	Endpoint string
	// ChunkSize is the resumable upload chunk size. Zero means
	// DefaultChunkSize.
	ChunkSize int
}

// Create implements [Provider].
func (d *Drive) Create(ctx context.Context, ts oauth2.TokenSource, req CreateRequest) (*File, error) {
	opts := []option.ClientOption{
		option.WithTokenSource(ts),
		option.WithUserAgent(version.UserAgent()),
	}
	if d.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(d.Endpoint))
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}

	meta := &drive.File{Name: req.Name}
	if req.Parent != "" {
		meta.Parents = []string{req.Parent}
	}

	chunk := d.ChunkSize
	if chunk == 0 {
		chunk = DefaultChunkSize
	}
	mediaOpts := []googleapi.MediaOption{googleapi.ChunkSize(chunk)}
	if typ := mime.TypeByExtension(filepath.Ext(req.Name)); typ != "" {
		mediaOpts = append(mediaOpts, googleapi.ContentType(typ))
	}

	call := svc.Files.Create(meta).
		Media(req.Media, mediaOpts...).
		Fields("id", "name", "webViewLink", "size").
		Context(ctx)
	if req.Progress != nil {
		call = call.ProgressUpdater(func(current, _ int64) {
			req.Progress(current, req.Size)
		})
	}

	f, err := call.Do()
	if err != nil {
		return nil, err
	}
	return &File{
		ID:   f.Id,
		Name: f.Name,
		Link: f.WebViewLink,
		Size: f.Size,
	}, nil
}
