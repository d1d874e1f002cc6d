// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package fetch downloads files from a Bot API server, keeping small files in
// memory and spilling large ones to temporary files.
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"go.astrophena.name/tgdrive/internal/request"
	"go.astrophena.name/tgdrive/internal/version"
)

// ChunkSize is the buffer size used when writing to a temporary file.
const ChunkSize = 8 << 10

// Fetcher downloads files from the Bot API file endpoint.
type Fetcher struct {
	// Gateway is the base URL of the Bot API server. Empty means PublicGateway.
	Gateway string
	// Token is the bot token.
	Token string
	// Tier decides size limits and buffering.
	Tier Tier
	// HTTPClient is used for downloads. If nil, http.DefaultClient is used;
	// callers bound downloads with the context.
	HTTPClient *http.Client
	// TempDir is where payloads are spilled. Empty means os.TempDir.
	TempDir string
	// Scrubber removes secrets from error messages. If nil, the token is
	// scrubbed.
	Scrubber *strings.Replacer
}

// Limit returns the largest file size the Fetcher accepts.
func (f *Fetcher) Limit() int64 { return f.Tier.Limit() }

// URL returns the download URL of filePath. It contains the bot token.
func (f *Fetcher) URL(filePath string) string {
	gw := f.Gateway
	if gw == "" {
		gw = PublicGateway
	}
	return strings.TrimSuffix(gw, "/") + "/file/bot" + f.Token + "/" + strings.TrimPrefix(filePath, "/")
}

func (f *Fetcher) scrub(err error) error {
	scrubber := f.Scrubber
	if scrubber == nil && f.Token != "" {
		scrubber = strings.NewReplacer(f.Token, "[EXPUNGED]")
	}
	return request.Scrub(err, scrubber)
}

func (f *Fetcher) fail(code int, err error) error {
	return &Error{StatusCode: code, Err: f.scrub(err)}
}

// Fetch downloads filePath. declaredSize comes from the Bot API and is checked
// against the bytes actually received; zero means unknown.
//
// The returned Payload must be released by the caller. On error nothing is
// left on disk.
func (f *Fetcher) Fetch(ctx context.Context, filePath string, declaredSize int64) (Payload, error) {
	limit := f.Tier.Limit()
	if declaredSize > limit {
		return nil, &TooLargeError{Size: declaredSize, Limit: limit}
	}
	if strings.HasPrefix(filePath, "/") {
		// A Bot API server in --local mode returns paths on its own disk.
		return nil, f.fail(0, fmt.Errorf("%w: %s", errLocalPath, filePath))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(filePath), nil)
	if err != nil {
		return nil, f.fail(0, err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	httpc := f.HTTPClient
	if httpc == nil {
		httpc = http.DefaultClient
	}
	res, err := httpc.Do(req)
	if err != nil {
		return nil, f.fail(0, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, f.fail(res.StatusCode, fmt.Errorf("%s", bytes.TrimSpace(body)))
	}

	size := declaredSize
	if size <= 0 {
		size = res.ContentLength
	}
	if size > limit {
		return nil, &TooLargeError{Size: size, Limit: limit}
	}

	// One byte past the limit is enough to tell that the gateway lied.
	body := io.LimitReader(res.Body, limit+1)

	spill := f.Tier.Spill(size)
	if size < 0 {
		spill = limit >= f.Tier.MemoryThreshold
	}

	var p Payload
	if spill {
		p, err = f.spill(body)
	} else {
		p, err = f.buffer(body, size)
	}
	if err != nil {
		return nil, err
	}

	if err := f.check(p, declaredSize, limit); err != nil {
		p.Release()
		return nil, err
	}
	return p, nil
}

func (f *Fetcher) check(p Payload, declaredSize, limit int64) error {
	if p.Size() > limit {
		return &TooLargeError{Size: p.Size(), Limit: limit}
	}
	if declaredSize > 0 && p.Size() != declaredSize {
		return f.fail(0, fmt.Errorf("%w: got %d bytes, want %d", errSizeMismatch, p.Size(), declaredSize))
	}
	return nil
}

func (f *Fetcher) buffer(r io.Reader, size int64) (Payload, error) {
	var buf bytes.Buffer
	if size > 0 {
		buf.Grow(int(size))
	}
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, f.fail(0, err)
	}
	return newMemoryPayload(buf.Bytes()), nil
}

func (f *Fetcher) spill(r io.Reader) (_ Payload, err error) {
	tmp, err := os.CreateTemp(f.TempDir, "tgdrive-*.part")
	if err != nil {
		return nil, f.fail(0, fmt.Errorf("%w: %v", errSpill, err))
	}
	defer func() {
		if err != nil {
			removeTemp(tmp)
		}
	}()

	// Hide ReadFrom so the copy goes through our buffer.
	n, err := io.CopyBuffer(struct{ io.Writer }{tmp}, r, make([]byte, ChunkSize))
	if err != nil {
		return nil, f.fail(0, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, f.fail(0, fmt.Errorf("%w: %v", errSpill, err))
	}
	return &spilledPayload{f: tmp, size: n}, nil
}
