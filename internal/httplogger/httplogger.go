// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package httplogger provides an [http.RoundTripper] middleware that logs
// outgoing requests at debug level.
package httplogger

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// New returns an [http.RoundTripper] that logs every request made through t
// to logger at debug level. If scrubber is not nil, it's applied to the logged
// URLs and errors. If t is nil, [http.DefaultTransport] is used.
func New(t http.RoundTripper, logger *slog.Logger, scrubber *strings.Replacer) http.RoundTripper {
	if t == nil {
		t = http.DefaultTransport
	}
	return &loggingTransport{transport: t, logger: logger, scrubber: scrubber}
}

type loggingTransport struct {
	transport http.RoundTripper
	logger    *slog.Logger
	scrubber  *strings.Replacer
}

func (t *loggingTransport) scrub(s string) string {
	if t.scrubber == nil {
		return s
	}
	return t.scrubber.Replace(s)
}

func (t *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	if !t.logger.Enabled(ctx, slog.LevelDebug) {
		return t.transport.RoundTrip(r)
	}

	start := time.Now()
	resp, err := t.transport.RoundTrip(r)

	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("url", t.scrub(r.URL.String())),
		slog.Duration("duration", time.Since(start)),
	}
	if r.ContentLength > 0 {
		attrs = append(attrs, slog.Int64("request_size", r.ContentLength))
	}
	if resp != nil {
		attrs = append(attrs, slog.Int("status", resp.StatusCode))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", t.scrub(err.Error())))
	}
	t.logger.LogAttrs(context.WithoutCancel(ctx), slog.LevelDebug, "http request", attrs...)

	return resp, err
}
