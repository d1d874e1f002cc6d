// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ListenAndServeConfig is used to configure the HTTP server started by
// [ListenAndServe].
//
// All fields of ListenAndServeConfig can't be modified after [ListenAndServe]
// is called.
type ListenAndServeConfig struct {
	// Addr is a network address to listen on (in the form of "host:port").
	Addr string
	// Handler is the handler to serve.
	Handler http.Handler
	// Logger receives server errors. If nil, slog.Default() is used.
	Logger *slog.Logger
	// Ready, if not nil, is called with the listening address once the server
	// accepts connections.
	Ready func(addr string)
}

var (
	errNoAddr     = errors.New("c.Addr is empty")
	errNilHandler = errors.New("c.Handler is nil")
)

const shutdownTimeout = 10 * time.Second

// ListenAndServe serves HTTP on c.Addr until ctx is canceled, then shuts the
// server down gracefully.
func ListenAndServe(ctx context.Context, c *ListenAndServeConfig) error {
	if c.Addr == "" {
		return errNoAddr
	}
	if c.Handler == nil {
		return errNilHandler
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l, err := net.Listen("tcp", c.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer l.Close()
	logger.Info("admin server listening", "addr", l.Addr().String())

	s := &http.Server{
		Handler:           c.Handler,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if c.Ready != nil {
		c.Ready(l.Addr().String())
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}
