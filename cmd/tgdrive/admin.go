// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package main

import (
	"log/slog"
	"net/http"

	"go.astrophena.name/tgdrive/internal/web"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// adminHandler serves the admin endpoints. It is only exposed on ADMIN_ADDR.
func (b *bot) adminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health", b.health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{
		ErrorLog: slog.NewLogLogger(b.logger.Handler(), slog.LevelError),
	}))
	mux.Handle("GET /debug/logs", b.logs)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		web.RespondJSONError(b.logger, w, r, web.ErrNotFound)
	})
	return mux
}
