// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"rendercache/internal/render"
	"rendercache/internal/rendercontext"
)

// Recoverer catches panics in downstream handlers, logs the stack trace,
// and returns a 500 Internal Server Error instead of crashing the server.
// Render context faults raised in strict mode are logged as such, since
// they point at a production routine with unbalanced frames.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			msg := "panic recovered"
			if err, ok := rec.(error); ok && isRenderFault(err) {
				msg = "render context fault"
			}
			slog.Error(msg,
				"error", rec,
				"request_id", RequestIDFromCtx(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

func isRenderFault(err error) bool {
	return errors.Is(err, rendercontext.ErrNoActiveFrame) ||
		errors.Is(err, rendercontext.ErrUnbalancedExit) ||
		errors.Is(err, render.ErrStackNotEmpty)
}
