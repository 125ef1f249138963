// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"rendercache/internal/contexts"
	"rendercache/internal/session"
)

type sessionKey struct{}

// SessionLoader looks up the session a request belongs to.
type SessionLoader interface {
	Get(ctx context.Context, r *http.Request) (*session.Data, error)
}

// LoadSession retrieves the visitor session and stores it in the request
// context. It does not enforce authentication: visitors without a session,
// or whose session cannot be loaded, are anonymous.
func LoadSession(loader SessionLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data, err := loader.Get(r.Context(), r)
			if err != nil {
				slog.Warn("session load failed, treating visitor as anonymous", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			if data != nil {
				r = r.WithContext(context.WithValue(r.Context(), sessionKey{}, data))
			}

			next.ServeHTTP(w, r)
		})
	}
}

// SessionFromCtx extracts the session data from the request context.
// Returns nil if no session is loaded.
func SessionFromCtx(ctx context.Context) *session.Data {
	data, _ := ctx.Value(sessionKey{}).(*session.Data)
	return data
}

// Identity is a contexts.IdentityFunc reading the session loaded by
// LoadSession.
func Identity(r *http.Request) contexts.Identity {
	return SessionFromCtx(r.Context()).Identity()
}
