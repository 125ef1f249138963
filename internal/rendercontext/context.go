// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package rendercontext

import (
	"context"
	"log/slog"

	"rendercache/internal/cachemeta"
)

type stackKey struct{}

// WithStack returns a context carrying s.
func WithStack(ctx context.Context, s *Stack) context.Context {
	return context.WithValue(ctx, stackKey{}, s)
}

// FromContext returns the stack carried by ctx, or nil outside a render pass.
func FromContext(ctx context.Context) *Stack {
	s, _ := ctx.Value(stackKey{}).(*Stack)
	return s
}

// Emit reports metadata to the innermost open frame of the pass carried by
// ctx. Outside a render pass there is nobody to collect it and the call is
// a no-op; inside a pass with no open frame it is a pairing fault.
func Emit(ctx context.Context, delta cachemeta.Metadata) {
	s := FromContext(ctx)
	if s == nil {
		slog.Debug("render metadata emitted outside a render pass", "metadata", delta.String())
		return
	}
	s.Emit(delta)
}

// Capture runs fn inside a fresh frame and returns the metadata emitted
// while it ran. The frame is exited even if fn panics. If ctx carries no
// stack, a strict one is created for the duration of the call.
func Capture(ctx context.Context, fn func(ctx context.Context) error) (meta cachemeta.Metadata, err error) {
	s := FromContext(ctx)
	if s == nil {
		s = NewStack(true)
		ctx = WithStack(ctx, s)
	}

	f := s.Enter()
	defer func() { meta = s.Exit(f) }()
	return cachemeta.Metadata{}, fn(ctx)
}
