// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package render walks a tree of render elements depth-first, producing
// output and aggregating cacheability metadata bottom-up.
//
// Each element's metadata is the merge of its children's, its declared
// metadata, what its production routine returns, and whatever was emitted
// to the render context while that routine ran. Cacheable elements are
// looked up before their subtree is walked; a hit short-circuits the
// subtree but its stored metadata still bubbles to the parent.
//
// Every pass owns one rendercontext.Stack. In strict mode pairing faults
// panic; otherwise they are logged and the affected output is forced
// uncacheable.
package render

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"rendercache/internal/cachemeta"
	"rendercache/internal/contexts"
	"rendercache/internal/observe"
	"rendercache/internal/rendercontext"
	"rendercache/internal/variation"
)

// Walker renders element trees.
type Walker struct {
	cache    *variation.Cache
	strict   bool
	parallel bool
	metrics  observe.Metrics
}

// Option configures a Walker.
type Option func(*Walker)

// WithStrict makes pairing faults panic instead of disabling caching.
func WithStrict(strict bool) Option {
	return func(w *Walker) { w.strict = strict }
}

// WithParallel renders sibling subtrees concurrently.
func WithParallel(parallel bool) Option {
	return func(w *Walker) { w.parallel = parallel }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m observe.Metrics) Option {
	return func(w *Walker) { w.metrics = m }
}

// NewWalker creates a Walker. A nil cache disables caching entirely.
func NewWalker(cache *variation.Cache, opts ...Option) *Walker {
	w := &Walker{cache: cache, strict: true, metrics: observe.Noop()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Render runs one render pass over root. resolver supplies context values
// for cache keys and is also made available to production routines through
// contexts.ResolverFromContext.
func (w *Walker) Render(ctx context.Context, root *Element, resolver contexts.Resolver) (*Result, error) {
	passID := uuid.New()
	stack := rendercontext.NewStack(w.strict)
	ctx = rendercontext.WithStack(ctx, stack)
	ctx = contexts.WithResolver(ctx, resolver)

	res, err := w.walk(ctx, root, resolver)
	if err != nil {
		slog.Warn("render pass failed", "pass", passID, "root", root.Name, "error", err)
		return nil, err
	}

	if !stack.IsEmpty() {
		err := fmt.Errorf("%w: %d open frames", ErrStackNotEmpty, stack.Depth())
		if w.strict {
			panic(err)
		}
		slog.Error("render context fault, output will not be cached", "pass", passID, "error", err)
		res.Metadata = res.Metadata.CapMaxAge(cachemeta.Uncacheable)
	}
	if stack.Faulted() {
		res.Metadata = res.Metadata.CapMaxAge(cachemeta.Uncacheable)
	}

	slog.Debug("render pass complete",
		"pass", passID,
		"root", root.Name,
		"cache_hit", res.CacheHit,
		"metadata", res.Metadata.String(),
	)
	return res, nil
}

// walk renders el, consulting the cache first when el is cacheable.
func (w *Walker) walk(ctx context.Context, el *Element, resolver contexts.Resolver) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !el.Cacheable() || w.cache == nil {
		return w.build(ctx, el, resolver)
	}

	var built *Result
	entry, hit, err := w.cache.GetOrCompute(ctx, el.Keys, el.Metadata.Contexts(), resolver,
		func(ctx context.Context) ([]byte, cachemeta.Metadata, error) {
			r, err := w.build(ctx, el, resolver)
			if err != nil {
				return nil, cachemeta.Metadata{}, err
			}
			built = r
			return r.Output, r.Metadata, nil
		})
	if err != nil {
		return nil, err
	}
	w.metrics.RecordRender(ctx, el.Name, hit)

	if built != nil {
		return built, nil
	}
	// A hit, or a result computed by a concurrent pass for the same key.
	return &Result{
		Element:  el,
		Output:   entry.Payload,
		Metadata: entry.Metadata,
		CacheHit: hit,
	}, nil
}

// build renders el's children, then el itself, without consulting the
// cache for el.
func (w *Walker) build(ctx context.Context, el *Element, resolver contexts.Resolver) (*Result, error) {
	children, err := w.children(ctx, el, resolver)
	if err != nil {
		return nil, err
	}

	acc := cachemeta.New()
	outputs := make([][]byte, len(children))
	for i, c := range children {
		acc = acc.Merge(c.Metadata)
		outputs[i] = c.Output
	}

	produce := el.Produce
	if produce == nil {
		produce = Concat
	}

	var (
		out []byte
		own cachemeta.Metadata
	)
	leaked, err := rendercontext.Capture(ctx, func(ctx context.Context) error {
		var err error
		out, own, err = produce(ctx, el, outputs)
		return err
	})
	if err != nil {
		return nil, &ElementError{Element: el.Name, Err: err}
	}

	acc = cachemeta.Merge(acc, el.Metadata, own, leaked)
	if rendercontext.FromContext(ctx).Faulted() {
		acc = acc.CapMaxAge(cachemeta.Uncacheable)
	}

	return &Result{Element: el, Output: out, Metadata: acc, Children: children}, nil
}

// children renders el's children in declared order.
func (w *Walker) children(ctx context.Context, el *Element, resolver contexts.Resolver) ([]*Result, error) {
	results := make([]*Result, len(el.Children))
	if !w.parallel || len(el.Children) < 2 {
		for i, child := range el.Children {
			r, err := w.walk(ctx, child, resolver)
			if err != nil {
				return nil, err
			}
			results[i] = r
		}
		return results, nil
	}

	stack := rendercontext.FromContext(ctx)
	forks := make([]*rendercontext.Stack, len(el.Children))
	panics := make([]any, len(el.Children))

	g, gctx := errgroup.WithContext(ctx)
	for i, child := range el.Children {
		forks[i] = stack.Fork()
		cctx := rendercontext.WithStack(gctx, forks[i])
		g.Go(func() (err error) {
			// Strict-mode faults panic; re-raise them on the caller's goroutine.
			defer func() {
				if p := recover(); p != nil {
					panics[i] = p
					err = fmt.Errorf("render %s: panic", child.Name)
				}
			}()
			results[i], err = w.walk(cctx, child, resolver)
			return err
		})
	}
	err := g.Wait()

	for i, fork := range forks {
		if panics[i] != nil {
			panic(panics[i])
		}
		stack.Join(fork)
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}
