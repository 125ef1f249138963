// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package rendercontext captures cacheability metadata emitted by code that
// has no return slot for it, such as a link generator called from deep
// inside a template. The caller enters a frame, invokes the operation, and
// exits the frame to collect whatever was emitted meanwhile.
//
// One Stack belongs to exactly one render pass. It is not safe for
// concurrent use; parallel sibling renders each get their own Fork.
package rendercontext

import (
	"errors"
	"fmt"
	"log/slog"

	"rendercache/internal/cachemeta"
)

// Sentinel errors for pairing faults.
var (
	ErrNoActiveFrame  = errors.New("rendercontext: metadata emitted with no active frame")
	ErrUnbalancedExit = errors.New("rendercontext: frame exited out of order")
)

// Frame is the handle returned by Enter and consumed by Exit.
type Frame struct {
	id uint64
}

type frame struct {
	id   uint64
	meta cachemeta.Metadata
}

// Stack is a per-pass stack of metadata collectors.
//
// In strict mode pairing faults panic with ErrNoActiveFrame or
// ErrUnbalancedExit. Otherwise they are logged and recorded, and Faulted
// reports true for the rest of the pass so the caller can refuse to cache.
type Stack struct {
	frames []frame
	nextID uint64
	strict bool
	faults []error
}

// NewStack creates an empty stack.
func NewStack(strict bool) *Stack {
	return &Stack{strict: strict}
}

// Fork returns an empty stack with the same strictness, for a sibling
// subtree rendered on another goroutine. Fold it back with Join.
func (s *Stack) Fork() *Stack {
	return &Stack{strict: s.strict, nextID: s.nextID}
}

// Join folds a forked stack back into s. A fork that still holds frames is
// itself a pairing fault.
func (s *Stack) Join(child *Stack) {
	s.faults = append(s.faults, child.faults...)
	if !child.IsEmpty() {
		s.fault(fmt.Errorf("%w: forked stack finished with %d open frames", ErrUnbalancedExit, child.Depth()))
	}
}

// Enter pushes an empty frame and returns its handle.
func (s *Stack) Enter() Frame {
	s.nextID++
	s.frames = append(s.frames, frame{id: s.nextID})
	return Frame{id: s.nextID}
}

// Emit merges delta into the top frame.
func (s *Stack) Emit(delta cachemeta.Metadata) {
	if len(s.frames) == 0 {
		s.fault(fmt.Errorf("%w: %s", ErrNoActiveFrame, delta))
		return
	}
	top := &s.frames[len(s.frames)-1]
	top.meta = top.meta.Merge(delta)
}

// Exit pops f, which must be the top frame, and returns what it collected.
//
// In non-strict mode an out-of-order exit unwinds every frame above f and
// returns their combined metadata capped to Uncacheable. An unknown handle
// returns Uncacheable metadata and leaves the stack untouched.
func (s *Stack) Exit(f Frame) cachemeta.Metadata {
	n := len(s.frames)
	if n > 0 && s.frames[n-1].id == f.id {
		m := s.frames[n-1].meta
		s.frames = s.frames[:n-1]
		return m
	}

	pos := -1
	for i := n - 1; i >= 0; i-- {
		if s.frames[i].id == f.id {
			pos = i
			break
		}
	}
	s.fault(fmt.Errorf("%w: frame %d, top %d", ErrUnbalancedExit, f.id, s.topID()))

	collected := cachemeta.New()
	if pos >= 0 {
		for _, fr := range s.frames[pos:] {
			collected = collected.Merge(fr.meta)
		}
		s.frames = s.frames[:pos]
	}
	return collected.CapMaxAge(cachemeta.Uncacheable)
}

// IsEmpty reports whether every entered frame has been exited.
func (s *Stack) IsEmpty() bool {
	return len(s.frames) == 0
}

// Depth returns the number of open frames.
func (s *Stack) Depth() int {
	return len(s.frames)
}

// Faulted reports whether a pairing fault was recorded in non-strict mode.
func (s *Stack) Faulted() bool {
	return len(s.faults) > 0
}

// Err returns the recorded faults joined, or nil.
func (s *Stack) Err() error {
	return errors.Join(s.faults...)
}

// Strict reports whether pairing faults panic.
func (s *Stack) Strict() bool {
	return s.strict
}

func (s *Stack) topID() uint64 {
	if len(s.frames) == 0 {
		return 0
	}
	return s.frames[len(s.frames)-1].id
}

func (s *Stack) fault(err error) {
	if s.strict {
		panic(err)
	}
	slog.Error("render context fault, output will not be cached", "error", err)
	s.faults = append(s.faults, err)
}
