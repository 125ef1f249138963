// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package engine

import (
	"html/template"
	"log/slog"
	"sync"
)

// compiledKey identifies one compiled source. revision is 0 for the source
// a Template was declared with and counts publications after that.
type compiledKey struct {
	name     string
	version  int
	revision int
}

type publishedSource struct {
	source   string
	revision int
}

// templateStore holds compiled templates and the sources published at
// runtime, which replace a template's declared source until reverted.
type templateStore struct {
	mu        sync.RWMutex
	compiled  map[compiledKey]*template.Template
	published map[string]publishedSource
	revisions map[string]int // never decreases, so a reverted revision is not reused
}

func newTemplateStore() *templateStore {
	return &templateStore{
		compiled:  make(map[compiledKey]*template.Template),
		published: make(map[string]publishedSource),
		revisions: make(map[string]int),
	}
}

// resolve returns the effective source of tmpl and its compiled key.
func (s *templateStore) resolve(tmpl Template) (string, compiledKey) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := compiledKey{name: tmpl.Name, version: tmpl.Version}
	if p, ok := s.published[tmpl.Name]; ok {
		key.revision = p.revision
		return p.source, key
	}
	return tmpl.Source, key
}

func (s *templateStore) get(key compiledKey) *template.Template {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compiled[key]
}

func (s *templateStore) put(key compiledKey, tmpl *template.Template) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compiled[key] = tmpl
	slog.Debug("template compiled", "name", key.name, "version", key.version, "revision", key.revision, "size", len(s.compiled))
}

// publish makes source the effective source of name and returns its
// revision. Compiled earlier sources of name are dropped.
func (s *templateStore) publish(name, source string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revisions[name]++
	rev := s.revisions[name]
	s.published[name] = publishedSource{source: source, revision: rev}
	s.drop(name, rev)
	return rev
}

// revert drops the published source of name. It reports false if nothing
// was published.
func (s *templateStore) revert(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.published[name]; !ok {
		return false
	}
	delete(s.published, name)
	s.drop(name, 0)
	return true
}

// drop removes compiled sources of name other than revision keep. The
// caller holds the write lock.
func (s *templateStore) drop(name string, keep int) {
	for k := range s.compiled {
		if k.name == name && k.revision != keep {
			delete(s.compiled, k)
		}
	}
}

func (s *templateStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.compiled)
}
