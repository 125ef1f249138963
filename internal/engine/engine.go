// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package engine turns html/template sources into render production
// routines. Compiled templates are kept in an in-memory L1 cache keyed by
// name and version, so repeated renders skip the template.Parse step.
// A template's source can be replaced at runtime with Publish; every render
// carries the template's tag, which the caller invalidates afterwards.
//
// Templates get the children's rendered output and the element's Data,
// plus these functions:
//
//	url      site-relative link in the current language
//	absurl   absolute link in the current language
//	page     link to a page by title
//	markdown Markdown to HTML
//
// The link functions emit their cache contexts through the render context,
// so an element whose template links anywhere varies by language.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"rendercache/internal/cachemeta"
	"rendercache/internal/link"
	"rendercache/internal/markdown"
	"rendercache/internal/render"
)

// TagPrefix prefixes the cache tag every template render carries, so
// publishing a template can invalidate everything rendered with it.
const TagPrefix = "template:"

// Template is a named, versioned template source.
type Template struct {
	Name    string
	Version int
	Source  string
}

// Tag returns the cache tag for t.
func (t Template) Tag() string {
	return TagPrefix + t.Name
}

// Data holds everything available to a template as {{.Children}} etc.
type Data struct {
	Name string
	// Children holds each child's output in declared order.
	Children []template.HTML
	// Content is every child's output concatenated.
	Content template.HTML
	// Data is the element's Data.
	Data any
}

// Engine compiles and executes templates.
type Engine struct {
	store *templateStore
	links *link.Generator
}

// New creates a template engine with an empty L1 cache.
func New(links *link.Generator) *Engine {
	if links == nil {
		links = link.New("", "")
	}
	return &Engine{
		store: newTemplateStore(),
		links: links,
	}
}

// Publish validates source and makes it the source of every later render
// of the template called name, whatever its declared source. It returns
// the publication's revision.
func (e *Engine) Publish(name, source string) (int, error) {
	if name == "" {
		return 0, errors.New("publish template: empty name")
	}
	if err := e.ValidateTemplate(source); err != nil {
		return 0, err
	}
	rev := e.store.publish(name, source)
	slog.Info("template published", "name", name, "revision", rev)
	return rev, nil
}

// Revert restores the declared source of the template called name. It
// reports false if no source was published for it.
func (e *Engine) Revert(name string) bool {
	if !e.store.revert(name) {
		return false
	}
	slog.Info("template reverted", "name", name)
	return true
}

// ValidateTemplate attempts to compile a template source and returns an
// error if the Go template syntax is invalid.
func (e *Engine) ValidateTemplate(source string) error {
	if _, err := e.parse("validate", source); err != nil {
		return fmt.Errorf("invalid template syntax: %w", err)
	}
	return nil
}

// Produce returns a production routine that executes tmpl. The routine
// reports the template's tag as its own metadata.
func (e *Engine) Produce(tmpl Template) render.ProduceFunc {
	return func(ctx context.Context, el *render.Element, children [][]byte) ([]byte, cachemeta.Metadata, error) {
		compiled, err := e.compile(tmpl)
		if err != nil {
			return nil, cachemeta.Metadata{}, err
		}

		data := Data{
			Name:     el.Name,
			Children: make([]template.HTML, len(children)),
			Data:     el.Data,
		}
		var content strings.Builder
		for i, c := range children {
			data.Children[i] = template.HTML(c)
			content.Write(c)
		}
		data.Content = template.HTML(content.String())

		out, err := e.execute(ctx, compiled, data)
		if err != nil {
			return nil, cachemeta.Metadata{}, err
		}
		return out, cachemeta.New().AddTags(tmpl.Tag()), nil
	}
}

// compile returns the compiled tmpl, from L1 when possible. Templates with
// an empty name are compiled every time.
func (e *Engine) compile(tmpl Template) (*template.Template, error) {
	source, key := e.store.resolve(tmpl)
	if tmpl.Name != "" {
		if compiled := e.store.get(key); compiled != nil {
			return compiled, nil
		}
	}

	compiled, err := e.parse(tmpl.Name, source)
	if err != nil {
		return nil, fmt.Errorf("compile template %q: %w", tmpl.Name, err)
	}
	if tmpl.Name != "" {
		e.store.put(key, compiled)
	}
	return compiled, nil
}

// parse compiles source with placeholder functions. The real link
// functions are bound per execution, since they need the render ctx.
func (e *Engine) parse(name, source string) (*template.Template, error) {
	return template.New(name).Funcs(e.funcs(context.Background())).Parse(source)
}

func (e *Engine) execute(ctx context.Context, compiled *template.Template, data Data) ([]byte, error) {
	t, err := compiled.Clone()
	if err != nil {
		return nil, fmt.Errorf("clone template: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Funcs(e.funcs(ctx)).Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute template: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *Engine) funcs(ctx context.Context) template.FuncMap {
	return template.FuncMap{
		"url": func(path string) string {
			return e.links.URL(ctx, path)
		},
		"absurl": func(path string) string {
			return e.links.Absolute(ctx, path)
		},
		"page": func(title string) string {
			return e.links.Page(ctx, title)
		},
		"markdown": markdown.Render,
	}
}
