// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"rendercache/internal/cachemeta"
	"rendercache/internal/contexts"
	"rendercache/internal/engine"
	"rendercache/internal/middleware"
	"rendercache/internal/models"
	"rendercache/internal/render"
)

// HomeSlug is the page served at "/".
const HomeSlug = "home"

// footerMaxAge bounds how long a rendered footer timestamp may be reused.
const footerMaxAge = 60

// PageSource loads and stores pages.
type PageSource interface {
	FindBySlug(ctx context.Context, slug string) (*models.Page, error)
	List(ctx context.Context) ([]models.Page, error)
	Save(ctx context.Context, page *models.Page) (*models.Page, error)
}

// Invalidator drops cached renders by tag, or all of them.
type Invalidator interface {
	InvalidateTags(ctx context.Context, tags []string, source string) error
	Clear(ctx context.Context) error
}

// Public groups handlers for the public site. Every page is a render tree
// walked through the render cache:
//
//	layout  keys [page, slug]   varies by language
//	├─ nav       keys [nav]     tag page_list, links vary by language
//	├─ greeting                 varies by user
//	├─ body      keys [page_body, slug]  tag page:slug
//	└─ footer                   max-age 60
type Public struct {
	walker          *render.Walker
	engine          *engine.Engine
	pages           PageSource
	cache           Invalidator
	defaultLanguage string
	languages       []string
	now             func() time.Time
}

// NewPublic creates a new Public handler group. cache may be nil when the
// walker runs without a render cache.
func NewPublic(walker *render.Walker, eng *engine.Engine, pages PageSource, cache Invalidator, defaultLanguage string, languages []string) *Public {
	return &Public{
		walker:          walker,
		engine:          eng,
		pages:           pages,
		cache:           cache,
		defaultLanguage: defaultLanguage,
		languages:       languages,
		now:             time.Now,
	}
}

// Homepage renders the home page.
func (p *Public) Homepage(w http.ResponseWriter, r *http.Request) {
	p.render(w, r, HomeSlug, "")
}

// Page renders a page by its slug. A slug naming a supported language
// renders the home page in that language.
func (p *Public) Page(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if p.supported(slug) {
		p.render(w, r, HomeSlug, slug)
		return
	}
	p.render(w, r, slug, "")
}

// LocalizedPage renders /{lang}/{slug}, the form link.Generator produces
// for languages other than the default.
func (p *Public) LocalizedPage(w http.ResponseWriter, r *http.Request) {
	lang := chi.URLParam(r, "lang")
	if !p.supported(lang) {
		http.NotFound(w, r)
		return
	}
	p.render(w, r, chi.URLParam(r, "slug"), lang)
}

// supported reports whether lang is a configured language other than
// the default, i.e. one that appears as a path prefix.
func (p *Public) supported(lang string) bool {
	return lang != p.defaultLanguage && slices.Contains(p.languages, lang)
}

// UpdatePage creates or replaces the page at {slug} from a JSON body
// {"title": ..., "body": ...} and invalidates everything rendered from it.
func (p *Public) UpdatePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := chi.URLParam(r, "slug")

	var req struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body.")
		return
	}
	if msg := validatePage(req.Title, slug, req.Body); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, msg)
		return
	}

	page, err := p.pages.Save(ctx, &models.Page{Slug: slug, Title: strings.TrimSpace(req.Title), Body: req.Body})
	if err != nil {
		slog.Error("save page failed", "error", err, "slug", slug)
		writeError(w, http.StatusInternalServerError, "Could not save page.")
		return
	}

	if p.cache != nil {
		tags := []string{page.CacheTag(), models.ListTag}
		if err := p.cache.InvalidateTags(ctx, tags, "page_update"); err != nil {
			slog.Error("invalidate page tags failed", "error", err, "slug", slug)
			writeError(w, http.StatusInternalServerError, "Page saved but cache invalidation failed.")
			return
		}
	}

	slog.Info("page saved", "slug", page.Slug, "version", page.Version)
	writeJSON(w, http.StatusOK, page)
}

// render walks the tree for slug. A non-empty lang fixes the interface
// language instead of negotiating it.
func (p *Public) render(w http.ResponseWriter, r *http.Request, slug, lang string) {
	ctx := r.Context()

	page, err := p.pages.FindBySlug(ctx, slug)
	if err != nil {
		slog.Error("find page by slug failed", "error", err, "slug", slug)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if page == nil {
		http.NotFound(w, r)
		return
	}

	resolver := &contexts.RequestResolver{
		Request:         r,
		Identity:        middleware.Identity,
		DefaultLanguage: p.defaultLanguage,
		Languages:       p.languages,
		Language:        lang,
	}
	res, err := p.walker.Render(ctx, p.tree(page), resolver)
	if err != nil {
		slog.Error("render page failed", "error", err, "slug", slug)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Cache-Control", cacheControl(res.Metadata))
	if vary := varyHeader(res.Metadata); vary != "" {
		h.Set("Vary", vary)
	}
	if res.CacheHit {
		h.Set(middleware.CacheStatusHeader, "HIT")
	} else {
		h.Set(middleware.CacheStatusHeader, "MISS")
	}
	w.Write(res.Output)
}

// tree builds the render tree for page. Nothing here touches storage: the
// nav lists pages only when it is actually produced.
func (p *Public) tree(page *models.Page) *render.Element {
	return &render.Element{
		Name:     "layout",
		Keys:     []string{"page", page.Slug},
		Metadata: cachemeta.New().AddContexts(contexts.LanguagesInterface),
		Data:     page,
		Produce:  p.produceLayout,
		Children: []*render.Element{
			{
				Name:     "nav",
				Keys:     []string{"nav"},
				Metadata: cachemeta.New().AddTags(models.ListTag),
				Produce:  p.produceNav,
			},
			{
				Name:    "greeting",
				Produce: p.produceGreeting,
			},
			{
				Name:     "body",
				Keys:     []string{"page_body", page.Slug},
				Metadata: cachemeta.New().AddTags(page.CacheTag()),
				Data:     page,
				Produce:  p.engine.Produce(bodyTemplate),
			},
			{
				Name:     "footer",
				Metadata: cachemeta.New().SetMaxAge(footerMaxAge),
				Produce:  p.produceFooter,
			},
		},
	}
}

func (p *Public) produceLayout(ctx context.Context, el *render.Element, children [][]byte) ([]byte, cachemeta.Metadata, error) {
	page := el.Data.(*models.Page)
	lang, err := resolve(ctx, contexts.LanguagesInterface)
	if err != nil {
		return nil, cachemeta.Metadata{}, err
	}
	data := struct {
		Language string
		Title    string
	}{lang, page.Title}

	out, meta, err := p.engine.Produce(layoutTemplate)(ctx, withData(el, data), children)
	return out, meta.AddTags(page.CacheTag()).AddContexts(contexts.LanguagesInterface), err
}

func (p *Public) produceNav(ctx context.Context, el *render.Element, children [][]byte) ([]byte, cachemeta.Metadata, error) {
	pages, err := p.pages.List(ctx)
	if err != nil {
		return nil, cachemeta.Metadata{}, fmt.Errorf("list pages: %w", err)
	}
	out, meta, err := p.engine.Produce(navTemplate)(ctx, withData(el, pages), children)
	return out, meta.AddTags(models.ListTag), err
}

func (p *Public) produceGreeting(ctx context.Context, el *render.Element, children [][]byte) ([]byte, cachemeta.Metadata, error) {
	user, err := resolve(ctx, contexts.User)
	if err != nil {
		return nil, cachemeta.Metadata{}, err
	}
	if user == "0" {
		user = ""
	}
	out, meta, err := p.engine.Produce(greetingTemplate)(ctx, withData(el, user), children)
	return out, meta.AddContexts(contexts.User), err
}

func (p *Public) produceFooter(ctx context.Context, el *render.Element, children [][]byte) ([]byte, cachemeta.Metadata, error) {
	stamp := p.now().UTC().Format(time.RFC3339)
	return p.engine.Produce(footerTemplate)(ctx, withData(el, stamp), children)
}

// withData returns a copy of el carrying data, leaving el untouched.
func withData(el *render.Element, data any) *render.Element {
	c := *el
	c.Data = data
	return &c
}

// resolve reads a context value from the resolver of the current pass.
func resolve(ctx context.Context, id string) (string, error) {
	resolver := contexts.ResolverFromContext(ctx)
	if resolver == nil {
		return "", fmt.Errorf("resolve %s: no resolver in context", id)
	}
	return resolver.Resolve(ctx, id)
}

// cacheControl maps root metadata onto a Cache-Control header. Permanent
// output still has to be revalidated, since its tags may be invalidated
// at any time.
func cacheControl(meta cachemeta.Metadata) string {
	var directive string
	switch age := meta.MaxAge(); age {
	case cachemeta.Uncacheable:
		return "no-store"
	case cachemeta.Permanent:
		directive = "no-cache"
	default:
		directive = "max-age=" + strconv.Itoa(age)
	}
	if meta.HasContext(contexts.User) || meta.HasContext(contexts.UserPermissions) {
		return "private, " + directive
	}
	return "public, " + directive
}

// varyHeader lists the request headers the output depends on.
func varyHeader(meta cachemeta.Metadata) string {
	var vary []string
	var lang, cookie bool
	for _, id := range meta.Contexts() {
		switch name, _ := contexts.Split(id); name {
		case contexts.Languages:
			lang = true
		case contexts.User, contexts.UserPermissions:
			cookie = true
		}
	}
	if lang {
		vary = append(vary, "Accept-Language")
	}
	if cookie {
		vary = append(vary, "Cookie")
	}
	return strings.Join(vary, ", ")
}
