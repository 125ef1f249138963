// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package contexts

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"golang.org/x/text/language"
)

// Identity describes the visitor a request is made on behalf of.
type Identity struct {
	ID    string   // empty for anonymous visitors
	Roles []string // active role ids
}

// IdentityFunc extracts the visitor identity from a request.
type IdentityFunc func(r *http.Request) Identity

// RequestResolver resolves the well-known contexts from an HTTP request.
type RequestResolver struct {
	Request         *http.Request
	Identity        IdentityFunc // nil means every visitor is anonymous
	DefaultLanguage string       // used when Accept-Language is absent
	Languages       []string     // supported language codes; empty accepts any
	// Language, when set, is the interface language chosen by the URL
	// and overrides Accept-Language.
	Language string
}

// Resolve implements Resolver.
func (rr *RequestResolver) Resolve(_ context.Context, id string) (string, error) {
	r := rr.Request
	name, param := Split(id)

	switch name {
	case Languages:
		// Only the interface language is negotiated; every type resolves
		// to the same value.
		return rr.language(), nil
	case URL:
		return r.URL.RequestURI(), nil
	case URLPath:
		return r.URL.Path, nil
	case URLQueryArgs:
		if param != "" {
			return r.URL.Query().Get(param), nil
		}
		return r.URL.Query().Encode(), nil
	case URLSite:
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		return scheme + "://" + r.Host, nil
	case User:
		if v := rr.identity().ID; v != "" {
			return v, nil
		}
		return "0", nil
	case UserPermissions:
		ident := rr.identity()
		if ident.ID == "" {
			return "anon", nil
		}
		roles := slices.Clone(ident.Roles)
		slices.Sort(roles)
		return strings.Join(slices.Compact(roles), ","), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownContext, id)
}

func (rr *RequestResolver) identity() Identity {
	if rr.Identity == nil {
		return Identity{}
	}
	return rr.Identity(rr.Request)
}

// language returns the fixed Language if set, otherwise the supported
// language that best matches Accept-Language by quality weight, falling back
// to DefaultLanguage.
func (rr *RequestResolver) language() string {
	if rr.Language != "" {
		return rr.Language
	}
	if tag, ok := rr.negotiate(rr.Request.Header.Get("Accept-Language")); ok {
		return tag
	}
	if rr.DefaultLanguage != "" {
		return rr.DefaultLanguage
	}
	return "en"
}

func (rr *RequestResolver) negotiate(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	// Sorted by descending q; q=0 entries are dropped.
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return "", false
	}

	if len(rr.Languages) == 0 {
		for _, tag := range tags {
			if base, conf := tag.Base(); conf != language.No && tag != language.Und {
				return base.String(), true
			}
		}
		return "", false
	}

	supported := make([]language.Tag, 0, len(rr.Languages))
	for _, code := range rr.Languages {
		supported = append(supported, language.Make(code))
	}
	_, idx, conf := language.NewMatcher(supported).Match(tags...)
	if conf == language.No {
		return "", false
	}
	return rr.Languages[idx], true
}
