package handlers

import "rendercache/internal/engine"

// The page tree templates. Bump a Version when editing its Source so the
// engine's compiled-template cache picks up the change.
var (
	layoutTemplate = engine.Template{
		Name:    "layout",
		Version: 1,
		Source: `<!DOCTYPE html>
<html lang="{{.Data.Language}}">
<head><meta charset="utf-8"><title>{{.Data.Title}}</title></head>
<body>
{{index .Children 0}}
{{index .Children 1}}
<main>{{index .Children 2}}</main>
{{index .Children 3}}
</body>
</html>
`,
	}

	navTemplate = engine.Template{
		Name:    "nav",
		Version: 1,
		Source:  `<nav><ul>{{range .Data}}<li><a href="{{url .Slug}}">{{.Title}}</a></li>{{end}}</ul></nav>`,
	}

	greetingTemplate = engine.Template{
		Name:    "greeting",
		Version: 1,
		Source:  `<p class="greeting">{{if .Data}}Signed in as user {{.Data}}.{{else}}Welcome, guest.{{end}}</p>`,
	}

	bodyTemplate = engine.Template{
		Name:    "body",
		Version: 1,
		Source:  `<article><h1>{{.Data.Title}}</h1>{{markdown .Data.Body}}</article>`,
	}

	footerTemplate = engine.Template{
		Name:    "footer",
		Version: 1,
		Source:  `<footer><small>Rendered {{.Data}} &middot; <a href="{{absurl "/"}}">home</a></small></footer>`,
	}
)

// pageTemplates indexes the page tree templates by name, for publishing.
var pageTemplates = map[string]engine.Template{
	layoutTemplate.Name:   layoutTemplate,
	navTemplate.Name:      navTemplate,
	greetingTemplate.Name: greetingTemplate,
	bodyTemplate.Name:     bodyTemplate,
	footerTemplate.Name:   footerTemplate,
}
