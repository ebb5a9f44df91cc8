package questview

import (
	"net/http"

	assets "github.com/gabrielmiguelok/questkit/client"
	"github.com/gabrielmiguelok/questkit/pkg/core"
	"github.com/gabrielmiguelok/questkit/pkg/router"
)

// AssetPrefix is where the page script is served.
const AssetPrefix = "/assets/"

// Page is one wizard route.
type Page struct {
	Path  string
	Title string
}

// DefaultPages are the three variant routes.
func DefaultPages() []Page {
	return []Page{
		{Path: "/purpose-quest", Title: "Purpose Quest"},
		{Path: "/purpose-quest-lite", Title: "Purpose Quest Lite"},
		{Path: "/purpose-journey", Title: "Purpose Journey"},
	}
}

// Register mounts the wizard pages and the page script on r. With no pages
// it mounts DefaultPages.
func Register(r *router.Router, deps Deps, pages ...Page) {
	if len(pages) == 0 {
		pages = DefaultPages()
	}
	if deps.Views == nil {
		deps.Views = DefaultViews()
	}
	for _, p := range pages {
		r.Live(p.Path, func() core.Component { return New(deps, p.Path) },
			router.WithLayout(deps.Views.Layout),
			router.WithMeta("title", p.Title),
		)
	}
	r.Handle("GET "+AssetPrefix, http.StripPrefix(AssetPrefix, assets.Handler()))
}
