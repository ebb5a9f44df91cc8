package questview

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io"
	"sync"

	"github.com/flosch/pongo2/v6"

	"github.com/gabrielmiguelok/questkit/pkg/protocol"
	"github.com/gabrielmiguelok/questkit/pkg/quest"
	"github.com/gabrielmiguelok/questkit/pkg/router"
	"github.com/gabrielmiguelok/questkit/pkg/wizard"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Choice is one entry of the selection screen.
type Choice struct {
	Value string
	Label string
}

// Labels names each form type on the selection screen.
var Labels = map[quest.FormType]string{
	quest.Simple:    "Purpose Quest",
	quest.Lite:      "Purpose Quest Lite",
	quest.Elaborate: "Purpose Journey",
}

// Views renders the wizard body and the page around it.
type Views struct {
	set *pongo2.TemplateSet

	once   sync.Once
	wizard *pongo2.Template
	page   *pongo2.Template
	err    error
}

var (
	defaultViews     *Views
	defaultViewsOnce sync.Once
)

// DefaultViews returns the views over the embedded templates.
func DefaultViews() *Views {
	defaultViewsOnce.Do(func() {
		defaultViews = NewViews()
	})
	return defaultViews
}

// NewViews loads the embedded templates.
func NewViews() *Views {
	return &Views{set: pongo2.NewSet("questkit-pages", pongo2.NewFSLoader(templatesFS))}
}

func (v *Views) load() error {
	v.once.Do(func() {
		if v.wizard, v.err = v.set.FromFile("templates/wizard.html"); v.err != nil {
			return
		}
		v.page, v.err = v.set.FromFile("templates/page.html")
	})
	return v.err
}

// Wizard renders the wizard body.
func (v *Views) Wizard(w io.Writer, model pongo2.Context) error {
	if err := v.load(); err != nil {
		return fmt.Errorf("questview: load templates: %w", err)
	}
	return v.wizard.ExecuteWriter(model, w)
}

// Layout wraps a rendered wizard into the full page. Route meta "title"
// names the page.
func (v *Views) Layout(ctx context.Context, w io.Writer, route *router.LiveRoute, body []byte) error {
	if err := v.load(); err != nil {
		return fmt.Errorf("questview: load templates: %w", err)
	}
	title, _ := route.Meta["title"].(string)
	if title == "" {
		title = "Purpose Quest"
	}
	return v.page.ExecuteWriter(pongo2.Context{
		"title":       title,
		"nonce":       router.GetCSPNonce(ctx),
		"body":        string(body),
		"script":      AssetPrefix + "quest.js",
		"subprotocol": protocol.SubprotocolJSON,
	}, w)
}

// model is the template context for the current session state.
func (c *Component) model() pongo2.Context {
	ctx := pongo2.Context{
		"token": c.token,
		"path":  c.path,
		"phase": string(wizard.PhaseIdle),
	}
	if c.session == nil {
		return ctx
	}

	st := c.session.State()
	ctx["phase"] = string(st.Phase)
	ctx["notices"] = st.Notices
	ctx["indicator"] = string(st.Indicator)
	ctx["indicator_text"] = st.IndicatorText
	ctx["redirect"] = st.Redirect

	choices := make([]Choice, 0, len(st.Choices))
	for _, ft := range st.Choices {
		choices = append(choices, Choice{Value: string(ft), Label: Labels[ft]})
	}
	ctx["choices"] = choices

	var view bytes.Buffer
	if err := c.session.RenderView(&view); err == nil {
		ctx["view"] = view.String()
	}
	return ctx
}
