// Package fragments renders the section markup served to the wizard for
// each form template.
package fragments

import (
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/flosch/pongo2/v6"

	"github.com/gabrielmiguelok/questkit/pkg/quest"
)

//go:embed templates/*.html
var templatesFS embed.FS

const sectionTemplate = "templates/section.html"

// Default textarea geometry.
const (
	DefaultRows = 2
	DefaultCols = 60
)

// Part is the render model of one form part.
type Part struct {
	Index  int
	Key    string
	Fields []quest.Field
}

// Renderer renders section fragments with pongo2.
type Renderer struct {
	set      *pongo2.TemplateSet
	minWords int
	rows     int
	cols     int

	mu    sync.Mutex
	tmpl  *pongo2.Template
	cache map[*quest.Template]string
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithMinWords sets the word threshold shown in hints.
func WithMinWords(n int) Option {
	return func(r *Renderer) {
		if n > 0 {
			r.minWords = n
		}
	}
}

// WithGeometry sets the textarea rows and columns.
func WithGeometry(rows, cols int) Option {
	return func(r *Renderer) {
		if rows > 0 {
			r.rows = rows
		}
		if cols > 0 {
			r.cols = cols
		}
	}
}

// New creates a renderer over the embedded templates.
func New(opts ...Option) *Renderer {
	r := &Renderer{
		set:      pongo2.NewSet("questkit-fragments", pongo2.NewFSLoader(templatesFS)),
		minWords: quest.DefaultMinWords,
		rows:     DefaultRows,
		cols:     DefaultCols,
		cache:    make(map[*quest.Template]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Parts groups the template's fields by part.
func Parts(t *quest.Template) []Part {
	parts := make([]Part, 0, t.Parts())
	for i := 1; i <= t.Parts(); i++ {
		parts = append(parts, Part{Index: i, Key: t.SectionKey(i), Fields: t.PartFields(i)})
	}
	return parts
}

// Section returns the fragment for t. Rendered fragments are cached per
// template.
func (r *Renderer) Section(t *quest.Template) (string, error) {
	if t == nil {
		return "", errors.New("fragments: nil template")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if out, ok := r.cache[t]; ok {
		return out, nil
	}
	if r.tmpl == nil {
		tmpl, err := r.set.FromFile(sectionTemplate)
		if err != nil {
			return "", fmt.Errorf("fragments: load %s: %w", sectionTemplate, err)
		}
		r.tmpl = tmpl
	}
	out, err := r.tmpl.Execute(pongo2.Context{
		"type":      t.Type.String(),
		"parts":     Parts(t),
		"min_words": r.minWords,
		"rows":      r.rows,
		"cols":      r.cols,
	})
	if err != nil {
		return "", fmt.Errorf("fragments: render %s: %w", t.Fragment, err)
	}
	r.cache[t] = out
	return out, nil
}

// ByName renders the fragment registered under name in store.
func (r *Renderer) ByName(store *quest.Store, name string) (string, error) {
	t, err := store.ByFragment(name)
	if err != nil {
		return "", err
	}
	return r.Section(t)
}
