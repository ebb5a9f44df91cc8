package quest

import (
	"errors"
	"fmt"
	"strings"
)

// Template errors.
var (
	ErrDuplicateField = errors.New("duplicate field")
	ErrInvalidPath    = errors.New("invalid field path")
	ErrInvalidPart    = errors.New("invalid part layout")
	ErrNoTemplate     = errors.New("no template for form type")
)

// Field is one row of a template's field table. It binds the identifier a
// fragment renders (the textarea name) to the key path of the answer
// document and to the part that shows it.
type Field struct {
	ID     string
	Path   []string
	Part   int
	Prompt string
}

// Section returns the top-level key, which is also the part's data-key.
func (f Field) Section() string {
	return f.Path[0]
}

// Key returns the leaf key.
func (f Field) Key() string {
	return f.Path[len(f.Path)-1]
}

// PathString joins the path with " / ".
func (f Field) PathString() string {
	return strings.Join(f.Path, " / ")
}

// Template is an immutable answer shape.
type Template struct {
	Type     FormType
	Fragment string

	fields []Field
	byID   map[string]int
	byPath map[string]int
	parts  int
	depth  int
}

// NewTemplate validates a field table and builds a template from it.
// Fields must have unique identifiers and paths, share one depth, and
// cover parts 1..n without gaps.
func NewTemplate(t FormType, fragment string, fields ...Field) (*Template, error) {
	tmpl := &Template{
		Type:     t,
		Fragment: fragment,
		fields:   make([]Field, 0, len(fields)),
		byID:     make(map[string]int, len(fields)),
		byPath:   make(map[string]int, len(fields)),
	}

	seenParts := make(map[int]bool)
	for _, f := range fields {
		if f.ID == "" {
			return nil, fmt.Errorf("%w: empty identifier", ErrInvalidPath)
		}
		if len(f.Path) == 0 {
			return nil, fmt.Errorf("%w: %s has no path", ErrInvalidPath, f.ID)
		}
		if tmpl.depth == 0 {
			tmpl.depth = len(f.Path)
		} else if len(f.Path) != tmpl.depth {
			return nil, fmt.Errorf("%w: %s has depth %d, want %d", ErrInvalidPath, f.ID, len(f.Path), tmpl.depth)
		}
		if _, ok := tmpl.byID[f.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateField, f.ID)
		}
		key := pathKey(f.Path)
		if _, ok := tmpl.byPath[key]; ok {
			return nil, fmt.Errorf("%w: path %s", ErrDuplicateField, f.PathString())
		}
		if f.Part < 1 {
			return nil, fmt.Errorf("%w: %s in part %d", ErrInvalidPart, f.ID, f.Part)
		}

		f.Path = append([]string(nil), f.Path...)
		tmpl.byID[f.ID] = len(tmpl.fields)
		tmpl.byPath[key] = len(tmpl.fields)
		tmpl.fields = append(tmpl.fields, f)
		seenParts[f.Part] = true
		if f.Part > tmpl.parts {
			tmpl.parts = f.Part
		}
	}

	for p := 1; p <= tmpl.parts; p++ {
		if !seenParts[p] {
			return nil, fmt.Errorf("%w: part %d has no fields", ErrInvalidPart, p)
		}
	}
	return tmpl, nil
}

// MustTemplate is NewTemplate that panics on error. Used for the static store.
func MustTemplate(t FormType, fragment string, fields ...Field) *Template {
	tmpl, err := NewTemplate(t, fragment, fields...)
	if err != nil {
		panic(err)
	}
	return tmpl
}

// Fields returns the field table in template key order.
func (t *Template) Fields() []Field {
	out := make([]Field, len(t.fields))
	copy(out, t.fields)
	return out
}

// Len returns the number of leaf fields.
func (t *Template) Len() int {
	return len(t.fields)
}

// Parts returns the number of parts.
func (t *Template) Parts() int {
	return t.parts
}

// Depth returns the nesting depth of every leaf.
func (t *Template) Depth() int {
	return t.depth
}

// Field looks up a field by identifier.
func (t *Template) Field(id string) (Field, bool) {
	i, ok := t.byID[id]
	if !ok {
		return Field{}, false
	}
	return t.fields[i], true
}

// FieldAt looks up a field by key path.
func (t *Template) FieldAt(path ...string) (Field, bool) {
	i, ok := t.byPath[pathKey(path)]
	if !ok {
		return Field{}, false
	}
	return t.fields[i], true
}

// PartFields returns the fields rendered in part n.
func (t *Template) PartFields(n int) []Field {
	var out []Field
	for _, f := range t.fields {
		if f.Part == n {
			out = append(out, f)
		}
	}
	return out
}

// SectionKey returns the data-key of part n, or "" when n is out of range.
func (t *Template) SectionKey(n int) string {
	for _, f := range t.fields {
		if f.Part == n {
			return f.Section()
		}
	}
	return ""
}

func pathKey(path []string) string {
	return strings.Join(path, "\x00")
}
