package quest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidDocument is returned when a stored answer document is not a JSON object.
var ErrInvalidDocument = errors.New("answer document must be a JSON object")

// Instance is the live answer document of one session. It always has
// exactly the leaves of its template; a nil value is an unanswered leaf.
type Instance struct {
	tmpl   *Template
	values []*string
}

// Leaf is one answer of an instance.
type Leaf struct {
	Field Field
	Value string
	Set   bool
}

// NewInstance returns an instance with every leaf unanswered.
func NewInstance(t *Template) *Instance {
	return &Instance{tmpl: t, values: make([]*string, t.Len())}
}

// Template returns the instance's template.
func (in *Instance) Template() *Template {
	return in.tmpl
}

// Get returns the value of a field. ok is false for unknown or unanswered fields.
func (in *Instance) Get(id string) (value string, ok bool) {
	i, known := in.tmpl.byID[id]
	if !known || in.values[i] == nil {
		return "", false
	}
	return *in.values[i], true
}

// Set stores a value for a field.
func (in *Instance) Set(id, value string) error {
	i, ok := in.tmpl.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s is not in the %s template", ErrInvalidPath, id, in.tmpl.Type)
	}
	v := value
	in.values[i] = &v
	return nil
}

// Leaves returns every leaf in template key order.
func (in *Instance) Leaves() []Leaf {
	out := make([]Leaf, len(in.values))
	for i, f := range in.tmpl.fields {
		out[i] = Leaf{Field: f}
		if in.values[i] != nil {
			out[i].Value = *in.values[i]
			out[i].Set = true
		}
	}
	return out
}

// Answered returns the number of leaves with a value.
func (in *Instance) Answered() int {
	n := 0
	for _, v := range in.values {
		if v != nil {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (in *Instance) Clone() *Instance {
	out := NewInstance(in.tmpl)
	for i, v := range in.values {
		if v != nil {
			c := *v
			out.values[i] = &c
		}
	}
	return out
}

// Merge copies every answered leaf of other into in. Leaves are matched by
// identifier, so instances of different templates merge their common fields.
func (in *Instance) Merge(other *Instance) {
	if other == nil {
		return
	}
	for i, f := range other.tmpl.fields {
		if other.values[i] == nil {
			continue
		}
		if j, ok := in.tmpl.byID[f.ID]; ok {
			c := *other.values[i]
			in.values[j] = &c
		}
	}
}

// Equal reports whether both instances share a template and every leaf.
func (in *Instance) Equal(other *Instance) bool {
	if other == nil || in.tmpl != other.tmpl {
		return false
	}
	for i := range in.values {
		a, b := in.values[i], other.values[i]
		if (a == nil) != (b == nil) {
			return false
		}
		if a != nil && *a != *b {
			return false
		}
	}
	return true
}

// Document returns the instance as nested maps, matching the template shape.
func (in *Instance) Document() map[string]any {
	root := make(map[string]any)
	for i, f := range in.tmpl.fields {
		node := root
		for _, k := range f.Path[:len(f.Path)-1] {
			child, ok := node[k].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[k] = child
			}
			node = child
		}
		if in.values[i] == nil {
			node[f.Key()] = nil
		} else {
			node[f.Key()] = *in.values[i]
		}
	}
	return root
}

// MarshalJSON writes the nested document with keys in template order.
func (in *Instance) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	idx := make([]int, len(in.values))
	for i := range idx {
		idx[i] = i
	}
	if err := in.encode(&buf, idx, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (in *Instance) encode(buf *bytes.Buffer, idx []int, depth int) error {
	buf.WriteByte('{')
	for n, group := range groupByKey(in.tmpl.fields, idx, depth) {
		if n > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(group.key)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')

		if depth == in.tmpl.depth-1 {
			v := in.values[group.idx[0]]
			if v == nil {
				buf.WriteString("null")
				continue
			}
			b, err := json.Marshal(*v)
			if err != nil {
				return err
			}
			buf.Write(b)
			continue
		}
		if err := in.encode(buf, group.idx, depth+1); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

type keyGroup struct {
	key string
	idx []int
}

// groupByKey groups field indices by their path element at depth, keeping
// first-appearance order.
func groupByKey(fields []Field, idx []int, depth int) []keyGroup {
	var groups []keyGroup
	pos := make(map[string]int)
	for _, i := range idx {
		k := fields[i].Path[depth]
		p, ok := pos[k]
		if !ok {
			p = len(groups)
			pos[k] = p
			groups = append(groups, keyGroup{key: k})
		}
		groups[p].idx = append(groups[p].idx, i)
	}
	return groups
}

// DecodeInstance decodes a stored answer document against a template.
// JSON null decodes to an unanswered instance. Keys and values that do not
// fit the template are skipped and reported as diagnostics.
func DecodeInstance(t *Template, raw []byte) (*Instance, []Diagnostic, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return NewInstance(t), nil, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	in, diags := FromDocument(t, doc)
	return in, diags, nil
}

// FromDocument builds an instance from nested maps such as a decoded JSON
// or YAML document.
func FromDocument(t *Template, doc map[string]any) (*Instance, []Diagnostic) {
	in := NewInstance(t)
	var diags []Diagnostic

	for i, f := range t.fields {
		v, found, diag := lookup(doc, f.Path)
		if diag != nil {
			diag.Field = f.ID
			diags = append(diags, *diag)
			continue
		}
		if !found {
			diags = append(diags, Diagnostic{
				Kind:    DiagMissingKey,
				Path:    f.Path,
				Field:   f.ID,
				Message: "not present in document",
			})
			continue
		}
		switch val := v.(type) {
		case nil:
		case string:
			s := val
			in.values[i] = &s
		default:
			diags = append(diags, Diagnostic{
				Kind:    DiagTypeMismatch,
				Path:    f.Path,
				Field:   f.ID,
				Message: fmt.Sprintf("expected text or null, got %T", v),
			})
		}
	}

	diags = append(diags, unknownKeys(t, doc, nil)...)
	return in, diags
}

func lookup(doc map[string]any, path []string) (any, bool, *Diagnostic) {
	var node any = doc
	for depth, k := range path {
		m, ok := asMap(node)
		if !ok {
			return nil, false, &Diagnostic{
				Kind:    DiagShapeMismatch,
				Path:    path[:depth],
				Message: fmt.Sprintf("expected an object, got %T", node),
			}
		}
		node, ok = m[k]
		if !ok {
			return nil, false, nil
		}
	}
	return node, true, nil
}

func unknownKeys(t *Template, node map[string]any, prefix []string) []Diagnostic {
	keys := make([]string, 0, len(node))
	for k := range node {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var diags []Diagnostic
	for _, k := range keys {
		path := append(append([]string(nil), prefix...), k)
		if !t.hasPrefix(path) {
			diags = append(diags, Diagnostic{
				Kind:    DiagUnknownKey,
				Path:    path,
				Message: "not part of the " + t.Type.String() + " template",
			})
			continue
		}
		if len(path) < t.depth {
			if child, ok := asMap(node[k]); ok {
				diags = append(diags, unknownKeys(t, child, path)...)
			}
		}
	}
	return diags
}

func (t *Template) hasPrefix(path []string) bool {
	for _, f := range t.fields {
		if len(path) > len(f.Path) {
			continue
		}
		match := true
		for i := range path {
			if f.Path[i] != path[i] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// String renders the instance as "path: value" lines, for CLI output.
func (in *Instance) String() string {
	var sb strings.Builder
	for _, l := range in.Leaves() {
		sb.WriteString(l.Field.PathString())
		sb.WriteString(": ")
		if l.Set {
			sb.WriteString(l.Value)
		} else {
			sb.WriteString("-")
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
