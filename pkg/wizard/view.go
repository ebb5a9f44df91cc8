package wizard

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// View errors.
var (
	ErrNoParts  = errors.New("fragment has no form parts")
	ErrBadPart  = errors.New("fragment part layout is invalid")
	ErrDetached = errors.New("view is detached")
)

const (
	partClass    = "form-part"
	hiddenClass  = "hidden"
	invalidClass = "is-invalid"
)

var partID = regexp.MustCompile(`^part(\d+)$`)

// View is a parsed form fragment. It owns the element tree and the state the
// wizard drives on it: part visibility, textarea values and heights,
// invalid marks, tooltips, word counts, progress and the submit control.
type View struct {
	nodes  []*html.Node
	parts  []*Part
	fields []*FieldView
	byName map[string]*FieldView

	progressBar *html.Node
	submit      *html.Node
	progress    float64
	busy        bool
	detached    bool
}

// Part is one screen of the form.
type Part struct {
	index   int
	key     string
	hidden  bool
	fields  []*FieldView
	node    *html.Node
	tooltip *html.Node
	tipOn   bool
}

// Index returns the 1-based part number.
func (p *Part) Index() int { return p.index }

// Key returns the part's data-key.
func (p *Part) Key() string { return p.key }

// Visible reports whether the part is shown.
func (p *Part) Visible() bool { return !p.hidden }

// Fields returns the textareas of the part in document order.
func (p *Part) Fields() []*FieldView { return p.fields }

// HasTooltip reports whether the fragment renders a tooltip for the part.
func (p *Part) HasTooltip() bool { return p.tooltip != nil }

// TooltipShown reports whether the part's tooltip is visible.
func (p *Part) TooltipShown() bool { return p.tipOn }

// InputEvent is dispatched to a field's listeners whenever its value changes.
type InputEvent struct {
	Field     *FieldView
	Value     string
	Previous  string
	Synthetic bool
}

type listener struct {
	id uint64
	fn func(InputEvent)
}

// FieldView is one rendered textarea.
type FieldView struct {
	view      *View
	name      string
	elemID    string
	part      *Part
	rows      int
	cols      int
	value     string
	height    int
	invalid   bool
	wordCount string

	node      *html.Node
	countNode *html.Node
	listeners []listener
	nextID    uint64
}

// Name returns the textarea name, which is the template field identifier.
func (f *FieldView) Name() string { return f.name }

// ElementID returns the textarea id attribute.
func (f *FieldView) ElementID() string { return f.elemID }

// Part returns the containing part, or nil for a textarea outside any part.
func (f *FieldView) Part() *Part { return f.part }

// Value returns the current text.
func (f *FieldView) Value() string { return f.value }

// Rows returns the rows attribute, 0 when absent.
func (f *FieldView) Rows() int { return f.rows }

// Height returns the last fitted height in pixels.
func (f *FieldView) Height() int { return f.height }

// Invalid reports whether the field is marked invalid.
func (f *FieldView) Invalid() bool { return f.invalid }

// WordCount returns the word count label shown under the field.
func (f *FieldView) WordCount() string { return f.wordCount }

// Listeners returns the number of bound input listeners.
func (f *FieldView) Listeners() int { return len(f.listeners) }

// OnInput binds fn to the field's input event. The returned function
// removes the binding and is safe to call more than once.
func (f *FieldView) OnInput(fn func(InputEvent)) (remove func()) {
	f.nextID++
	id := f.nextID
	f.listeners = append(f.listeners, listener{id: id, fn: fn})
	return func() {
		for i, l := range f.listeners {
			if l.id == id {
				f.listeners = append(f.listeners[:i:i], f.listeners[i+1:]...)
				return
			}
		}
	}
}

// Input sets the value as user input and dispatches an input event.
func (f *FieldView) Input(value string) error {
	return f.change(value, false)
}

// Fill sets the value programmatically and dispatches a synthetic input
// event, so listeners run as if the user typed it.
func (f *FieldView) Fill(value string) error {
	return f.change(value, true)
}

func (f *FieldView) change(value string, synthetic bool) error {
	if f.view.detached {
		return ErrDetached
	}
	prev := f.value
	f.value = value
	setText(f.node, value)

	ev := InputEvent{Field: f, Value: value, Previous: prev, Synthetic: synthetic}
	// Listeners may remove themselves while running.
	ls := append([]listener(nil), f.listeners...)
	for _, l := range ls {
		l.fn(ev)
	}
	return nil
}

func (f *FieldView) setHeight(px int) {
	f.height = px
	setAttr(f.node, "style", fmt.Sprintf("height: %dpx;", px))
}

func (f *FieldView) setInvalid(on bool) {
	f.invalid = on
	toggleClass(f.node, invalidClass, on)
}

func (f *FieldView) setWordCount(label string) {
	f.wordCount = label
	if f.countNode != nil {
		setText(f.countNode, label)
	}
}

// ParseView sanitizes a fragment and parses it into a View. Parts are the
// elements with class form-part and id partN, and must be numbered 1..n.
// Every part starts hidden; a Navigator decides which one is shown.
func ParseView(fragment string) (*View, error) {
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(Sanitize(fragment)), body)
	if err != nil {
		return nil, fmt.Errorf("parse fragment: %w", err)
	}

	v := &View{nodes: nodes, byName: make(map[string]*FieldView)}
	tooltips := make(map[int]*html.Node)
	counts := make(map[string]*html.Node)
	seen := make(map[int]bool)

	var walk func(n *html.Node, part *Part) error
	walk = func(n *html.Node, part *Part) error {
		if n.Type == html.ElementNode {
			id := attr(n, "id")
			switch {
			case hasClass(n, partClass):
				m := partID.FindStringSubmatch(id)
				if m == nil {
					return fmt.Errorf("%w: form part with id %q", ErrBadPart, id)
				}
				idx, _ := strconv.Atoi(m[1])
				if seen[idx] {
					return fmt.Errorf("%w: duplicate part %d", ErrBadPart, idx)
				}
				seen[idx] = true
				part = &Part{index: idx, key: attr(n, "data-key"), node: n}
				v.parts = append(v.parts, part)
			case n.DataAtom == atom.Textarea:
				f := &FieldView{
					view:   v,
					name:   attr(n, "name"),
					elemID: id,
					part:   part,
					rows:   atoiOr(attr(n, "rows"), 0),
					cols:   atoiOr(attr(n, "cols"), 0),
					value:  textContent(n),
					node:   n,
				}
				if f.name == "" {
					f.name = id
				}
				v.fields = append(v.fields, f)
				if part != nil {
					part.fields = append(part.fields, f)
				}
				if _, dup := v.byName[f.name]; !dup && f.name != "" {
					v.byName[f.name] = f
				}
				return nil
			case strings.HasPrefix(id, "tooltip-part"):
				if idx, err := strconv.Atoi(strings.TrimPrefix(id, "tooltip-part")); err == nil {
					tooltips[idx] = n
				}
			case strings.HasPrefix(id, "wordCount-"):
				counts[strings.TrimPrefix(id, "wordCount-")] = n
			case hasClass(n, "progress-bar"):
				v.progressBar = n
			case isSubmit(n):
				v.submit = n
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if err := walk(c, part); err != nil {
				return err
			}
		}
		return nil
	}
	for _, n := range nodes {
		if err := walk(n, nil); err != nil {
			return nil, err
		}
	}

	if len(v.parts) == 0 {
		return nil, ErrNoParts
	}
	sort.Slice(v.parts, func(i, j int) bool { return v.parts[i].index < v.parts[j].index })
	for i, p := range v.parts {
		if p.index != i+1 {
			return nil, fmt.Errorf("%w: parts must be numbered 1..%d, found %d", ErrBadPart, len(v.parts), p.index)
		}
		p.tooltip = tooltips[p.index]
		v.setHidden(p, true)
		v.showTooltip(p, false)
	}
	for _, f := range v.fields {
		if f.elemID != "" {
			f.countNode = counts[f.elemID]
		}
	}
	return v, nil
}

// Parts returns the parts ordered by index.
func (v *View) Parts() []*Part { return v.parts }

// Part returns part n, or nil.
func (v *View) Part(n int) *Part {
	if n < 1 || n > len(v.parts) {
		return nil
	}
	return v.parts[n-1]
}

// TotalParts returns the number of parts.
func (v *View) TotalParts() int { return len(v.parts) }

// Fields returns every textarea in document order.
func (v *View) Fields() []*FieldView { return v.fields }

// Field returns the first textarea with the given name.
func (v *View) Field(name string) *FieldView { return v.byName[name] }

// Progress returns the progress percentage last applied.
func (v *View) Progress() float64 { return v.progress }

// Busy reports whether the submit control is disabled and busy.
func (v *View) Busy() bool { return v.busy }

// Detached reports whether the view has been replaced.
func (v *View) Detached() bool { return v.detached }

// Detach removes every input listener bound to the view's fields. A
// detached view rejects further input.
func (v *View) Detach() {
	for _, f := range v.fields {
		f.listeners = nil
	}
	v.detached = true
}

// Render writes the view's current element tree.
func (v *View) Render(w io.Writer) error {
	for _, n := range v.nodes {
		if err := html.Render(w, n); err != nil {
			return err
		}
	}
	return nil
}

func (v *View) setHidden(p *Part, hidden bool) {
	p.hidden = hidden
	toggleClass(p.node, hiddenClass, hidden)
}

func (v *View) showTooltip(p *Part, on bool) {
	p.tipOn = on && p.tooltip != nil
	if p.tooltip != nil {
		toggleClass(p.tooltip, hiddenClass, !on)
	}
}

func (v *View) setProgress(pct float64) {
	v.progress = pct
	if v.progressBar != nil {
		setAttr(v.progressBar, "style", "width: "+strconv.FormatFloat(pct, 'f', -1, 64)+"%;")
	}
}

func (v *View) setBusy(busy bool) {
	v.busy = busy
	if v.submit == nil {
		return
	}
	if busy {
		setAttr(v.submit, "disabled", "")
		setAttr(v.submit, "aria-busy", "true")
	} else {
		removeAttr(v.submit, "disabled")
		removeAttr(v.submit, "aria-busy")
	}
}

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

// Sanitize strips everything from a fragment except the form markup the
// wizard drives.
func Sanitize(fragment string) string {
	return sanitizer().Sanitize(fragment)
}

func sanitizer() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.NewPolicy()
		p.AllowElements(
			"div", "section", "form", "fieldset", "legend", "label", "textarea",
			"button", "p", "span", "small", "strong", "em", "i", "b", "br", "hr",
			"h1", "h2", "h3", "h4", "h5", "ul", "ol", "li",
		)
		p.AllowAttrs("id", "class", "title", "role", "aria-label", "aria-hidden",
			"aria-describedby", "aria-live", "aria-valuenow").Globally()
		p.AllowDataAttributes()
		p.AllowAttrs("name", "rows", "cols", "placeholder", "maxlength").OnElements("textarea")
		p.AllowAttrs("type").Matching(regexp.MustCompile(`^(button|submit)$`)).OnElements("button")
		p.AllowAttrs("for").OnElements("label")
		policy = p
	})
	return policy
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func toggleClass(n *html.Node, class string, on bool) {
	classes := strings.Fields(attr(n, "class"))
	out := classes[:0]
	for _, c := range classes {
		if c != class {
			out = append(out, c)
		}
	}
	if on {
		out = append(out, class)
	}
	if len(out) == 0 {
		removeAttr(n, "class")
		return
	}
	setAttr(n, "class", strings.Join(out, " "))
}

func isSubmit(n *html.Node) bool {
	return (n.DataAtom == atom.Button || n.DataAtom == atom.Input) && attr(n, "type") == "submit"
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

func setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func atoiOr(s string, def int) int {
	if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
		return n
	}
	return def
}
