package wizard

import (
	"strings"
	"unicode/utf8"
)

// Textarea sizing.
const (
	MinTextareaHeight = 50
	LineHeight        = 24
	DefaultCols       = 60
)

// Navigator tracks which single part of a view is shown.
type Navigator struct {
	view    *View
	current int
}

// NewNavigator shows part 1 of v.
func NewNavigator(v *View) *Navigator {
	n := &Navigator{view: v}
	n.show(1)
	return n
}

// Current returns the shown part, in [1, Total].
func (n *Navigator) Current() int { return n.current }

// Total returns the number of parts.
func (n *Navigator) Total() int { return n.view.TotalParts() }

// Next advances one part, stopping at the last.
func (n *Navigator) Next() int { return n.Go(n.current + 1) }

// Previous goes back one part, stopping at the first.
func (n *Navigator) Previous() int { return n.Go(n.current - 1) }

// Go shows part idx, clamped to [1, Total].
func (n *Navigator) Go(idx int) int {
	n.show(idx)
	return n.current
}

// Progress returns the progress percentage of the shown part.
func (n *Navigator) Progress() float64 {
	return Progress(n.current, n.Total())
}

func (n *Navigator) show(idx int) {
	total := n.Total()
	if idx > total {
		idx = total
	}
	if idx < 1 {
		idx = 1
	}
	n.current = idx
	for _, p := range n.view.parts {
		n.view.setHidden(p, p.index != idx)
	}
	for _, f := range n.view.Part(idx).fields {
		fit(f)
	}
	n.view.setProgress(Progress(idx, total))
}

// Progress is 100*(current-1)/(total-1): 0 on the first part and 100 on the
// last. A form with fewer than two parts reports 0.
func Progress(current, total int) float64 {
	if total < 2 {
		return 0
	}
	return 100 * float64(current-1) / float64(total-1)
}

// FitHeight returns the pixel height that shows value without scrolling in
// a textarea cols characters wide, never below MinTextareaHeight.
func FitHeight(value string, cols int) int {
	if cols < 1 {
		cols = DefaultCols
	}
	lines := 0
	for _, line := range strings.Split(value, "\n") {
		n := utf8.RuneCountInString(line)
		wrapped := (n + cols - 1) / cols
		if wrapped == 0 {
			wrapped = 1
		}
		lines += wrapped
	}
	return max(lines*LineHeight, MinTextareaHeight)
}

func fit(f *FieldView) {
	f.setHeight(FitHeight(f.value, f.cols))
}
