package quest

import (
	"fmt"
	"strings"
)

// DiagnosticKind classifies a mismatch between data and a template.
type DiagnosticKind string

const (
	DiagUnknownKey    DiagnosticKind = "unknown_key"
	DiagMissingKey    DiagnosticKind = "missing_key"
	DiagShapeMismatch DiagnosticKind = "shape_mismatch"
	DiagTypeMismatch  DiagnosticKind = "type_mismatch"
	DiagUnboundField  DiagnosticKind = "unbound_field"
	DiagSectionKey    DiagnosticKind = "section_key_mismatch"
	DiagUnrendered    DiagnosticKind = "unrendered_field"
	DiagTemplateSwap  DiagnosticKind = "template_swap"
)

// Diagnostic describes data that could not be placed in, or is absent
// from, a template. Collection and decoding never drop data silently;
// they report it here instead.
type Diagnostic struct {
	Kind    DiagnosticKind
	Path    []string
	Field   string
	Message string
}

func (d Diagnostic) String() string {
	var sb strings.Builder
	sb.WriteString(string(d.Kind))
	if d.Field != "" {
		fmt.Fprintf(&sb, " field=%s", d.Field)
	}
	if len(d.Path) > 0 {
		fmt.Fprintf(&sb, " path=%q", strings.Join(d.Path, " / "))
	}
	if d.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(d.Message)
	}
	return sb.String()
}

// FilterDiagnostics returns the diagnostics of the given kinds.
func FilterDiagnostics(diags []Diagnostic, kinds ...DiagnosticKind) []Diagnostic {
	var out []Diagnostic
	for _, d := range diags {
		for _, k := range kinds {
			if d.Kind == k {
				out = append(out, d)
				break
			}
		}
	}
	return out
}
