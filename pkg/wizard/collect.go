package wizard

import (
	"fmt"

	"github.com/gabrielmiguelok/questkit/pkg/quest"
)

// bind resolves the template field a rendered textarea stands for. A
// textarea is bound when its name is a template field and its part's
// data-key is that field's section.
func bind(t *quest.Template, fv *FieldView) (quest.Field, *quest.Diagnostic) {
	if fv.Part() == nil {
		return quest.Field{}, &quest.Diagnostic{
			Kind:    quest.DiagUnboundField,
			Field:   fv.Name(),
			Message: "textarea is outside every form part",
		}
	}
	f, ok := t.Field(fv.Name())
	if !ok {
		return quest.Field{}, &quest.Diagnostic{
			Kind:    quest.DiagUnboundField,
			Field:   fv.Name(),
			Message: fmt.Sprintf("part %d renders a field the %s template does not define", fv.Part().Index(), t.Type),
		}
	}
	if key := fv.Part().Key(); key != f.Section() {
		return quest.Field{}, &quest.Diagnostic{
			Kind:    quest.DiagSectionKey,
			Path:    f.Path,
			Field:   f.ID,
			Message: fmt.Sprintf("part %d has data-key %q, field belongs to %q", fv.Part().Index(), key, f.Section()),
		}
	}
	return f, nil
}

// Collect builds an instance of t from the textareas rendered in v, walking
// them in document order. Fields that cannot be bound, duplicates, and
// template fields the view does not render are reported, never dropped
// silently.
func Collect(t *quest.Template, v *View) (*quest.Instance, []quest.Diagnostic) {
	in := quest.NewInstance(t)
	var diags []quest.Diagnostic
	seen := make(map[string]bool)

	for _, fv := range v.Fields() {
		f, d := bind(t, fv)
		if d != nil {
			diags = append(diags, *d)
			continue
		}
		if seen[f.ID] {
			diags = append(diags, quest.Diagnostic{
				Kind:    quest.DiagUnboundField,
				Path:    f.Path,
				Field:   f.ID,
				Message: "field is rendered more than once, first value kept",
			})
			continue
		}
		seen[f.ID] = true
		// Set cannot fail for a bound field.
		_ = in.Set(f.ID, fv.Value())
	}

	for _, f := range t.Fields() {
		if !seen[f.ID] {
			diags = append(diags, quest.Diagnostic{
				Kind:    quest.DiagUnrendered,
				Path:    f.Path,
				Field:   f.ID,
				Message: "view does not render this field",
			})
		}
	}
	return in, diags
}

// Prefill writes every non-empty answer of in into its textarea and
// dispatches a synthetic input event for it. Answers without a bound
// textarea are reported.
func Prefill(v *View, in *quest.Instance) []quest.Diagnostic {
	var diags []quest.Diagnostic
	for _, leaf := range in.Leaves() {
		if !leaf.Set || leaf.Value == "" {
			continue
		}
		fv := v.Field(leaf.Field.ID)
		if fv == nil {
			diags = append(diags, quest.Diagnostic{
				Kind:    quest.DiagUnrendered,
				Path:    leaf.Field.Path,
				Field:   leaf.Field.ID,
				Message: "saved answer has no textarea to fill",
			})
			continue
		}
		if _, d := bind(in.Template(), fv); d != nil {
			diags = append(diags, *d)
			continue
		}
		if err := fv.Fill(leaf.Value); err != nil {
			diags = append(diags, quest.Diagnostic{
				Kind:    quest.DiagUnrendered,
				Path:    leaf.Field.Path,
				Field:   leaf.Field.ID,
				Message: err.Error(),
			})
		}
	}
	return diags
}
