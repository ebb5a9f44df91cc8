// Package quest defines the purpose quest answer templates, the form type
// resolver and the answer document shared by the wizard and the backend.
package quest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// FormType identifies one of the wizard variants.
type FormType string

const (
	// Unset means no variant has been chosen. It never equals a resolved variant.
	Unset FormType = ""
	// Simple is the six question flat form.
	Simple FormType = "simple"
	// Lite is the two question flat form.
	Lite FormType = "lite"
	// Elaborate is the 24 question nested form.
	Elaborate FormType = "elaborate"
)

// Common form type errors.
var (
	ErrUnknownFormType = errors.New("unknown form type")
	ErrUnresolvedPath  = errors.New("no form type marker in path")
)

// FormTypes lists the resolvable variants in selection order.
func FormTypes() []FormType {
	return []FormType{Simple, Lite, Elaborate}
}

// String returns the wire name, or "unset".
func (t FormType) String() string {
	if t == Unset {
		return "unset"
	}
	return string(t)
}

// IsSet reports whether t is one of the resolvable variants.
func (t FormType) IsSet() bool {
	switch t {
	case Simple, Lite, Elaborate:
		return true
	default:
		return false
	}
}

// ParseFormType parses a wire name. The empty string and "unset" parse to Unset.
func ParseFormType(s string) (FormType, error) {
	switch v := FormType(strings.ToLower(strings.TrimSpace(s))); v {
	case Simple, Lite, Elaborate:
		return v, nil
	case Unset, "unset":
		return Unset, nil
	default:
		return Unset, fmt.Errorf("%w: %q", ErrUnknownFormType, s)
	}
}

// DecodeVersionFlag decodes a persisted version flag.
// Besides variant names it accepts the legacy boolean flag, where true meant
// the elaborate form and false meant no choice made yet.
func DecodeVersionFlag(raw json.RawMessage) (FormType, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Unset, nil
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return Elaborate, nil
		}
		return Unset, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return Unset, fmt.Errorf("%w: %s", ErrUnknownFormType, raw)
	}
	return ParseFormType(s)
}

// MarshalJSON encodes Unset as null.
func (t FormType) MarshalJSON() ([]byte, error) {
	if t == Unset {
		return []byte("null"), nil
	}
	return json.Marshal(string(t))
}

// UnmarshalJSON accepts everything DecodeVersionFlag accepts.
func (t *FormType) UnmarshalJSON(data []byte) error {
	v, err := DecodeVersionFlag(data)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Route maps a path marker to a form type.
type Route struct {
	Marker string
	Type   FormType
}

// DefaultRoutes are checked in order, so a lite path wins over the others
// even when it also contains the purpose-quest marker.
var DefaultRoutes = []Route{
	{Marker: "lite", Type: Lite},
	{Marker: "purpose-journey", Type: Elaborate},
	{Marker: "purpose-quest", Type: Simple},
}

// Resolver picks a form type from a page path.
type Resolver struct {
	routes []Route
}

// NewResolver creates a resolver. With no routes it uses DefaultRoutes.
func NewResolver(routes ...Route) *Resolver {
	if len(routes) == 0 {
		routes = DefaultRoutes
	}
	return &Resolver{routes: routes}
}

// Resolve returns the form type for a path or absolute URL.
func (r *Resolver) Resolve(path string) (FormType, error) {
	p := path
	if u, err := url.Parse(path); err == nil && u.Path != "" {
		p = u.Path
	}
	for _, route := range r.routes {
		if strings.Contains(p, route.Marker) {
			return route.Type, nil
		}
	}
	return Unset, fmt.Errorf("%w: %q", ErrUnresolvedPath, path)
}

// Resolve uses DefaultRoutes.
func Resolve(path string) (FormType, error) {
	return NewResolver().Resolve(path)
}
