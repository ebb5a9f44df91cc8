package quest

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		path string
		want FormType
	}{
		{"/purpose-quest", Simple},
		{"/product/purpose-quest/start", Simple},
		{"/purpose-journey", Elaborate},
		{"/purpose-quest-lite", Lite},
		{"/purpose-quest/purpose-quest-lite/step", Lite},
		{"/purpose-journey/lite", Lite},
		{"/purpose-quest/purpose-journey", Elaborate},
		{"https://example.com/purpose-journey?x=1", Elaborate},
		{"https://example.com/purpose-quest-lite/#part2", Lite},
	}

	for _, tt := range tests {
		got, err := Resolve(tt.path)
		if err != nil {
			t.Errorf("Resolve(%q): unexpected error %v", tt.path, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Resolve(%q): expected %s, got %s", tt.path, tt.want, got)
		}
	}
}

func TestResolve_NoMarker(t *testing.T) {
	got, err := Resolve("/dashboard")
	if !errors.Is(err, ErrUnresolvedPath) {
		t.Fatalf("expected ErrUnresolvedPath, got %v", err)
	}
	if got != Unset {
		t.Errorf("expected Unset, got %s", got)
	}
	for _, ft := range FormTypes() {
		if got == ft {
			t.Errorf("unresolved type must not equal %s", ft)
		}
	}
}

func TestResolve_QueryIgnored(t *testing.T) {
	if _, err := Resolve("https://example.com/dashboard?next=/purpose-quest"); err == nil {
		t.Error("expected markers in the query string to be ignored")
	}
}

func TestResolver_CustomRoutes(t *testing.T) {
	r := NewResolver(Route{Marker: "deep", Type: Elaborate})
	got, err := r.Resolve("/deep-dive")
	if err != nil || got != Elaborate {
		t.Errorf("expected elaborate, got %s (%v)", got, err)
	}
	if _, err := r.Resolve("/purpose-quest"); err == nil {
		t.Error("expected default markers to be replaced")
	}
}

func TestParseFormType(t *testing.T) {
	for _, s := range []string{"simple", " Lite ", "ELABORATE"} {
		if _, err := ParseFormType(s); err != nil {
			t.Errorf("ParseFormType(%q): %v", s, err)
		}
	}
	if v, err := ParseFormType(""); err != nil || v != Unset {
		t.Errorf("expected empty to parse as Unset, got %q (%v)", v, err)
	}
	if _, err := ParseFormType("deluxe"); !errors.Is(err, ErrUnknownFormType) {
		t.Errorf("expected ErrUnknownFormType, got %v", err)
	}
}

func TestDecodeVersionFlag(t *testing.T) {
	tests := []struct {
		raw  string
		want FormType
	}{
		{`"lite"`, Lite},
		{`"simple"`, Simple},
		{`"elaborate"`, Elaborate},
		{`null`, Unset},
		{``, Unset},
		{`false`, Unset},
		{`true`, Elaborate},
		{`""`, Unset},
	}
	for _, tt := range tests {
		got, err := DecodeVersionFlag(json.RawMessage(tt.raw))
		if err != nil {
			t.Errorf("DecodeVersionFlag(%s): %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("DecodeVersionFlag(%s): expected %s, got %s", tt.raw, tt.want, got)
		}
	}

	if _, err := DecodeVersionFlag(json.RawMessage(`42`)); err == nil {
		t.Error("expected error for numeric flag")
	}
}

func TestFormType_JSON(t *testing.T) {
	b, err := json.Marshal(struct {
		V FormType `json:"v"`
	}{})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"v":null}` {
		t.Errorf("expected unset to encode as null, got %s", b)
	}

	var v struct {
		V FormType `json:"v"`
	}
	if err := json.Unmarshal([]byte(`{"v":true}`), &v); err != nil {
		t.Fatal(err)
	}
	if v.V != Elaborate {
		t.Errorf("expected legacy true to decode as elaborate, got %s", v.V)
	}
}
