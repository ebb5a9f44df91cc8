package quest

import (
	"strings"
	"testing"
)

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = "word"
	}
	return strings.Join(w, " ")
}

func filled(t *testing.T, ft FormType, n int) *Instance {
	t.Helper()
	tmpl, err := DefaultStore().Get(ft)
	if err != nil {
		t.Fatal(err)
	}
	in := NewInstance(tmpl)
	for _, f := range tmpl.Fields() {
		if err := in.Set(f.ID, words(n)); err != nil {
			t.Fatal(err)
		}
	}
	return in
}

func TestCountWords(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"one", 1},
		{"one  two\tthree\nfour", 4},
		{" leading and trailing ", 3},
	}
	for _, tt := range tests {
		if got := CountWords(tt.in); got != tt.want {
			t.Errorf("CountWords(%q): expected %d, got %d", tt.in, tt.want, got)
		}
	}
}

func TestWordCountLabel(t *testing.T) {
	if got := WordCountLabel(3, 25); got != "Minimum: 3/25 words" {
		t.Errorf("unexpected label %q", got)
	}
	if got := WordCountLabel(25, 25); got != "25 words" {
		t.Errorf("unexpected label %q", got)
	}
}

func TestCheck_Boundary(t *testing.T) {
	in := filled(t, Lite, 25)
	if r := Check(in, 25); !r.Valid() {
		t.Errorf("expected 25 words to pass, got %v", r.Failures)
	}

	_ = in.Set("aspirations", words(24))
	r := Check(in, 25)
	if r.Valid() {
		t.Fatal("expected 24 words to fail")
	}
	if !r.Failed("aspirations") || r.Failures[0].Words != 24 {
		t.Errorf("unexpected failures %v", r.Failures)
	}
	if r.FirstPart != 2 {
		t.Errorf("expected first failing part 2, got %d", r.FirstPart)
	}
	if !strings.Contains(r.Error(), "Aspirations") {
		t.Errorf("unexpected message %q", r.Error())
	}
}

func TestCheck_Unanswered(t *testing.T) {
	tmpl, _ := DefaultStore().Get(Simple)
	r := Check(NewInstance(tmpl), 0)
	if r.MinWords != DefaultMinWords {
		t.Errorf("expected default min words, got %d", r.MinWords)
	}
	if len(r.Failures) != 6 || r.FirstPart != 1 {
		t.Errorf("expected all 6 leaves to fail from part 1, got %d from %d", len(r.Failures), r.FirstPart)
	}
}

func TestCheck_ElaborateExample(t *testing.T) {
	in := filled(t, Elaborate, 25)
	_ = in.Set("childhood_memory", words(30))

	if r := Check(in, 25); !r.Valid() {
		t.Fatalf("expected valid, got %v", r.Failures)
	}

	for _, f := range in.Template().Fields() {
		short := in.Clone()
		_ = short.Set(f.ID, words(24))
		r := Check(short, 25)
		if r.Valid() {
			t.Errorf("%s: expected 24 words to fail", f.ID)
			continue
		}
		if r.FirstPart != f.Part {
			t.Errorf("%s: expected part %d, got %d", f.ID, f.Part, r.FirstPart)
		}
	}
}

func TestCheck_FirstPartIsLowestPart(t *testing.T) {
	in := filled(t, Elaborate, 25)
	_ = in.Set("future_experiences", "")
	_ = in.Set("core_values", "short")

	r := Check(in, 25)
	if r.FirstPart != 4 {
		t.Errorf("expected part 4, got %d", r.FirstPart)
	}
	if len(r.Failures) != 2 || r.Failures[0].Field.ID != "core_values" {
		t.Errorf("expected failures in template order, got %v", r.Failures)
	}
}
