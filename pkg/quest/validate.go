package quest

import (
	"fmt"
	"strings"
)

// DefaultMinWords is the minimum number of words every answer needs.
const DefaultMinWords = 25

// CountWords counts whitespace-delimited tokens.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// WordCountLabel is the text shown under an answer while it is edited.
func WordCountLabel(words, min int) string {
	if words < min {
		return fmt.Sprintf("Minimum: %d/%d words", words, min)
	}
	return fmt.Sprintf("%d words", words)
}

// Failure is one leaf below the word threshold.
type Failure struct {
	Field Field
	Words int
}

// Report is the result of checking an instance.
type Report struct {
	MinWords int
	Failures []Failure
	// FirstPart is the lowest part index holding a failure, 0 when valid.
	FirstPart int
}

// Valid reports whether no leaf failed.
func (r Report) Valid() bool {
	return len(r.Failures) == 0
}

// Failed reports whether the field with id failed.
func (r Report) Failed(id string) bool {
	for _, f := range r.Failures {
		if f.Field.ID == id {
			return true
		}
	}
	return false
}

// Error describes the first failure, for use as a user facing message.
func (r Report) Error() string {
	if r.Valid() {
		return ""
	}
	f := r.Failures[0]
	return fmt.Sprintf("%q needs at least %d words (has %d)", f.Field.PathString(), r.MinWords, f.Words)
}

// Check validates every leaf in template key order. Unanswered leaves count
// as zero words. A min below 1 uses DefaultMinWords.
func Check(in *Instance, min int) Report {
	if min < 1 {
		min = DefaultMinWords
	}
	r := Report{MinWords: min}
	for _, leaf := range in.Leaves() {
		words := CountWords(leaf.Value)
		if words >= min {
			continue
		}
		r.Failures = append(r.Failures, Failure{Field: leaf.Field, Words: words})
		if r.FirstPart == 0 || leaf.Field.Part < r.FirstPart {
			r.FirstPart = leaf.Field.Part
		}
	}
	return r
}
