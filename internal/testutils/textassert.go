// Package testutils carries the shared test helpers: text and JSON
// asserters with readable diffs, a JSON projection of device aggregates,
// and builders for well-formed provider events.
package testutils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TextAssertOptions controls normalization before comparison.
type TextAssertOptions struct {
	IgnoreTrailingWhitespace bool `default:"true"`
	IgnoreEmptyLines         bool `default:"false"`
	TrimSpace                bool `default:"true"`
}

// TextOption is a functional option for configuring TextAsserter.
type TextOption func(*TextAssertOptions)

// WithIgnoreEmptyLines sets whether empty lines are dropped before
// comparison.
func WithIgnoreEmptyLines(ignore bool) TextOption {
	return func(opts *TextAssertOptions) { opts.IgnoreEmptyLines = ignore }
}

// TextAsserter compares multi-line text and reports a unified diff on
// mismatch.
type TextAsserter struct {
	t       *testing.T
	options TextAssertOptions
}

// NewTextAsserter creates a TextAsserter with default options.
func NewTextAsserter(t *testing.T, opts ...TextOption) *TextAsserter {
	o := TextAssertOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return &TextAsserter{t: t, options: o}
}

// Assert compares actual against expected after normalization.
func (ta *TextAsserter) Assert(actual, expected string) {
	ta.t.Helper()
	normActual := ta.normalize(actual)
	normExpected := ta.normalize(expected)
	if normActual == normExpected {
		return
	}
	edits := myers.ComputeEdits("", normExpected, normActual)
	unified := gotextdiff.ToUnified("expected", "actual", normExpected, edits)
	ta.t.Errorf("Text assertion failed - unified diff:\n%s", fmt.Sprint(unified))
}

func (ta *TextAsserter) normalize(text string) string {
	if ta.options.TrimSpace {
		text = strings.TrimSpace(text)
	}
	var result []string
	for _, line := range strings.Split(text, "\n") {
		if ta.options.IgnoreEmptyLines && strings.TrimSpace(line) == "" {
			continue
		}
		if ta.options.IgnoreTrailingWhitespace {
			line = strings.TrimRight(line, " \t")
		}
		result = append(result, line)
	}
	return strings.Join(result, "\n")
}
