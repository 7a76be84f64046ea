// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package answer

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// PARSE TESTS
// =============================================================================

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		streaming bool
		wantText  string
		wantFups  []string
		wantCites []string
	}{
		{
			name:      "empty",
			raw:       "",
			wantText:  "",
			wantFups:  []string{},
			wantCites: []string{},
		},
		{
			name:      "whitespace only",
			raw:       "  \n\t ",
			streaming: true,
			wantText:  "",
			wantFups:  []string{},
			wantCites: []string{},
		},
		{
			name:      "plain text",
			raw:       "  The plan covers dental.  ",
			wantText:  "The plan covers dental.",
			wantFups:  []string{},
			wantCites: []string{},
		},
		{
			name:      "followups in order",
			raw:       "Answer. <<Q1?>> more <<Q2?>>",
			wantText:  "Answer.  more",
			wantFups:  []string{"Q1?", "Q2?"},
			wantCites: []string{},
		},
		{
			name:      "streaming drops partial citation",
			raw:       "The doc says [ref1] and also [re",
			streaming: true,
			wantText:  "The doc says <sup>1</sup> and also ",
			wantFups:  []string{},
			wantCites: []string{"ref1"},
		},
		{
			name:      "final keeps partial citation",
			raw:       "The doc says [ref1] and also [re",
			wantText:  "The doc says <sup>1</sup> and also [re",
			wantFups:  []string{},
			wantCites: []string{"ref1"},
		},
		{
			name:      "complete citations kept while streaming",
			raw:       "See [docA] and [docB]",
			streaming: true,
			wantText:  "See <sup>1</sup> and <sup>2</sup>",
			wantFups:  []string{},
			wantCites: []string{"docA", "docB"},
		},
		{
			name:      "duplicate labels get separate handles",
			raw:       "[a.pdf] then [a.pdf]",
			wantText:  "<sup>1</sup> then <sup>2</sup>",
			wantFups:  []string{},
			wantCites: []string{"a.pdf", "a.pdf"},
		},
		{
			name:      "label with page fragment",
			raw:       "Deductible is $500 [Benefit_Options.pdf#page=3].",
			wantText:  "Deductible is $500 <sup>1</sup>.",
			wantFups:  []string{},
			wantCites: []string{"Benefit_Options.pdf#page=3"},
		},
		{
			name:      "empty brackets stay literal",
			raw:       "array[] access",
			wantText:  "array[] access",
			wantFups:  []string{},
			wantCites: []string{},
		},
		{
			name:      "empty followup stays literal",
			raw:       "a <<>> b",
			wantText:  "a <<>> b",
			wantFups:  []string{},
			wantCites: []string{},
		},
		{
			name:      "unclosed followup stays literal",
			raw:       "Answer <<What about",
			streaming: true,
			wantText:  "Answer <<What about",
			wantFups:  []string{},
			wantCites: []string{},
		},
		{
			name:      "followup with inner angle bracket stays literal",
			raw:       "x <<a>b>> y",
			wantText:  "x <<a>b>> y",
			wantFups:  []string{},
			wantCites: []string{},
		},
		{
			name:      "brackets inside followup do not truncate",
			raw:       "Answer [a] <<Why [x?>>",
			streaming: true,
			wantText:  "Answer <sup>1</sup>",
			wantFups:  []string{"Why [x?"},
			wantCites: []string{"a"},
		},
		{
			name:      "lone open bracket while streaming",
			raw:       "[",
			streaming: true,
			wantText:  "",
			wantFups:  []string{},
			wantCites: []string{},
		},
		{
			name:      "truncation is not re-trimmed",
			raw:       "Hello [",
			streaming: true,
			wantText:  "Hello ",
			wantFups:  []string{},
			wantCites: []string{},
		},
		{
			name:      "streaming cuts only at the last opener",
			raw:       "x [[",
			streaming: true,
			wantText:  "x [",
			wantFups:  []string{},
			wantCites: []string{},
		},
		{
			name:      "earlier unclosed opener stays while streaming",
			raw:       "x [a [b",
			streaming: true,
			wantText:  "x [a ",
			wantFups:  []string{},
			wantCites: []string{},
		},
		{
			name:      "nested opener becomes part of label",
			raw:       "see [[a]]",
			wantText:  "see <sup>1</sup>]",
			wantFups:  []string{},
			wantCites: []string{"[a"},
		},
		{
			name:      "multiline answer",
			raw:       "Line one [a].\n\nLine two [b].\n<<Next?>>\n",
			streaming: true,
			wantText:  "Line one <sup>1</sup>.\n\nLine two <sup>2</sup>.",
			wantFups:  []string{"Next?"},
			wantCites: []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.raw, tt.streaming)

			assert.Equal(t, tt.wantText, got.Text)
			assert.Equal(t, tt.wantFups, got.Followups)
			assert.Equal(t, tt.wantCites, got.Labels())

			for i, c := range got.Citations {
				assert.Equal(t, i+1, c.Index, "citation handles are 1-based and sequential")
			}
		})
	}
}

func TestParse_NeverNilSlices(t *testing.T) {
	got := Parse("", false)
	require.NotNil(t, got.Followups)
	require.NotNil(t, got.Citations)
	assert.True(t, got.IsEmpty())
}

func TestParse_CleanTextIsIdentity(t *testing.T) {
	inputs := []string{
		"Plain answer.",
		"Multi\nline\n\nanswer with > and < signs",
		"Brackets only closing ] here",
	}
	for _, in := range inputs {
		assert.Equal(t, in, Parse(in, false).Text)
		assert.Equal(t, in, Parse(in, true).Text)
	}
}

func TestParse_Deterministic(t *testing.T) {
	raw := "A [x] b [y] <<c?>> d [z"
	first := Parse(raw, true)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Parse(raw, true))
	}
}

// TestParse_GrowingBuffer re-parses every prefix of an answer the way the UI
// does while tokens arrive and checks that no bracket ever leaks.
func TestParse_GrowingBuffer(t *testing.T) {
	full := "Intro [a.pdf] middle [b.pdf#page=2] end.\n<<Next question?>> <<Another?>>"

	prevCitations := 0
	for i := 0; i <= len(full); i++ {
		got := Parse(full[:i], true)

		assert.NotContains(t, got.Text, "[", "prefix %q", full[:i])
		assert.NotContains(t, got.Text, "]", "prefix %q", full[:i])
		assert.GreaterOrEqual(t, len(got.Citations), prevCitations, "citations never disappear")
		prevCitations = len(got.Citations)
	}

	final := Parse(full, false)
	assert.Equal(t, "Intro <sup>1</sup> middle <sup>2</sup> end.", final.Text)
	assert.Equal(t, []string{"Next question?", "Another?"}, final.Followups)
	assert.Equal(t, []string{"a.pdf", "b.pdf#page=2"}, final.Labels())
}

func TestParse_Concurrent(t *testing.T) {
	p := NewParser(WithPlaceholder(SuperscriptPlaceholder))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got := p.Parse("x [a] y [b", true)
			assert.Equal(t, "x ⁽¹⁾ y ", got.Text)
		}()
	}
	wg.Wait()
}

// =============================================================================
// STAGE TESTS
// =============================================================================

func TestExtractFollowups(t *testing.T) {
	rest, fups := ExtractFollowups("<<one>>text<<two>>")
	assert.Equal(t, "text", rest)
	assert.Equal(t, []string{"one", "two"}, fups)

	rest, fups = ExtractFollowups("no markup")
	assert.Equal(t, "no markup", rest)
	assert.Empty(t, fups)
	assert.NotNil(t, fups)
}

func TestTruncateDanglingCitation(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"no brackets", "no brackets"},
		{"closed [a]", "closed [a]"},
		{"closed [a] open [b", "closed [a] open "},
		{"open [b then ]", "open [b then ]"},
		{"[", ""},
		{"a ] b", "a ] b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TruncateDanglingCitation(tt.in), "input %q", tt.in)
	}
}

// =============================================================================
// PLACEHOLDER TESTS
// =============================================================================

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "<sup>7</sup>", HTMLPlaceholder(7, "x"))
	assert.Equal(t, "⁽¹⁾", SuperscriptPlaceholder(1, "x"))
	assert.Equal(t, "⁽¹²⁰⁾", SuperscriptPlaceholder(120, "x"))

	for _, name := range []string{"superscript", "Terminal", " unicode "} {
		assert.Equal(t, "⁽³⁾", PlaceholderByName(name)(3, ""))
	}
	assert.Equal(t, "<sup>3</sup>", PlaceholderByName("html")(3, ""))
	assert.Equal(t, "<sup>3</sup>", PlaceholderByName("bogus")(3, ""))
}

func TestPlaceholdersHaveNoBrackets(t *testing.T) {
	for i := 1; i < 200; i++ {
		for _, fn := range []PlaceholderFunc{HTMLPlaceholder, SuperscriptPlaceholder} {
			assert.False(t, strings.ContainsAny(fn(i, "label"), "[]"))
		}
	}
}

func TestWithPlaceholder_NilKeepsDefault(t *testing.T) {
	p := NewParser(WithPlaceholder(nil))
	assert.Equal(t, "<sup>1</sup>", p.Parse("[a]", false).Text)
}

func TestParsed_Citation(t *testing.T) {
	got := Parse("[a] [b]", false)

	c, ok := got.Citation(2)
	require.True(t, ok)
	assert.Equal(t, Citation{Index: 2, Label: "b"}, c)

	_, ok = got.Citation(0)
	assert.False(t, ok)
	_, ok = got.Citation(3)
	assert.False(t, ok)
}

// =============================================================================
// FUZZ
// =============================================================================

func FuzzParse(f *testing.F) {
	seeds := []string{
		"",
		"The doc says [ref1] and also [re",
		"Answer. <<Q1?>> more <<Q2?>>",
		"[[a]] ]] [[ <<<>>> <<a>b>>",
		"x [a\n] y [",
	}
	for _, s := range seeds {
		f.Add(s, true)
		f.Add(s, false)
	}

	f.Fuzz(func(t *testing.T, raw string, streaming bool) {
		got := Parse(raw, streaming)

		if citationPattern.MatchString(got.Text) {
			t.Fatalf("complete citation leaked into %q", got.Text)
		}
		if streaming {
			// Only the span from the last opener on is hidden. An earlier
			// "[" (as in "[[") stays.
			final := Parse(raw, false)
			if !strings.HasPrefix(final.Text, got.Text) {
				t.Fatalf("streaming text %q is not a prefix of %q", got.Text, final.Text)
			}
			if hidden := final.Text[len(got.Text):]; hidden != "" && (hidden[0] != '[' || strings.Contains(hidden, "]")) {
				t.Fatalf("hid %q, want only a trailing unclosed span", hidden)
			}
			if len(got.Citations) != len(final.Citations) || len(got.Followups) != len(final.Followups) {
				t.Fatalf("streaming changed citations or follow-ups: %+v vs %+v", got, final)
			}
		}
		for i, c := range got.Citations {
			if c.Index != i+1 || c.Label == "" {
				t.Fatalf("bad citation %+v at %d", c, i)
			}
		}
	})
}
