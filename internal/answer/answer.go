// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package answer

import (
	"regexp"
	"strings"
)

// =============================================================================
// PATTERNS
// =============================================================================

var (
	// followupPattern matches <<question>> with at least one non-'>' character.
	followupPattern = regexp.MustCompile(`<<([^>]+)>>`)

	// citationPattern matches [label] with at least one non-']' character.
	citationPattern = regexp.MustCompile(`\[([^\]]+)\]`)
)

// =============================================================================
// TYPES
// =============================================================================

// Citation is one citation occurrence in an answer.
type Citation struct {
	// Index is the 1-based display handle shown in the placeholder.
	Index int `json:"index"`

	// Label is the text found between the brackets, usually a source file name.
	Label string `json:"label"`
}

// Parsed is the structured form of an assistant answer.
type Parsed struct {
	// Text is the narrative with follow-ups removed and citations replaced
	// by placeholders.
	Text string `json:"text"`

	// Followups are the suggested follow-up questions in order of appearance.
	Followups []string `json:"followups"`

	// Citations are the citation occurrences in order of appearance.
	// Labels are not deduplicated.
	Citations []Citation `json:"citations"`
}

// Citation returns the citation with the given display handle.
func (p Parsed) Citation(index int) (Citation, bool) {
	if index < 1 || index > len(p.Citations) {
		return Citation{}, false
	}
	return p.Citations[index-1], true
}

// Labels returns the citation labels in display order.
func (p Parsed) Labels() []string {
	labels := make([]string, len(p.Citations))
	for i, c := range p.Citations {
		labels[i] = c.Label
	}
	return labels
}

// IsEmpty reports whether the answer has no text, follow-ups or citations.
func (p Parsed) IsEmpty() bool {
	return p.Text == "" && len(p.Followups) == 0 && len(p.Citations) == 0
}

// =============================================================================
// PARSER
// =============================================================================

// Parser turns raw answer text into a Parsed answer.
// A Parser holds no per-call state and may be shared between goroutines.
type Parser struct {
	placeholder PlaceholderFunc
}

// Option configures a Parser.
type Option func(*Parser)

// WithPlaceholder sets the function that renders citation placeholders.
// A nil function leaves the default in place.
func WithPlaceholder(fn PlaceholderFunc) Option {
	return func(p *Parser) {
		if fn != nil {
			p.placeholder = fn
		}
	}
}

// NewParser creates a Parser. The default placeholder is HTMLPlaceholder.
func NewParser(opts ...Option) *Parser {
	p := &Parser{placeholder: HTMLPlaceholder}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var defaultParser = NewParser()

// Parse interprets raw with the default parser.
func Parse(raw string, streaming bool) Parsed {
	return defaultParser.Parse(raw, streaming)
}

// Parse interprets raw. When streaming is true the answer is assumed to be
// incomplete and a trailing unclosed "[" is dropped along with everything
// after it.
func (p *Parser) Parse(raw string, streaming bool) Parsed {
	text, followups := ExtractFollowups(raw)
	text = strings.TrimSpace(text)

	if streaming {
		text = TruncateDanglingCitation(text)
	}

	text, citations := p.rewriteCitations(text)

	return Parsed{
		Text:      text,
		Followups: followups,
		Citations: citations,
	}
}

// =============================================================================
// STAGES
// =============================================================================

// ExtractFollowups removes every <<question>> span from raw and returns the
// remaining text along with the questions in order. An unclosed "<<" or an
// empty "<<>>" is left in the text. The returned slice is never nil.
func ExtractFollowups(raw string) (string, []string) {
	matches := followupPattern.FindAllStringSubmatchIndex(raw, -1)
	followups := make([]string, 0, len(matches))
	if len(matches) == 0 {
		return raw, followups
	}

	var b strings.Builder
	b.Grow(len(raw))

	last := 0
	for _, m := range matches {
		b.WriteString(raw[last:m[0]])
		followups = append(followups, raw[m[2]:m[3]])
		last = m[1]
	}
	b.WriteString(raw[last:])

	return b.String(), followups
}

// TruncateDanglingCitation cuts text just before a trailing "[" that has no
// closing "]" after it. Text whose last bracket is "]", or that has no
// brackets at all, is returned unchanged.
func TruncateDanglingCitation(text string) string {
	for i := len(text) - 1; i >= 0; i-- {
		switch text[i] {
		case ']':
			return text
		case '[':
			return text[:i]
		}
	}
	return text
}

// rewriteCitations replaces every complete [label] with a placeholder and
// returns the labels in order. The returned slice is never nil.
func (p *Parser) rewriteCitations(text string) (string, []Citation) {
	matches := citationPattern.FindAllStringSubmatchIndex(text, -1)
	citations := make([]Citation, 0, len(matches))
	if len(matches) == 0 {
		return text, citations
	}

	var b strings.Builder
	b.Grow(len(text))

	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m[0]])

		c := Citation{Index: len(citations) + 1, Label: text[m[2]:m[3]]}
		citations = append(citations, c)
		b.WriteString(p.placeholder(c.Index, c.Label))

		last = m[1]
	}
	b.WriteString(text[last:])

	return b.String(), citations
}
