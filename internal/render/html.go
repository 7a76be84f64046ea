// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"bytes"
	"fmt"
	stdhtml "html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"

	"github.com/jeranaias/citechat/internal/answer"
	"github.com/jeranaias/citechat/internal/citation"
)

// classPattern limits class attributes to plain class lists.
var classPattern = regexp.MustCompile(`^[\w\s-]+$`)

// HTMLAnswer is an answer ready to be placed in a DOM.
type HTMLAnswer struct {
	// HTML is the sanitised narrative.
	HTML string `json:"html"`

	// CitationsHTML is an ordered list of links to the cited documents.
	CitationsHTML string `json:"citations_html"`

	Followups []string       `json:"followups"`
	Citations []citation.Ref `json:"citations"`
}

// HTMLRenderer converts parsed answers to sanitised HTML.
// It is safe for concurrent use.
type HTMLRenderer struct {
	md          goldmark.Markdown
	policy      *bluemonday.Policy
	highlighter *highlighter
}

// NewHTMLRenderer creates a renderer that highlights code with the named
// chroma style. An unknown style falls back to chroma's default.
func NewHTMLRenderer(highlightStyle string) *HTMLRenderer {
	if highlightStyle == "" {
		highlightStyle = DefaultHighlightStyle
	}
	h := newHighlighter(highlightStyle)

	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(
			// Raw HTML (citation <sup> markers) passes through; the sanitiser
			// runs afterwards.
			html.WithUnsafe(),
			renderer.WithNodeRenderers(util.Prioritized(h, 200)),
		),
	)

	return &HTMLRenderer{
		md:          md,
		policy:      newPolicy(),
		highlighter: h,
	}
}

// newPolicy is the UGC policy plus class attributes for highlighted code and
// citation markup.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowElements("sup")
	p.AllowAttrs("class").Matching(classPattern).OnElements("span", "pre", "code", "div", "sup", "ol", "li", "a")
	return p
}

// Markdown renders markdown to sanitised HTML.
func (r *HTMLRenderer) Markdown(source string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return r.policy.Sanitize(buf.String()), nil
}

// Sanitize cleans an HTML fragment, e.g. the thoughts returned by the backend.
func (r *HTMLRenderer) Sanitize(fragment string) string {
	return r.policy.Sanitize(fragment)
}

var (
	breakPattern = regexp.MustCompile(`(?i)<br\s*/?>`)
	strictPolicy = bluemonday.StrictPolicy()
)

// StripTags turns an HTML fragment into plain text for terminals. Line breaks
// are kept.
func StripTags(fragment string) string {
	text := breakPattern.ReplaceAllString(fragment, "\n")
	return stdhtml.UnescapeString(strictPolicy.Sanitize(text))
}

// Render converts a parsed answer. Citations are linked through resolver.
func (r *HTMLRenderer) Render(parsed answer.Parsed, resolver *citation.Resolver) (HTMLAnswer, error) {
	body, err := r.Markdown(parsed.Text)
	if err != nil {
		return HTMLAnswer{}, err
	}

	refs := resolver.Refs(parsed)
	followups := parsed.Followups
	if followups == nil {
		followups = []string{}
	}

	return HTMLAnswer{
		HTML:          body,
		CitationsHTML: r.citationList(refs),
		Followups:     followups,
		Citations:     refs,
	}, nil
}

// citationList renders refs as an ordered list of links.
func (r *HTMLRenderer) citationList(refs []citation.Ref) string {
	if len(refs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(`<ol class="citations">`)
	for _, ref := range refs {
		fmt.Fprintf(&b, `<li><a class="citation" href="%s">%d. %s</a></li>`,
			stdhtml.EscapeString(ref.Path), ref.Index, stdhtml.EscapeString(ref.Label))
	}
	b.WriteString(`</ol>`)
	return r.policy.Sanitize(b.String())
}

// CSS returns the stylesheet for highlighted code blocks.
func (r *HTMLRenderer) CSS() (string, error) {
	var buf bytes.Buffer
	if err := r.highlighter.css(&buf); err != nil {
		return "", fmt.Errorf("failed to write highlight css: %w", err)
	}
	return buf.String(), nil
}
