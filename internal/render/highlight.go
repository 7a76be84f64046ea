// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	stdhtml "html"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// DefaultHighlightStyle is the chroma style used for code blocks.
const DefaultHighlightStyle = "github"

// =============================================================================
// SYNTAX HIGHLIGHTING (Chroma-based)
// =============================================================================

// highlighter renders fenced code blocks through chroma with CSS classes, so
// the markup survives sanitising and the colours come from CSS().
type highlighter struct {
	style     *chroma.Style
	formatter *chromahtml.Formatter
}

func newHighlighter(styleName string) *highlighter {
	style := chromaStyles.Get(styleName)
	if style == nil {
		style = chromaStyles.Fallback
	}
	return &highlighter{
		style:     style,
		formatter: chromahtml.New(chromahtml.WithClasses(true)),
	}
}

// RegisterFuncs implements renderer.NodeRenderer.
func (h *highlighter) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, h.renderFencedCodeBlock)
}

func (h *highlighter) renderFencedCodeBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}

	n := node.(*ast.FencedCodeBlock)
	language := string(n.Language(source))

	var code strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		code.Write(seg.Value(source))
	}

	if err := h.highlight(w, code.String(), language); err != nil {
		writePlainCode(w, code.String(), language)
	}
	return ast.WalkSkipChildren, nil
}

// highlight writes code as chroma HTML.
func (h *highlighter) highlight(w io.Writer, code, language string) error {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Analyse(code)
	}
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return err
	}
	return h.formatter.Format(w, h.style, iterator)
}

// css writes the stylesheet for the highlight classes.
func (h *highlighter) css(w io.Writer) error {
	return h.formatter.WriteCSS(w, h.style)
}

func writePlainCode(w io.Writer, code, language string) {
	io.WriteString(w, "<pre><code")
	if language != "" {
		io.WriteString(w, ` class="language-`+stdhtml.EscapeString(language)+`"`)
	}
	io.WriteString(w, ">")
	io.WriteString(w, stdhtml.EscapeString(code))
	io.WriteString(w, "</code></pre>\n")
}
