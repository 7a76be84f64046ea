// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/jeranaias/citechat/internal/answer"
	"github.com/jeranaias/citechat/internal/citation"
	"github.com/jeranaias/citechat/internal/util"
)

// Theme names accepted by NewTerminalRenderer.
const (
	ThemeAuto  = "auto"
	ThemeDark  = "dark"
	ThemeLight = "light"
	ThemeNoTTY = "notty"
)

// DefaultWordWrap is used when no terminal width is known.
const DefaultWordWrap = 80

// TextRenderer renders a parsed answer for a text stream.
type TextRenderer interface {
	Render(parsed answer.Parsed, resolver *citation.Resolver) string
}

// Placeholder is the citation marker style for text output.
var Placeholder = answer.SuperscriptPlaceholder

// =============================================================================
// TERMINAL RENDERER
// =============================================================================

var (
	headingStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	indexStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	pathStyle     = lipgloss.NewStyle().Faint(true)
	followupStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
)

// TerminalRenderer renders markdown with glamour and adds styled citation
// and follow-up lists.
type TerminalRenderer struct {
	tr    *glamour.TermRenderer
	width int
}

// ResolveTheme maps "auto" to dark or light from the terminal background.
func ResolveTheme(theme string) string {
	switch strings.ToLower(strings.TrimSpace(theme)) {
	case ThemeDark:
		return ThemeDark
	case ThemeLight:
		return ThemeLight
	case ThemeNoTTY:
		return ThemeNoTTY
	default:
		if termenv.HasDarkBackground() {
			return ThemeDark
		}
		return ThemeLight
	}
}

// NewTerminalRenderer creates a renderer for the given theme and width.
// A non-positive width uses DefaultWordWrap.
func NewTerminalRenderer(theme string, width int) (*TerminalRenderer, error) {
	if width <= 0 {
		width = DefaultWordWrap
	}

	tr, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(ResolveTheme(theme)),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return &TerminalRenderer{tr: tr, width: width}, nil
}

// Render renders the narrative followed by the citation and follow-up lists.
// If glamour fails the raw text is used.
func (r *TerminalRenderer) Render(parsed answer.Parsed, resolver *citation.Resolver) string {
	body, err := r.tr.Render(parsed.Text)
	if err != nil {
		body = parsed.Text + "\n"
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(body, "\n"))
	b.WriteString("\n")
	writeCitations(&b, parsed, resolver, r.width, true)
	writeFollowups(&b, parsed, r.width, true)
	return b.String()
}

// =============================================================================
// PLAIN RENDERER
// =============================================================================

// PlainRenderer writes the answer without any styling, for pipes and files.
type PlainRenderer struct {
	Width int
}

// Render renders the narrative followed by the citation and follow-up lists.
func (r PlainRenderer) Render(parsed answer.Parsed, resolver *citation.Resolver) string {
	width := r.Width
	if width <= 0 {
		width = DefaultWordWrap
	}

	var b strings.Builder
	b.WriteString(parsed.Text)
	b.WriteString("\n")
	writeCitations(&b, parsed, resolver, width, false)
	writeFollowups(&b, parsed, width, false)
	return b.String()
}

// =============================================================================
// SHARED
// =============================================================================

// Footer renders only the citation and follow-up lists, for callers that
// have already streamed the narrative.
func Footer(parsed answer.Parsed, resolver *citation.Resolver, width int, styled bool) string {
	if width <= 0 {
		width = DefaultWordWrap
	}
	var b strings.Builder
	writeCitations(&b, parsed, resolver, width, styled)
	writeFollowups(&b, parsed, width, styled)
	return b.String()
}

func writeCitations(b *strings.Builder, parsed answer.Parsed, resolver *citation.Resolver, width int, styled bool) {
	if len(parsed.Citations) == 0 {
		return
	}

	b.WriteString("\n")
	b.WriteString(style(headingStyle, "Citations:", styled))
	b.WriteString("\n")

	for _, c := range parsed.Citations {
		fmt.Fprintf(b, "  %s %s", style(indexStyle, fmt.Sprintf("%d.", c.Index), styled), c.Label)
		if resolver != nil {
			b.WriteString("  ")
			b.WriteString(style(pathStyle, util.TruncateWidth(resolver.Path(c.Label), width-8), styled))
		}
		b.WriteString("\n")
	}
}

func writeFollowups(b *strings.Builder, parsed answer.Parsed, width int, styled bool) {
	if len(parsed.Followups) == 0 {
		return
	}

	b.WriteString("\n")
	b.WriteString(style(headingStyle, "Follow-up questions:", styled))
	b.WriteString("\n")

	for i, q := range parsed.Followups {
		line := util.TruncateWidth(q, width-6)
		fmt.Fprintf(b, "  %s %s\n", style(indexStyle, fmt.Sprintf("[%d]", i+1), styled), style(followupStyle, line, styled))
	}
}

func style(s lipgloss.Style, text string, styled bool) string {
	if !styled {
		return text
	}
	return s.Render(text)
}
