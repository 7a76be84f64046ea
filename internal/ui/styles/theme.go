// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styled components of the chat screen.
type Theme struct {
	// Terminal capabilities
	IsDark       bool
	ColorProfile termenv.Profile

	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	HeaderURL   lipgloss.Style

	Question      lipgloss.Style
	QuestionLabel lipgloss.Style
	Answer        lipgloss.Style
	Stats         lipgloss.Style
	Error         lipgloss.Style

	CitationFocus lipgloss.Style

	Input     lipgloss.Style
	StatusBar lipgloss.Style
	Key       lipgloss.Style
	KeyDesc   lipgloss.Style
	Streaming lipgloss.Style
	Ready     lipgloss.Style
}

// NewTheme creates a theme for the current terminal.
func NewTheme() *Theme {
	t := &Theme{
		IsDark:       termenv.HasDarkBackground(),
		ColorProfile: termenv.ColorProfile(),
	}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Padding(0, 1)
	t.HeaderTitle = lipgloss.NewStyle().Bold(true).Foreground(Purple)
	t.HeaderURL = lipgloss.NewStyle().Foreground(TextMuted).Italic(true)

	t.Question = lipgloss.NewStyle().
		Foreground(TextPrimary).
		BorderStyle(lipgloss.NormalBorder()).
		BorderLeft(true).
		BorderForeground(Cyan).
		PaddingLeft(1)
	t.QuestionLabel = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	t.Answer = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderLeft(true).
		BorderForeground(Purple)
	t.Stats = lipgloss.NewStyle().Foreground(TextMuted).Italic(true)
	t.Error = lipgloss.NewStyle().Foreground(Rose).Bold(true)

	t.CitationFocus = lipgloss.NewStyle().
		Background(SelectionBg).
		Foreground(TextPrimary).
		Padding(0, 1)

	t.Input = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)
	t.StatusBar = lipgloss.NewStyle().Foreground(TextSecondary).Padding(0, 1)
	t.Key = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	t.KeyDesc = lipgloss.NewStyle().Foreground(TextMuted)
	t.Streaming = lipgloss.NewStyle().Foreground(Amber)
	t.Ready = lipgloss.NewStyle().Foreground(Emerald)
}
