// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/citechat/internal/model"
	"github.com/jeranaias/citechat/internal/render"
	"github.com/jeranaias/citechat/internal/util"
)

// Fixed heights of the chrome around the viewport.
const (
	headerHeight = 1
	inputHeight  = 3
	statusHeight = 1
)

// =============================================================================
// MAIN RENDER
// =============================================================================

// View renders the screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Loading..."
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderInput(),
		m.renderStatusBar(),
	)
}

func (m Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render("citechat")
	if m.title != "" {
		title += " " + m.theme.HeaderURL.Render(util.TruncateWidth(m.title, max(m.width-14, 8)))
	}
	return m.theme.Header.Width(m.width).MaxHeight(headerHeight).Render(title)
}

func (m Model) renderInput() string {
	return m.theme.Input.Width(max(m.width-2, 10)).Render(m.input.View())
}

func (m Model) renderStatusBar() string {
	var left string
	switch {
	case m.streaming:
		left = m.theme.Streaming.Render(m.spinner.View() + " answering")
	default:
		left = m.theme.Ready.Render("ready")
	}

	var right string
	if m.status != "" {
		style := m.theme.KeyDesc
		if m.statusErr {
			style = m.theme.Error
		} else if m.citeFocus > 0 {
			style = m.theme.CitationFocus
		}
		right = style.Render(util.TruncateWidth(util.SingleLine(m.status), max(m.width-20, 10)))
	} else {
		right = m.renderShortHelp()
	}

	return m.theme.StatusBar.Width(m.width).MaxHeight(statusHeight).Render(left + "  " + right)
}

func (m Model) renderShortHelp() string {
	parts := make([]string, 0, 5)
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		parts = append(parts, m.theme.Key.Render(h.Key)+" "+m.theme.KeyDesc.Render(h.Desc))
	}
	return strings.Join(parts, "  ")
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// updateViewport re-renders the conversation and follows the newest output.
func (m *Model) updateViewport() {
	if !m.ready {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderConversation())
	if atBottom || m.streaming {
		m.viewport.GotoBottom()
	}
}

func (m *Model) renderConversation() string {
	if m.conv.IsEmpty() {
		return m.theme.KeyDesc.Render("Ask a question about your documents. Answers cite their sources.")
	}

	var b strings.Builder
	for _, turn := range m.conv.Turns {
		b.WriteString(m.renderQuestion(turn))
		b.WriteString("\n")
		b.WriteString(m.renderAnswer(turn))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) renderQuestion(turn *model.Turn) string {
	label := m.theme.QuestionLabel.Render(model.RoleUser.DisplayName())
	return m.theme.Question.Width(max(m.width-4, 10)).Render(label + "\n" + turn.Question)
}

// renderAnswer renders one answer. Finished answers are cached; the streaming
// one is re-parsed from its whole buffer on every call.
func (m *Model) renderAnswer(turn *model.Turn) string {
	if !turn.IsStreaming {
		if cached, ok := m.cache[turn.ID]; ok {
			return cached
		}
	}

	var b strings.Builder
	if m.showThoughts && turn.HasThoughts() {
		b.WriteString(m.theme.Stats.Render(render.StripTags(turn.Context.Thoughts)))
		b.WriteString("\n\n")
	}

	if turn.IsEmpty() && turn.IsStreaming {
		b.WriteString(m.theme.Streaming.Render("..."))
	} else if m.renderer != nil {
		b.WriteString(strings.TrimRight(m.renderer.Render(turn.Parse(m.parser), m.resolver), "\n"))
	} else {
		b.WriteString(turn.Parse(m.parser).Text)
	}

	if turn.Err != "" {
		b.WriteString("\n")
		b.WriteString(m.theme.Error.Render("Error: " + turn.Err))
	}
	if stats := turn.FormatStats(); stats != "" {
		b.WriteString("\n")
		b.WriteString(m.theme.Stats.Render(m.statsLine(turn, stats)))
	}

	out := m.theme.Answer.Render(b.String())
	if !turn.IsStreaming {
		m.cache[turn.ID] = out
	}
	return out
}

func (m *Model) statsLine(turn *model.Turn, stats string) string {
	if n := len(turn.Context.DataPoints); n > 0 {
		return fmt.Sprintf("%s | %d sources", stats, n)
	}
	return stats
}
