// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat provides the terminal chat screen.

The screen is a Bubble Tea model. A question is sent through a Streamer; the
streamed chunks arrive as messages, pass through a StreamingBuffer and are
appended to a Transcript. A 30 FPS tick flushes the buffer and redraws.

# Streaming

The Transcript owns the growing answer buffer. Each redraw parses the whole
buffer again with the streaming flag set, so a citation whose closing bracket
has not arrived yet is hidden instead of flashing as raw text. When the stream
ends the buffer is parsed once more without the flag.

# Keys

	enter    ask the typed question, or run a /command
	1-9      ask the n-th follow-up of the last answer (empty input)
	ctrl+o   focus the next citation and show its path
	ctrl+t   show or hide the backend's reasoning
	esc      stop the answer, keeping what arrived
	ctrl+c   quit

# Usage

	client := api.NewClient(cfg.Backend.URL)
	m := chat.New(chat.Options{
		Client:   client,
		Resolver: client.Resolver(),
		Theme:    cfg.Render.Theme,
	})
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}
*/
package chat
