// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/citechat/internal/answer"
	"github.com/jeranaias/citechat/internal/model"
)

// =============================================================================
// STREAM COMMANDS
// =============================================================================

// startStream runs the chat request in a goroutine and returns the channel its
// chunks arrive on. The channel is closed when the request ends or ctx is
// canceled.
func startStream(ctx context.Context, client Streamer, req model.ChatAppRequest, turnID string) <-chan tea.Msg {
	ch := make(chan tea.Msg, 64)
	go func() {
		defer close(ch)

		err := client.Chat(ctx, req, func(chunk model.ChatAppChunk) {
			select {
			case ch <- streamChunkMsg{TurnID: turnID, Chunk: chunk}:
			case <-ctx.Done():
			}
		})

		select {
		case ch <- streamDoneMsg{TurnID: turnID, Err: err}:
		case <-ctx.Done():
		}
	}()
	return ch
}

// waitForEvent reads the next message from ch. A closed channel yields nil,
// which bubbletea drops.
func waitForEvent(ch <-chan tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}

// saveTurnCmd writes a finished turn to the history store.
func saveTurnCmd(store HistoryStore, turn *model.Turn, parsed answer.Parsed) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return savedMsg{TurnID: turn.ID, Err: store.Save(ctx, turn, parsed)}
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// CommandHandler handles one slash command.
type CommandHandler func(m *Model, args []string) (tea.Model, tea.Cmd)

// commandHandlers maps command names to their handler functions.
var commandHandlers = map[string]CommandHandler{
	"help":     handleHelpCommand,
	"h":        handleHelpCommand,
	"?":        handleHelpCommand,
	"quit":     handleQuitCommand,
	"q":        handleQuitCommand,
	"exit":     handleQuitCommand,
	"clear":    handleClearCommand,
	"new":      handleClearCommand,
	"followup": handleFollowupCommand,
	"f":        handleFollowupCommand,
	"cite":     handleCiteCommand,
	"c":        handleCiteCommand,
	"thoughts": handleThoughtsCommand,
}

const helpText = "/followup N  ask follow-up N | /cite N  show citation N | " +
	"/thoughts  toggle reasoning | /clear  new conversation | /quit"

// handleCommand dispatches a slash command.
func (m Model) handleCommand(content string) (tea.Model, tea.Cmd) {
	m.input.Reset()

	parts := strings.Fields(content)
	if len(parts) == 0 {
		return m, nil
	}

	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if handler, ok := commandHandlers[name]; ok {
		return handler(&m, parts[1:])
	}

	m.setError(fmt.Sprintf("unknown command %q, type /help", parts[0]))
	return m, nil
}

func handleHelpCommand(m *Model, _ []string) (tea.Model, tea.Cmd) {
	m.setStatus(helpText)
	return *m, nil
}

func handleQuitCommand(m *Model, _ []string) (tea.Model, tea.Cmd) {
	m.stopStream()
	m.quitting = true
	return *m, tea.Quit
}

func handleClearCommand(m *Model, _ []string) (tea.Model, tea.Cmd) {
	m.stopStream()
	m.conv.Clear()
	m.transcript = nil
	m.citeFocus = 0
	m.cache = make(map[string]string)
	m.setStatus("Started a new conversation")
	m.updateViewport()
	return *m, nil
}

func handleFollowupCommand(m *Model, args []string) (tea.Model, tea.Cmd) {
	n, err := commandIndex(args)
	if err != nil {
		m.setError("usage: /followup N")
		return *m, nil
	}
	return m.askFollowup(n)
}

func handleCiteCommand(m *Model, args []string) (tea.Model, tea.Cmd) {
	n, err := commandIndex(args)
	if err != nil {
		m.setError("usage: /cite N")
		return *m, nil
	}
	m.focusCitation(n)
	return *m, nil
}

func handleThoughtsCommand(m *Model, _ []string) (tea.Model, tea.Cmd) {
	m.showThoughts = !m.showThoughts
	m.cache = make(map[string]string)
	m.updateViewport()
	return *m, nil
}

// commandIndex parses the single 1-based index argument of a command.
func commandIndex(args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("expected one argument, got %d", len(args))
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid index %q: %w", args[0], err)
	}
	if n < 1 {
		return 0, fmt.Errorf("index must be positive: %d", n)
	}
	return n, nil
}
