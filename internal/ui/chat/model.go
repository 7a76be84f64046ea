// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/jeranaias/citechat/internal/answer"
	"github.com/jeranaias/citechat/internal/api"
	"github.com/jeranaias/citechat/internal/citation"
	"github.com/jeranaias/citechat/internal/model"
	"github.com/jeranaias/citechat/internal/render"
	"github.com/jeranaias/citechat/internal/ui/styles"
)

// errCanceled marks an answer the user stopped.
var errCanceled = errors.New("canceled")

// Streamer sends a chat request and delivers the streamed chunks.
// *api.Client implements it.
type Streamer interface {
	Chat(ctx context.Context, req model.ChatAppRequest, callback api.StreamCallback) error
}

// HistoryStore records finished turns.
type HistoryStore interface {
	Save(ctx context.Context, turn *model.Turn, parsed answer.Parsed) error
}

// Options configures a chat Model.
type Options struct {
	Client Streamer

	// Store is optional; when nil answers are not recorded.
	Store HistoryStore

	// Renderer is optional; when nil a TerminalRenderer sized to the window
	// is created with Theme.
	Renderer render.TextRenderer
	Theme    string

	Resolver  *citation.Resolver
	Overrides model.RequestOverrides
	Logger    *zap.Logger

	// Title is shown in the header, usually the backend URL.
	Title string

	// Streaming buffer thresholds. Zero uses the defaults.
	BatchSize int
	MaxFPS    int
}

// Model is the bubbletea model of the chat screen.
type Model struct {
	client    Streamer
	store     HistoryStore
	renderer  render.TextRenderer
	fixedRend bool
	themeName string
	resolver  *citation.Resolver
	parser    *answer.Parser
	overrides model.RequestOverrides
	logger    *zap.Logger
	title     string

	theme *styles.Theme
	keys  KeyMap

	conv       *model.Conversation
	transcript *Transcript
	buffer     *StreamingBuffer
	events     <-chan tea.Msg
	cancel     context.CancelFunc

	// Rendered answers of finished turns, by turn ID.
	cache map[string]string

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	streaming    bool
	showThoughts bool
	quitting     bool
	citeFocus    int // 1-based; 0 means none
	status       string
	statusErr    bool

	width  int
	height int
	ready  bool
}

// New creates a chat model.
func New(opts Options) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question..."
	ti.CharLimit = 4096
	ti.Focus()

	vp := viewport.New(80, 20)
	vp.SetContent("")

	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 10,
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = citation.NewResolver("")
	}

	return Model{
		client:    opts.Client,
		store:     opts.Store,
		renderer:  opts.Renderer,
		fixedRend: opts.Renderer != nil,
		themeName: opts.Theme,
		resolver:  resolver,
		parser:    answer.NewParser(answer.WithPlaceholder(render.Placeholder)),
		overrides: opts.Overrides,
		logger:    logger,
		title:     opts.Title,
		theme:     styles.NewTheme(),
		keys:      DefaultKeyMap(),
		conv:      model.NewConversation(),
		buffer:    NewStreamingBufferWithConfig(opts.BatchSize, opts.MaxFPS),
		cache:     make(map[string]string),
		input:     ti,
		viewport:  vp,
		spinner:   sp,
	}
}

// =============================================================================
// BUBBLE TEA INTERFACE
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case streamChunkMsg:
		return m.handleChunk(msg)

	case StreamTickMsg:
		return m.handleTick()

	case streamDoneMsg:
		return m.handleDone(msg)

	case savedMsg:
		if msg.Err != nil {
			m.logger.Warn("failed to save answer", zap.String("turn_id", msg.TurnID), zap.Error(msg.Err))
			m.setError("history: " + msg.Err.Error())
		}
		return m, nil

	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// =============================================================================
// KEYS
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.stopStream()
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Cancel):
		if m.streaming {
			m.stopStream()
			m.setStatus("Answer stopped")
		} else {
			m.input.Reset()
		}
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		value := strings.TrimSpace(m.input.Value())
		if value == "" {
			return m, nil
		}
		if strings.HasPrefix(value, "/") {
			return m.handleCommand(value)
		}
		m.input.Reset()
		return m.ask(value)

	case key.Matches(msg, m.keys.CycleCite):
		m.cycleCitation()
		return m, nil

	case key.Matches(msg, m.keys.ToggleThinks):
		return handleThoughtsCommand(&m, nil)

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil

	case key.Matches(msg, m.keys.Followup) && m.input.Value() == "":
		return m.askFollowup(int(msg.String()[0] - '0'))
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// =============================================================================
// ASKING
// =============================================================================

// ask starts streaming an answer to question.
func (m Model) ask(question string) (tea.Model, tea.Cmd) {
	if m.streaming {
		m.setError("Wait for the current answer or press esc")
		return m, nil
	}
	if m.client == nil {
		m.setError("No backend configured")
		return m, nil
	}

	turn := m.conv.Ask(question)
	req := m.conv.Request(m.overrides)
	req.Stream = true

	m.transcript = NewTranscript(turn, m.parser)
	m.buffer.Reset()
	m.streaming = true
	m.citeFocus = 0
	m.setStatus("")

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.events = startStream(ctx, m.client, req, turn.ID)

	m.logger.Debug("asking", zap.String("turn_id", turn.ID), zap.Int("messages", len(req.Messages)))
	m.updateViewport()

	return m, tea.Batch(waitForEvent(m.events), streamTickCmd(), m.spinner.Tick)
}

// askFollowup asks the n-th (1-based) follow-up question of the last answer.
func (m Model) askFollowup(n int) (tea.Model, tea.Cmd) {
	if m.streaming {
		m.setError("Wait for the current answer or press esc")
		return m, nil
	}
	followups := m.lastParsed().Followups
	if n < 1 || n > len(followups) {
		m.setError(fmt.Sprintf("No follow-up question %d", n))
		return m, nil
	}
	return m.ask(followups[n-1])
}

// =============================================================================
// STREAMING
// =============================================================================

func (m Model) isCurrent(turnID string) bool {
	return m.streaming && m.transcript != nil && m.transcript.Turn().ID == turnID
}

func (m Model) handleChunk(msg streamChunkMsg) (tea.Model, tea.Cmd) {
	if !m.isCurrent(msg.TurnID) {
		return m, nil
	}

	m.transcript.Apply(msg.Chunk)
	if content := msg.Chunk.GetContent(); content != "" {
		if m.buffer.Write(content) {
			m.transcript.Append(m.buffer.Flush())
			m.updateViewport()
		}
	}
	return m, waitForEvent(m.events)
}

func (m Model) handleTick() (tea.Model, tea.Cmd) {
	if !m.streaming {
		return m, nil
	}
	if m.buffer.ShouldFlush() {
		m.transcript.Append(m.buffer.Flush())
		m.updateViewport()
	}
	return m, streamTickCmd()
}

func (m Model) handleDone(msg streamDoneMsg) (tea.Model, tea.Cmd) {
	if !m.isCurrent(msg.TurnID) {
		return m, nil
	}

	parsed := m.finishStream(msg.Err)
	if msg.Err != nil {
		m.logger.Warn("answer failed", zap.String("turn_id", msg.TurnID), zap.Error(msg.Err))
		m.setError(msg.Err.Error())
		return m, nil
	}

	m.setStatus(m.transcript.Turn().FormatStats())
	if m.store == nil {
		return m, nil
	}
	return m, saveTurnCmd(m.store, m.transcript.Turn(), parsed)
}

// finishStream flushes pending text, ends the turn and releases the request.
func (m *Model) finishStream(err error) answer.Parsed {
	m.transcript.Append(m.buffer.ForceFlush())
	parsed := m.transcript.Finish(err)
	m.conv.Finish(m.transcript.Turn())

	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.events = nil
	m.streaming = false
	m.updateViewport()
	return parsed
}

// stopStream cancels the in-flight request, keeping the partial answer.
func (m *Model) stopStream() {
	if !m.streaming {
		return
	}
	m.finishStream(errCanceled)
}

// =============================================================================
// CITATIONS
// =============================================================================

// lastParsed returns the interpretation of the latest answer.
func (m Model) lastParsed() answer.Parsed {
	if m.transcript == nil {
		return answer.Parsed{}
	}
	return m.transcript.Snapshot()
}

// cycleCitation moves the focus to the next citation of the last answer.
func (m *Model) cycleCitation() {
	n := len(m.lastParsed().Citations)
	if n == 0 {
		m.setStatus("No citations")
		return
	}
	m.focusCitation(m.citeFocus%n + 1)
}

// focusCitation focuses the n-th (1-based) citation and shows its path.
func (m *Model) focusCitation(n int) {
	ref, err := m.resolver.Resolve(m.lastParsed(), n)
	if err != nil {
		m.setError(err.Error())
		return
	}
	m.citeFocus = n
	m.setStatus(fmt.Sprintf("[%d] %s  %s", ref.Index, ref.Label, ref.Path))
}

// =============================================================================
// LAYOUT
// =============================================================================

func (m Model) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	m.ready = true

	m.viewport.Width = msg.Width
	m.viewport.Height = max(msg.Height-headerHeight-inputHeight-statusHeight, 1)
	m.input.Width = max(msg.Width-8, 10)

	if !m.fixedRend {
		r, err := render.NewTerminalRenderer(m.themeName, max(msg.Width-4, 20))
		if err != nil {
			m.logger.Warn("falling back to plain output", zap.Error(err))
			m.renderer = render.PlainRenderer{Width: msg.Width - 4}
		} else {
			m.renderer = r
		}
		m.cache = make(map[string]string)
	}

	m.updateViewport()
	return m, nil
}

func (m *Model) setStatus(s string) {
	m.status = s
	m.statusErr = false
}

func (m *Model) setError(s string) {
	m.status = s
	m.statusErr = true
}

// Conversation returns the conversation shown by the model.
func (m Model) Conversation() *model.Conversation {
	return m.conv
}

// Streaming reports whether an answer is arriving.
func (m Model) Streaming() bool {
	return m.streaming
}

// Status returns the current status line text.
func (m Model) Status() string {
	return m.status
}
