// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Line-based interactive chat for citechat.
//
// Handles "citechat chat": a prompt loop that keeps the conversation going
// with the backend, streams each answer, and lets the user pick follow-up
// questions and inspect citations by number.
//
// Command: chat
//
// In-chat commands:
//
//	/followup N, /f N   Ask follow-up question N of the last answer
//	/cite N, /c N       Show citation N of the last answer
//	/sources            List the citations of the last answer
//	/thoughts           Show how the backend arrived at the last answer
//	/clear              Start a new conversation
//	/help               Show commands
//	/quit, /exit        Leave
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/jeranaias/citechat/internal/answer"
	"github.com/jeranaias/citechat/internal/config"
	"github.com/jeranaias/citechat/internal/model"
	"github.com/jeranaias/citechat/internal/render"
	"github.com/jeranaias/citechat/internal/ui/chat"
)

// =============================================================================
// LINE EDITING
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI whose history lives next to the config.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists command history to file (0600).
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// SESSION STATE
// =============================================================================

// ChatSession holds the state of one interactive chat.
type ChatSession struct {
	env       *Env
	store     chat.HistoryStore
	conv      *model.Conversation
	parser    *answer.Parser
	overrides model.RequestOverrides

	// Last successful turn and its parse, for /followup, /cite and /sources.
	lastTurn *model.Turn
	last     answer.Parsed

	StartTime time.Time
	Answered  int
}

// NewChatSession creates a session. store may be nil.
func NewChatSession(env *Env, store chat.HistoryStore) *ChatSession {
	return &ChatSession{
		env:       env,
		store:     store,
		conv:      model.NewConversation(),
		parser:    answer.NewParser(answer.WithPlaceholder(render.Placeholder)),
		overrides: model.DefaultOverrides(),
		StartTime: time.Now(),
	}
}

// Last returns the parse of the last answer.
func (s *ChatSession) Last() answer.Parsed {
	return s.last
}

// Conversation returns the session's conversation.
func (s *ChatSession) Conversation() *model.Conversation {
	return s.conv
}

// HandleLine processes one line of input. quit is true when the user asked
// to leave. Errors are for display; the session stays usable.
func (s *ChatSession) HandleLine(ctx context.Context, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if strings.HasPrefix(line, "/") {
		return s.handleSlashCommand(ctx, line)
	}
	return false, s.ask(ctx, line)
}

func (s *ChatSession) ask(ctx context.Context, question string) error {
	out := s.env.Stdout
	turn := s.conv.Ask(question)
	req := s.conv.Request(s.overrides)

	var printer *streamPrinter
	if s.env.Interactive {
		printer = newStreamPrinter(out)
		fmt.Fprintln(out)
	}

	err := s.env.backend().Chat(ctx, req, func(chunk model.ChatAppChunk) {
		turn.ApplyChunk(chunk)
		if printer != nil {
			printer.Update(turn.Parse(s.parser).Text)
		}
	})
	if err != nil {
		turn.Fail(err)
		if printer != nil && printer.printed != "" {
			fmt.Fprintln(out)
		}
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(out, RenderConditional(DimStyle, "(stopped)"))
			return nil
		}
		return WrapError(err, "ask failed")
	}

	s.conv.Finish(turn)
	parsed := turn.Parse(s.parser)
	s.lastTurn, s.last = turn, parsed
	s.Answered++
	s.save(turn, parsed)

	width := wrapWidth(s.env.Config.Render.WordWrap)
	if printer != nil {
		printer.Finish(parsed.Text)
		fmt.Fprint(out, render.Footer(parsed, s.env.Resolver(), width, ColorsEnabled()))
		if stats := turn.FormatStats(); stats != "" {
			fmt.Fprintln(out, RenderConditional(DimStyle, stats))
		}
	} else {
		fmt.Fprint(out, render.PlainRenderer{Width: width}.Render(parsed, s.env.Resolver()))
	}
	return nil
}

func (s *ChatSession) save(turn *model.Turn, parsed answer.Parsed) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Save(ctx, turn, parsed); err != nil {
		s.env.logger().Warn("failed to save answer", zap.String("id", turn.ID), zap.Error(err))
	}
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

func (s *ChatSession) handleSlashCommand(ctx context.Context, line string) (bool, error) {
	fields := strings.Fields(line)
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	out := s.env.Stdout

	switch cmd {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/help", "/h", "/?":
		printChatHelp(out)

	case "/clear":
		s.conv.Clear()
		s.lastTurn, s.last = nil, answer.Parsed{}
		fmt.Fprintln(out, RenderConditional(DimStyle, "Started a new conversation."))

	case "/followup", "/f":
		n, err := slashIndex(cmd, args)
		if err != nil {
			return false, err
		}
		if n > len(s.last.Followups) {
			return false, NewNotFoundError("follow-up question", strconv.Itoa(n))
		}
		q := s.last.Followups[n-1]
		fmt.Fprintf(out, "%s %s\n", RenderConditional(PromptStyle, ">"), q)
		return false, s.ask(ctx, q)

	case "/cite", "/c":
		n, err := slashIndex(cmd, args)
		if err != nil {
			return false, err
		}
		ref, err := s.env.Resolver().Resolve(s.last, n)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "[%d] %s\n    %s\n", ref.Index, ref.Label, ref.Path)

	case "/sources":
		if len(s.last.Citations) == 0 {
			fmt.Fprintln(out, "No citations in the last answer.")
			return false, nil
		}
		fmt.Fprint(out, render.Footer(answer.Parsed{Citations: s.last.Citations}, s.env.Resolver(), wrapWidth(s.env.Config.Render.WordWrap), ColorsEnabled()))

	case "/thoughts":
		if s.lastTurn == nil || !s.lastTurn.HasThoughts() {
			fmt.Fprintln(out, "No thoughts for the last answer.")
			return false, nil
		}
		fmt.Fprintln(out, s.lastTurn.Context.Thoughts)

	default:
		return false, NewValidationErrorWithExample("command", cmd, "unknown chat command", "/help")
	}
	return false, nil
}

// slashIndex parses the 1-based number argument of /followup and /cite.
func slashIndex(cmd string, args []string) (int, error) {
	if len(args) == 0 {
		return 0, ErrMissingArgument("number", cmd+" 1")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, NewValidationErrorWithExample("number", args[0], "must be a positive number", cmd+" 1")
	}
	return n, nil
}

func printChatHelp(w io.Writer) {
	fmt.Fprintln(w, RenderConditional(TitleStyle, "Chat commands"))
	fmt.Fprintln(w, "  /followup N, /f N   Ask follow-up question N")
	fmt.Fprintln(w, "  /cite N, /c N       Show citation N and its path")
	fmt.Fprintln(w, "  /sources            List citations of the last answer")
	fmt.Fprintln(w, "  /thoughts           Show the backend's reasoning")
	fmt.Fprintln(w, "  /clear              Start a new conversation")
	fmt.Fprintln(w, "  /quit               Leave")
	fmt.Fprintln(w, RenderConditional(DimStyle, "  Ctrl+C stops an answer; Ctrl+D leaves."))
}

func printWelcome(w io.Writer, env *Env) {
	fmt.Fprintln(w, RenderConditional(TitleStyle, "citechat "+Version))
	fmt.Fprintf(w, "%s%s\n", RenderLabel("Backend"), env.Config.Backend.URL)
	fmt.Fprintln(w, RenderConditional(DimStyle, "Type a question, or /help for commands."))
	fmt.Fprintln(w)
}

// =============================================================================
// COMMAND HANDLER
// =============================================================================

// HandleChat runs the interactive chat loop until the user quits or input
// ends.
func HandleChat(ctx context.Context, env *Env, args Args) error {
	if err := RequiresTTY("chat"); err != nil {
		return err
	}

	store, err := env.OpenStore()
	if err != nil {
		env.logger().Warn("history unavailable", zap.Error(err))
	}
	var hs chat.HistoryStore
	if store != nil {
		defer store.Close()
		hs = store
	}

	session := NewChatSession(env, hs)
	input := NewChatCLI()
	defer input.Close()

	printWelcome(env.Stdout, env)

	for {
		line, err := input.ReadInput("> ")
		if errors.Is(err, liner.ErrPromptAborted) {
			fmt.Fprintln(env.Stdout, RenderConditional(DimStyle, "(Ctrl+D or /quit to leave)"))
			continue
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return WrapError(err, "failed to read input")
		}

		reqCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		quit, err := session.HandleLine(reqCtx, line)
		stop()
		if err != nil {
			DisplayError(env.Stderr, err, false)
		}
		if quit || ctx.Err() != nil {
			break
		}
	}

	fmt.Fprintf(env.Stdout, "%s\n", RenderConditional(DimStyle,
		fmt.Sprintf("%s in %s", plural(session.Answered, "answer"), formatDurationShort(time.Since(session.StartTime)))))
	return nil
}
