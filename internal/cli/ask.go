// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - Single question command handler for citechat.
//
// Handles "citechat ask", which sends one question to the backend and
// prints the interpreted answer: narrative text with numbered citation
// markers, then the citation list and the suggested follow-up questions.
//
// Command: ask [question]
// Aliases: a
//
// Examples:
//
//	citechat ask "What does my plan cover?"
//	citechat ask --no-stream "Compare the two plans"
//	citechat ask --json "Is vision included?" | jq .data.refs
//
// Flags:
//
//	--no-stream   Request the whole answer at once
//	--json        Print text, followups, citations and refs as JSON
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/citechat/internal/answer"
	"github.com/jeranaias/citechat/internal/model"
	"github.com/jeranaias/citechat/internal/render"
)

// HandleAsk handles the "ask" command.
func HandleAsk(ctx context.Context, env *Env, args Args) error {
	p := args.Parser("no-stream")
	question := strings.TrimSpace(JoinPositionalArgs(p, 0))
	if question == "" {
		return ErrMissingArgument("question", `citechat ask "What does my plan cover?"`)
	}

	conv := model.NewConversation()
	turn := conv.Ask(question)
	req := conv.Request(model.DefaultOverrides())

	// JSON output keeps the configured marker style; text output always
	// uses superscripts.
	parser := answer.NewParser(answer.WithPlaceholder(render.Placeholder))
	if args.JSON {
		parser = env.Parser()
	}

	var printer *streamPrinter
	if env.Interactive && !args.JSON && !p.BoolFlag("no-stream") {
		printer = newStreamPrinter(env.Stdout)
	}

	env.logger().Debug("asking", zap.String("backend", env.Config.Backend.URL), zap.Bool("stream", !p.BoolFlag("no-stream")))

	var err error
	if p.BoolFlag("no-stream") {
		var resp model.ChatAppResponse
		resp, err = env.backend().Ask(ctx, req)
		if err == nil {
			turn.SetContext(resp.Context())
			turn.AppendToken(resp.Content())
		}
	} else {
		err = env.backend().Chat(ctx, req, func(chunk model.ChatAppChunk) {
			turn.ApplyChunk(chunk)
			if printer != nil {
				printer.Update(turn.Parse(parser).Text)
			}
		})
	}

	if err != nil {
		turn.Fail(err)
	} else {
		conv.Finish(turn)
	}
	parsed := turn.Parse(parser)

	saved := saveTurn(env, turn, parsed)

	if args.JSON {
		if err != nil {
			return err
		}
		return NewJSONResponse("ask", AskData{
			AnswerData: NewAnswerData(parsed, env.Resolver()),
			ID:         turn.ID,
			Question:   turn.Question,
			Raw:        turn.Answer,
			Thoughts:   turn.Context.Thoughts,
			DurationMs: turn.TotalDuration.Milliseconds(),
			Saved:      saved,
		}).Write(env.Stdout)
	}

	if printer != nil {
		printer.Finish(parsed.Text)
		fmt.Fprint(env.Stdout, render.Footer(parsed, env.Resolver(), wrapWidth(env.Config.Render.WordWrap), ColorsEnabled()))
	} else if !parsed.IsEmpty() {
		fmt.Fprint(env.Stdout, renderAnswer(env, parsed))
	}

	if args.Verbose && turn.HasThoughts() {
		fmt.Fprintf(env.Stderr, "\n%s\n%s\n", RenderConditional(DimStyle, "Thoughts:"), turn.Context.Thoughts)
	}
	if args.Verbose && err == nil {
		fmt.Fprintln(env.Stderr, RenderConditional(DimStyle, turn.FormatStats()))
	}

	if err != nil {
		return WrapError(err, "ask failed")
	}
	return nil
}

// renderAnswer renders a finished answer for the terminal, or as plain text
// when output is piped.
func renderAnswer(env *Env, parsed answer.Parsed) string {
	width := wrapWidth(env.Config.Render.WordWrap)
	if env.Interactive && ColorsEnabled() {
		tr, err := render.NewTerminalRenderer(env.Config.Render.Theme, width)
		if err == nil {
			return tr.Render(parsed, env.Resolver())
		}
		env.logger().Debug("terminal renderer unavailable", zap.Error(err))
	}
	return render.PlainRenderer{Width: width}.Render(parsed, env.Resolver())
}

// saveTurn records the turn in history when history is enabled.
// Failures are logged; they never fail the command.
func saveTurn(env *Env, turn *model.Turn, parsed answer.Parsed) bool {
	store, err := env.OpenStore()
	if err != nil {
		env.logger().Warn("history unavailable", zap.Error(err))
		return false
	}
	if store == nil {
		return false
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Save(ctx, turn, parsed); err != nil {
		env.logger().Warn("failed to save answer", zap.String("id", turn.ID), zap.Error(err))
		return false
	}
	return true
}

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter writes a streaming answer to a terminal without ever taking
// output back. Only the part of the parsed text that can no longer change is
// written: a trailing partial "<<follow-up" and trailing whitespace are held
// back until more text arrives.
type streamPrinter struct {
	w       io.Writer
	printed string
}

func newStreamPrinter(w io.Writer) *streamPrinter {
	return &streamPrinter{w: w}
}

// Update writes whatever stable text was added since the last call.
func (p *streamPrinter) Update(text string) {
	stable := stablePrefix(text)
	if !strings.HasPrefix(stable, p.printed) {
		return
	}
	if delta := stable[len(p.printed):]; delta != "" {
		fmt.Fprint(p.w, delta)
		p.printed = stable
	}
}

// Finish writes the rest of the final text and a newline. If the final
// text diverged from what was shown, it is written again in full.
func (p *streamPrinter) Finish(final string) {
	switch {
	case strings.HasPrefix(final, p.printed):
		fmt.Fprint(p.w, final[len(p.printed):])
	case final != "":
		fmt.Fprint(p.w, "\n\n", final)
	}
	fmt.Fprintln(p.w)
	p.printed = final
}

// stablePrefix drops an unclosed "<<" and everything after it, a lone
// trailing "<", and trailing whitespace.
func stablePrefix(text string) string {
	if i := strings.LastIndex(text, "<<"); i >= 0 && !strings.Contains(text[i:], ">>") {
		text = text[:i]
	}
	text = strings.TrimSuffix(text, "<")
	return strings.TrimRight(text, " \t\r\n")
}
