// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// This test file covers argument parsing, command dispatch, exit codes and
// the streaming printer.
package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jeranaias/citechat/internal/api"
	"github.com/jeranaias/citechat/internal/citation"
	"github.com/jeranaias/citechat/internal/config"
	"github.com/jeranaias/citechat/internal/storage"
)

// =============================================================================
// ARG PARSER TESTS (args.go)
// =============================================================================

func TestArgParser_BasicParsing(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		bools    []string
		wantSub  string
		validate func(*testing.T, *ArgParser)
	}{
		{
			name:    "simple subcommand",
			args:    []string{"show"},
			wantSub: "show",
		},
		{
			name:    "subcommand with flag",
			args:    []string{"list", "--limit", "50"},
			wantSub: "list",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("limit") != "50" {
					t.Errorf("Flag(limit) = %q, want %q", p.Flag("limit"), "50")
				}
			},
		},
		{
			name:    "flag with equals",
			args:    []string{"list", "--search=dental plan"},
			wantSub: "list",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("search") != "dental plan" {
					t.Errorf("Flag(search) = %q, want %q", p.Flag("search"), "dental plan")
				}
			},
		},
		{
			name:    "boolean flag",
			args:    []string{"clear", "--confirm"},
			wantSub: "clear",
			validate: func(t *testing.T, p *ArgParser) {
				if !p.BoolFlag("confirm") {
					t.Error("BoolFlag(confirm) should be true")
				}
			},
		},
		{
			name:    "multiple positional args",
			args:    []string{"search", "vision", "in", "plus"},
			wantSub: "search",
			validate: func(t *testing.T, p *ArgParser) {
				if p.PositionalCount() != 4 {
					t.Errorf("PositionalCount() = %d, want 4", p.PositionalCount())
				}
				if got := JoinPositionalArgs(p, 1); got != "vision in plus" {
					t.Errorf("JoinPositionalArgs(1) = %q, want %q", got, "vision in plus")
				}
			},
		},
		{
			name:    "bool name never takes a value",
			args:    []string{"--no-stream", "What", "is", "covered?"},
			bools:   []string{"no-stream"},
			wantSub: "What",
			validate: func(t *testing.T, p *ArgParser) {
				if !p.BoolFlag("no-stream") {
					t.Error("BoolFlag(no-stream) should be true")
				}
				if got := JoinPositionalArgs(p, 0); got != "What is covered?" {
					t.Errorf("question = %q", got)
				}
			},
		},
		{
			name:    "double dash ends flags",
			args:    []string{"--", "--not-a-flag", "x"},
			wantSub: "--not-a-flag",
			validate: func(t *testing.T, p *ArgParser) {
				if p.BoolFlag("not-a-flag") {
					t.Error("argument after -- parsed as flag")
				}
				if p.Positional(1) != "x" {
					t.Errorf("Positional(1) = %q, want x", p.Positional(1))
				}
			},
		},
		{
			name:    "negative number is positional",
			args:    []string{"set", "render.word_wrap", "-1"},
			wantSub: "set",
			validate: func(t *testing.T, p *ArgParser) {
				if p.Positional(2) != "-1" {
					t.Errorf("Positional(2) = %q, want -1", p.Positional(2))
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parser := NewArgParser(tt.args, tt.bools...)
			if parser.Subcommand() != tt.wantSub {
				t.Errorf("Subcommand() = %q, want %q", parser.Subcommand(), tt.wantSub)
			}
			if tt.validate != nil {
				tt.validate(t, parser)
			}
		})
	}
}

func TestArgParser_BoolFlagTakesNoValue(t *testing.T) {
	parser := NewArgParser([]string{"list", "--limit", "50", "--markdown"}, "markdown")

	if got := parser.FlagOrDefault("limit", "20"); got != "50" {
		t.Errorf("FlagOrDefault(limit) = %q, want 50", got)
	}
	if got := parser.FlagOrDefault("search", "none"); got != "none" {
		t.Errorf("FlagOrDefault(search) = %q, want default", got)
	}
	if parser.Flag("markdown") != "" || !parser.BoolFlag("markdown") {
		t.Error("markdown should be a bool flag")
	}
}

func TestParseIntWithValidation(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"valid positive", "42", 42, false},
		{"valid one", "1", 1, false},
		{"zero is invalid", "0", 0, true},
		{"negative is invalid", "-5", 0, true},
		{"empty is invalid", "", 0, true},
		{"non-numeric is invalid", "abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIntWithValidation(tt.input, "limit")
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseIntWithValidation(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseIntWithValidation(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestArgParser_EmptyArgs(t *testing.T) {
	parser := NewArgParser([]string{})
	if parser.Subcommand() != "" {
		t.Errorf("Subcommand() = %q, want empty", parser.Subcommand())
	}
	if parser.PositionalCount() != 0 {
		t.Errorf("PositionalCount() = %d, want 0", parser.PositionalCount())
	}
}

func TestArgParser_FlagOrDefault(t *testing.T) {
	parser := NewArgParser([]string{"serve", "--host", "0.0.0.0"})

	if parser.FlagOrDefault("host", "127.0.0.1") != "0.0.0.0" {
		t.Error("FlagOrDefault should return actual value when present")
	}
	if parser.FlagOrDefault("port", "8787") != "8787" {
		t.Error("FlagOrDefault should return default when missing")
	}
}

// =============================================================================
// COMMAND PARSING TESTS (cli.go)
// =============================================================================

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		argv        []string
		wantCommand Command
		validate    func(*testing.T, Args)
	}{
		{
			name:        "no args starts the TUI",
			argv:        nil,
			wantCommand: CmdTUI,
		},
		{
			name:        "ask with question",
			argv:        []string{"ask", "What is covered?"},
			wantCommand: CmdAsk,
			validate: func(t *testing.T, a Args) {
				if len(a.Raw) != 1 || a.Raw[0] != "What is covered?" {
					t.Errorf("Raw = %v", a.Raw)
				}
			},
		},
		{
			name:        "global flags anywhere",
			argv:        []string{"-v", "ask", "--json", "Question", "--backend", "http://b:1"},
			wantCommand: CmdAsk,
			validate: func(t *testing.T, a Args) {
				if !a.Verbose || !a.JSON {
					t.Errorf("Verbose = %v, JSON = %v", a.Verbose, a.JSON)
				}
				if a.Backend != "http://b:1" {
					t.Errorf("Backend = %q", a.Backend)
				}
				if len(a.Raw) != 1 || a.Raw[0] != "Question" {
					t.Errorf("Raw = %v", a.Raw)
				}
			},
		},
		{
			name:        "config flag with equals",
			argv:        []string{"--config=/tmp/c.yaml", "config", "show"},
			wantCommand: CmdConfig,
			validate: func(t *testing.T, a Args) {
				if a.ConfigPath != "/tmp/c.yaml" {
					t.Errorf("ConfigPath = %q", a.ConfigPath)
				}
				if len(a.Raw) != 1 || a.Raw[0] != "show" {
					t.Errorf("Raw = %v", a.Raw)
				}
			},
		},
		{
			name:        "double dash keeps flags for the command",
			argv:        []string{"parse", "--", "--json"},
			wantCommand: CmdParse,
			validate: func(t *testing.T, a Args) {
				if a.JSON {
					t.Error("--json after -- must not be global")
				}
			},
		},
		{name: "chat", argv: []string{"chat"}, wantCommand: CmdChat},
		{name: "serve alias", argv: []string{"server"}, wantCommand: CmdServe},
		{name: "history alias", argv: []string{"hist", "list"}, wantCommand: CmdHistory},
		{name: "version flag", argv: []string{"--version"}, wantCommand: CmdVersion},
		{name: "help flag", argv: []string{"-h"}, wantCommand: CmdHelp},
		{
			name:        "unknown command",
			argv:        []string{"frobnicate"},
			wantCommand: CmdUnknown,
			validate: func(t *testing.T, a Args) {
				if a.Name != "frobnicate" {
					t.Errorf("Name = %q", a.Name)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, args := Parse(tt.argv)
			if cmd != tt.wantCommand {
				t.Errorf("Command = %v, want %v", cmd, tt.wantCommand)
			}
			if tt.validate != nil {
				tt.validate(t, args)
			}
		})
	}
}

func TestHandleVersion(t *testing.T) {
	var buf bytes.Buffer
	if err := HandleVersion(Args{}, &buf); err != nil {
		t.Fatalf("HandleVersion() error = %v", err)
	}
	if !strings.Contains(buf.String(), "citechat version "+Version) {
		t.Errorf("output = %q", buf.String())
	}

	buf.Reset()
	if err := HandleVersion(Args{JSON: true}, &buf); err != nil {
		t.Fatalf("HandleVersion(json) error = %v", err)
	}
	if !strings.Contains(buf.String(), `"success": true`) || !strings.Contains(buf.String(), `"command": "version"`) {
		t.Errorf("json output = %q", buf.String())
	}
}

// =============================================================================
// EXIT CODE TESTS (errors.go)
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"validation", NewValidationError("limit", "x", "bad"), ExitUsageError},
		{"missing argument", ErrMissingArgument("question", "citechat ask ..."), ExitUsageError},
		{"not found", NewNotFoundError("answer", "9"), ExitNotFoundError},
		{"storage not found", fmt.Errorf("answer 9: %w", storage.ErrNotFound), ExitNotFoundError},
		{"no such citation", fmt.Errorf("%w: 9", citation.ErrNoSuchCitation), ExitNotFoundError},
		{"config validation", fmt.Errorf("invalid config: %w", config.ValidateErrors{{Field: "render.theme", Message: "bad"}}), ExitConfigError},
		{"unauthorized", &api.APIError{Status: 401, Message: "no"}, ExitAuthError},
		{"deadline", fmt.Errorf("ask failed: %w", context.DeadlineExceeded), ExitTimeoutError},
		{"connection refused", errors.New("dial tcp 127.0.0.1:50505: connect: connection refused"), ExitNetworkError},
		{"other", errors.New("boom"), ExitGeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetExitCode(tt.err); got != tt.want {
				t.Errorf("GetExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestDisplayErrorJSON(t *testing.T) {
	var buf bytes.Buffer
	DisplayError(&buf, NewValidationErrorWithExample("limit", "x", "not a number", "--limit 5"), true)

	out := buf.String()
	for _, want := range []string{`"error_type": "validation_error"`, `"field": "limit"`, `"exit_code": 2`, `"success": false`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %s", want, out)
		}
	}
}

// =============================================================================
// STREAM PRINTER TESTS (ask.go)
// =============================================================================

func TestStablePrefix(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Plans differ", "Plans differ"},
		{"trailing space held", "Plans differ ", "Plans differ"},
		{"unclosed followup held", "Done. <<What is", "Done."},
		{"closed followup kept", "Done. <<A>> more", "Done. <<A>> more"},
		{"single angle held", "a <", "a"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stablePrefix(tt.in); got != tt.want {
				t.Errorf("stablePrefix(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStreamPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := newStreamPrinter(&buf)

	// Successive parses of a growing answer.
	p.Update("Plans")
	p.Update("Plans differ")
	p.Update("Plans differ⁽¹⁾.")
	p.Update("Plans differ⁽¹⁾. <<Wh")
	p.Finish("Plans differ⁽¹⁾.")

	if got, want := buf.String(), "Plans differ⁽¹⁾.\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestStreamPrinter_DivergedText(t *testing.T) {
	var buf bytes.Buffer
	p := newStreamPrinter(&buf)

	p.Update("Alpha beta")
	p.Update("Alpha") // shorter: nothing is taken back
	p.Finish("Gamma")

	if got, want := buf.String(), "Alpha beta\n\nGamma\n"; got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}
