// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and the help and version commands for citechat.
package cli

import (
	"fmt"
	"io"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdTUI Command = iota
	CmdAsk
	CmdChat
	CmdParse
	CmdServe
	CmdHistory
	CmdConfig
	CmdVersion
	CmdHelp
	CmdUnknown
)

// String returns the command name as typed.
func (c Command) String() string {
	switch c {
	case CmdTUI:
		return "tui"
	case CmdAsk:
		return "ask"
	case CmdChat:
		return "chat"
	case CmdParse:
		return "parse"
	case CmdServe:
		return "serve"
	case CmdHistory:
		return "history"
	case CmdConfig:
		return "config"
	case CmdVersion:
		return "version"
	case CmdHelp:
		return "help"
	default:
		return "unknown"
	}
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	JSON       bool   // Output in JSON format
	Quiet      bool   // Only errors are logged
	Verbose    bool   // Debug logging
	ConfigPath string // Explicit config file, bypassing the search
	Backend    string // Overrides backend.url

	// Name is the command word as typed, kept for error messages.
	Name string

	// Raw args (remaining after the command word and global flags)
	Raw []string
}

// Parser returns an ArgParser over the command's own arguments.
func (a Args) Parser(boolNames ...string) *ArgParser {
	return NewArgParser(a.Raw, boolNames...)
}

const usageText = `citechat - answers with citations from your chat backend

citechat talks to a retrieval-augmented chat backend and turns its answers
into readable text: inline [source] markers become numbered citations and
<<follow-up questions>> become a pick list.

Usage:
  citechat                       Start the TUI (default)
  citechat ask "question"        Ask one question and print the answer
  citechat chat                  Line-based interactive chat
  citechat parse                 Interpret an answer read from stdin
  citechat serve                 Run the HTTP answer service
  citechat history [subcommand]  Saved answers
  citechat config [subcommand]   Configuration
  citechat version               Show version information
  citechat help                  Show this help

Ask:
  citechat ask "What does my plan cover?"
    --no-stream                  Wait for the whole answer
    --json                       Print the interpreted answer as JSON

Chat (commands inside the prompt):
  /followup N, /f N              Ask follow-up question N
  /cite N, /c N                  Show citation N and its path
  /sources                       List citations of the last answer
  /clear                         Start a new conversation
  /help                          Show chat commands
  /quit                          Leave

Parse:
  echo 'Plans differ [a.pdf]. <<More?>>' | citechat parse
    --streaming                  Treat the text as an unfinished stream
    --placeholder html|superscript
                                 Citation marker style (default from config)
    --file PATH                  Read from PATH instead of stdin
    --json                       Print text, followups and citations as JSON

Serve:
  citechat serve [--host H] [--port N] [--no-backend]
    Endpoints: POST /api/parse, POST /api/render, POST /api/chat,
    GET /api/chat/ws, GET /api/styles.css, GET /health, GET /stats,
    GET /metrics

History:
  citechat history list [--limit N] [--search TEXT]
  citechat history show <N|id> [--markdown]
  citechat history delete <N|id>
  citechat history clear --confirm

Config:
  citechat config show           Show effective configuration (tokens redacted)
  citechat config path           Show the config file path
  citechat config init [--force] Write a default config file
  citechat config get KEY        Show one value, e.g. server.port
  citechat config set KEY VALUE  Change one value in the config file
  citechat config keys           List all keys

Global Flags:
  --json                         JSON output where supported
  -q, --quiet                    Only log errors
  -v, --verbose                  Debug logging
  --config PATH                  Use a specific config file
  --backend URL                  Override backend.url

Environment:
  CITECHAT_HOME                  Config directory (default ~/.citechat)
  CITECHAT_BACKEND_URL           Backend base URL
  CITECHAT_ID_TOKEN              Bearer token sent to the backend
  CITECHAT_AUTH_TOKEN            Bearer token required by "serve"
  CITECHAT_LOG_LEVEL             debug, info, warn or error
  CITECHAT_THEME                 auto, dark, light or notty
  CITECHAT_PORT                  Port for "serve"

Version: %s
`

// PrintUsage writes the usage/help text.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// Parse parses command-line arguments (without the program name) and
// returns the command and args.
func Parse(argv []string) (Command, Args) {
	remaining, parsedArgs := parseGlobalFlags(argv)

	if len(remaining) == 0 {
		return CmdTUI, parsedArgs
	}

	parsedArgs.Name = remaining[0]
	parsedArgs.Raw = remaining[1:]

	switch strings.ToLower(remaining[0]) {
	case "tui":
		return CmdTUI, parsedArgs
	case "ask", "a":
		return CmdAsk, parsedArgs
	case "chat":
		return CmdChat, parsedArgs
	case "parse":
		return CmdParse, parsedArgs
	case "serve", "server":
		return CmdServe, parsedArgs
	case "history", "hist":
		return CmdHistory, parsedArgs
	case "config", "cfg":
		return CmdConfig, parsedArgs
	case "version", "--version", "-V":
		return CmdVersion, parsedArgs
	case "help", "--help", "-h":
		return CmdHelp, parsedArgs
	default:
		return CmdUnknown, parsedArgs
	}
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
// Everything after "--" is passed through untouched.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	var parsedArgs Args

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch {
		case arg == "--":
			return append(remaining, args[i:]...), parsedArgs
		case arg == "--json":
			parsedArgs.JSON = true
		case arg == "-q" || arg == "--quiet":
			parsedArgs.Quiet = true
		case arg == "-v" || arg == "--verbose":
			parsedArgs.Verbose = true
		case arg == "--config" || arg == "--backend":
			if i+1 < len(args) {
				i++
				if arg == "--config" {
					parsedArgs.ConfigPath = args[i]
				} else {
					parsedArgs.Backend = args[i]
				}
			}
		case strings.HasPrefix(arg, "--config="):
			parsedArgs.ConfigPath = strings.TrimPrefix(arg, "--config=")
		case strings.HasPrefix(arg, "--backend="):
			parsedArgs.Backend = strings.TrimPrefix(arg, "--backend=")
		default:
			remaining = append(remaining, arg)
		}
	}

	return remaining, parsedArgs
}

// =============================================================================
// VERSION AND HELP
// =============================================================================

// VersionInfo is the JSON form of "citechat version".
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// HandleVersion prints version information.
func HandleVersion(args Args, w io.Writer) error {
	info := VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if args.JSON {
		return NewJSONResponse("version", info).Write(w)
	}

	fmt.Fprintf(w, "citechat version %s\n", info.Version)
	fmt.Fprintf(w, "  Git commit: %s\n", info.GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", info.BuildDate)
	fmt.Fprintf(w, "  Go:         %s (%s)\n", info.GoVersion, info.Platform)
	return nil
}

// HandleHelp prints the usage text.
func HandleHelp(w io.Writer) error {
	PrintUsage(w)
	return nil
}
