// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and the command handlers for
// citechat.
//
// Every handler takes an *Env, which carries the loaded configuration,
// logger, output streams and backend. Tests build an Env by hand with a fake
// backend; main builds one with NewEnv.
//
// # Key Types
//
//   - Command: Enumeration of the available commands
//   - Args: Global flags plus the raw command arguments
//   - Env: Configuration, logger, streams and backend for a handler
//   - JSONResponse: Envelope for --json output
//
// # Usage
//
//	cmd, args := cli.Parse(os.Args[1:])
//	env, err := cli.NewEnv(args)
//	if err != nil { ... }
//	err = cli.HandleAsk(ctx, env, args)
//	os.Exit(cli.GetExitCode(err))
//
// # Commands Overview
//
//   - (none): Full-screen chat
//   - ask: Single question, answer with numbered citations
//   - chat: Line-based interactive chat
//   - parse: Interpret a raw answer from stdin or a file
//   - serve: HTTP front end with /api/parse and /api/chat
//   - history: Saved answers
//   - config: Configuration management
//
// All commands support --json for scripting.
package cli
