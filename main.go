// citechat - answers with numbered citations from a retrieval chat backend.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/citechat/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run dispatches one command and returns the process exit code.
func run(argv []string) int {
	cmd, args := cli.Parse(argv)

	// Commands that need no configuration.
	switch cmd {
	case cli.CmdVersion:
		return finish(args, cli.HandleVersion(args, os.Stdout))
	case cli.CmdHelp:
		return finish(args, cli.HandleHelp(os.Stdout))
	case cli.CmdUnknown:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", args.Name)
		cli.PrintUsage(os.Stderr)
		return cli.ExitUsageError
	}

	env, err := cli.NewEnv(args)
	if err != nil {
		return finish(args, err)
	}
	defer env.Logger.Sync()

	// SIGTERM ends the command. Ctrl+C is handled per command so that chat
	// can stop one answer without leaving.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	switch cmd {
	case cli.CmdTUI:
		err = cli.HandleTUI(ctx, env, args)
	case cli.CmdAsk:
		askCtx, cancel := signal.NotifyContext(ctx, os.Interrupt)
		err = cli.HandleAsk(askCtx, env, args)
		cancel()
	case cli.CmdChat:
		err = cli.HandleChat(ctx, env, args)
	case cli.CmdParse:
		err = cli.HandleParse(env, args)
	case cli.CmdServe:
		err = cli.HandleServe(ctx, env, args)
	case cli.CmdHistory:
		err = cli.HandleHistory(ctx, env, args)
	case cli.CmdConfig:
		err = cli.HandleConfig(env, args)
	}
	return finish(args, err)
}

// finish reports err the way the output mode expects and maps it to an
// exit code.
func finish(args cli.Args, err error) int {
	if err == nil {
		return cli.ExitSuccess
	}
	if args.JSON {
		cli.DisplayError(os.Stdout, err, true)
	} else {
		cli.DisplayError(os.Stderr, err, false)
	}
	return cli.GetExitCode(err)
}
