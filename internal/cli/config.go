// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Configuration command handler for citechat.
//
// Command: config [subcommand]
// Aliases: cfg
//
// Subcommands:
//
//	show (default)   Effective configuration, tokens redacted
//	path             Config file in use
//	init [--force]   Write a default config file
//	get KEY          One value, e.g. "server.port"
//	set KEY VALUE    Change one value in the config file
//	keys             All keys
//
// "show" and "get" report the effective values, environment overrides
// included. "set" edits only the file.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/jeranaias/citechat/internal/config"
)

var configSubcommands = []string{"show", "path", "init", "get", "set", "keys"}

// HandleConfig handles the "config" command.
func HandleConfig(env *Env, args Args) error {
	p := args.Parser("force")

	switch sub := p.Subcommand(); sub {
	case "", "show":
		return handleConfigShow(env, args)
	case "path":
		return handleConfigPath(env, args)
	case "init":
		return handleConfigInit(env, args, p.BoolFlag("force"))
	case "get":
		key := p.Positional(1)
		if key == "" {
			return ErrMissingArgument("key", "citechat config get server.port")
		}
		return handleConfigGet(env, args, key)
	case "set":
		key, value := p.Positional(1), JoinPositionalArgs(p, 2)
		if key == "" || p.PositionalCount() < 3 {
			return ErrMissingArgument("key and value", "citechat config set server.port 9000")
		}
		return handleConfigSet(env, args, key, value)
	case "keys":
		return handleConfigKeys(env, args)
	default:
		return ErrUnknownSubcommand("config", sub, configSubcommands)
	}
}

func handleConfigShow(env *Env, args Args) error {
	safe := env.Config.Redacted()
	if args.JSON {
		return NewJSONResponse("config show", safe).Write(env.Stdout)
	}

	fmt.Fprintln(env.Stdout, RenderConditional(TitleStyle, "citechat configuration"))
	fmt.Fprintf(env.Stdout, "%s%s\n\n", RenderLabel("File"), env.ConfigPath)
	for _, key := range config.GetAllKeys() {
		v, err := safe.Get(key)
		if err != nil {
			return err
		}
		fmt.Fprintf(env.Stdout, "%s%s\n", RenderLabel(key), formatConfigValue(v))
	}
	return nil
}

func handleConfigPath(env *Env, args Args) error {
	_, err := os.Stat(env.ConfigPath)
	exists := err == nil
	if args.JSON {
		return NewJSONResponse("config path", map[string]interface{}{
			"path":   env.ConfigPath,
			"exists": exists,
		}).Write(env.Stdout)
	}
	fmt.Fprintln(env.Stdout, env.ConfigPath)
	if !exists {
		fmt.Fprintln(env.Stderr, RenderConditional(DimStyle, "(file does not exist; defaults are in use)"))
	}
	return nil
}

func handleConfigInit(env *Env, args Args, force bool) error {
	if _, err := os.Stat(env.ConfigPath); err == nil && !force {
		return NewCommandError("config", "init", "file already exists (use --force to overwrite)", nil)
	}
	if err := config.SaveToPath(config.Default(), env.ConfigPath); err != nil {
		return NewCommandError("config", "init", "could not write file", err)
	}
	if args.JSON {
		return NewJSONResponse("config init", map[string]string{"path": env.ConfigPath}).Write(env.Stdout)
	}
	fmt.Fprintf(env.Stdout, "%s %s\n", RenderConditional(SuccessStyle, "Wrote"), env.ConfigPath)
	return nil
}

func handleConfigGet(env *Env, args Args, key string) error {
	v, err := env.Config.Redacted().Get(key)
	if err != nil {
		return NewValidationErrorWithExample("key", key, err.Error(), "citechat config keys")
	}
	if args.JSON {
		return NewJSONResponse("config get", ConfigValueData{Key: key, Value: v}).Write(env.Stdout)
	}
	fmt.Fprintln(env.Stdout, formatConfigValue(v))
	return nil
}

func handleConfigSet(env *Env, args Args, key, value string) error {
	cfg, err := config.LoadFile(env.ConfigPath)
	if err != nil {
		return err
	}
	if err := cfg.Set(key, value); err != nil {
		return NewValidationErrorWithExample("key", key, err.Error(), "citechat config keys")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := config.SaveToPath(cfg, env.ConfigPath); err != nil {
		return NewCommandError("config", "set", "could not write file", err)
	}

	if args.JSON {
		v, _ := cfg.Redacted().Get(key)
		return NewJSONResponse("config set", ConfigValueData{Key: key, Value: v}).Write(env.Stdout)
	}
	fmt.Fprintf(env.Stdout, "%s %s\n", RenderConditional(SuccessStyle, "Set"), key)
	return nil
}

func handleConfigKeys(env *Env, args Args) error {
	keys := config.GetAllKeys()
	if args.JSON {
		return NewJSONResponse("config keys", keys).Write(env.Stdout)
	}
	fmt.Fprintln(env.Stdout, strings.Join(keys, "\n"))
	return nil
}

func formatConfigValue(v interface{}) string {
	switch val := v.(type) {
	case []string:
		return strings.Join(val, ",")
	case string:
		if val == "" {
			return `""`
		}
		return val
	default:
		return fmt.Sprint(val)
	}
}
