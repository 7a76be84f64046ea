// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// tui.go - Full-screen chat, the default command.
package cli

import (
	"context"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/jeranaias/citechat/internal/config"
	"github.com/jeranaias/citechat/internal/logging"
	"github.com/jeranaias/citechat/internal/model"
	"github.com/jeranaias/citechat/internal/ui/chat"
)

// tuiLogFile is where the TUI logs, since stderr belongs to the screen.
const tuiLogFile = "citechat.log"

// HandleTUI runs the bubbletea chat screen until the user quits.
func HandleTUI(ctx context.Context, env *Env, args Args) error {
	if err := RequiresTTY("run the TUI"); err != nil {
		return WrapError(err, "use \"citechat ask\" or \"citechat parse\" from scripts")
	}

	logger := zap.NewNop()
	if dir, err := config.ConfigDir(); err == nil {
		if l, err := logging.NewFile(env.Config.Log, filepath.Join(dir, tuiLogFile)); err == nil {
			logger = l
			defer logger.Sync()
		}
	}
	env.Logger = logger

	opts := chat.Options{
		Client:    env.backend(),
		Theme:     env.Config.Render.Theme,
		Resolver:  env.Resolver(),
		Overrides: model.DefaultOverrides(),
		Logger:    logger.Named("tui"),
		Title:     env.Config.Backend.URL,
	}

	store, err := env.OpenStore()
	if err != nil {
		logger.Warn("history unavailable", zap.Error(err))
	}
	if store != nil {
		defer store.Close()
		opts.Store = store
	}

	p := tea.NewProgram(chat.New(opts), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return WrapError(err, "TUI failed")
	}
	return nil
}
