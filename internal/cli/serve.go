// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - HTTP answer service command for citechat.
//
// Handles "citechat serve", which runs the local service that web front
// ends call to parse and render answers and to proxy chat streams.
//
// Examples:
//
//	citechat serve
//	citechat serve --port 9000 --host 0.0.0.0
//	citechat serve --no-backend      # parse and render only
//
// The config file is watched while serving; a change to
// server.allowed_origins takes effect without a restart.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/citechat/internal/config"
	"github.com/jeranaias/citechat/internal/server"
)

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 10 * time.Second

// serverOptions builds server options from the config and the command's
// flags.
func serverOptions(env *Env, p *ArgParser) (server.Options, error) {
	sc := env.Config.Server

	opts := server.Options{
		Host:           p.FlagOrDefault("host", sc.Host),
		Port:           sc.Port,
		AuthToken:      sc.AuthToken,
		AllowedOrigins: sc.AllowedOrigins,
		RateLimit:      sc.RateLimit,
		RateBurst:      sc.RateBurst,
		HighlightStyle: env.Config.Render.HighlightStyle,
		Resolver:       env.Resolver(),
		Logger:         env.logger().Named("server"),
		Version:        Version,
	}

	if v := p.Flag("port"); v != "" {
		port, err := ParseIntWithValidation(v, "port")
		if err != nil || port > 65535 {
			return opts, NewValidationErrorWithExample("port", v, "must be between 1 and 65535", "citechat serve --port 8787")
		}
		opts.Port = port
	}

	if !p.BoolFlag("no-backend") {
		opts.Backend = env.backend()
	}
	return opts, nil
}

// HandleServe runs the server until interrupted.
func HandleServe(ctx context.Context, env *Env, args Args) error {
	p := args.Parser("no-backend")
	opts, err := serverOptions(env, p)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(opts)
	logger := env.logger()

	if env.ConfigPath != "" {
		err := config.Watch(ctx, env.ConfigPath, func(cfg *config.Config, err error) {
			if err != nil {
				logger.Warn("config reload failed", zap.Error(err))
				return
			}
			srv.SetAllowedOrigins(cfg.Server.AllowedOrigins)
			config.SetGlobal(cfg)
			logger.Info("config reloaded", zap.Strings("allowed_origins", cfg.Server.AllowedOrigins))
		})
		if err != nil {
			logger.Debug("config watch disabled", zap.String("path", env.ConfigPath), zap.Error(err))
		}
	}

	if !args.JSON {
		fmt.Fprintf(env.Stdout, "%s http://%s\n", RenderConditional(SuccessStyle, "Serving on"), srv.Addr())
		if opts.Backend == nil {
			fmt.Fprintln(env.Stdout, RenderConditional(DimStyle, "Chat proxy disabled (--no-backend)."))
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return WrapError(err, "shutdown failed")
	}
	return <-errCh
}
