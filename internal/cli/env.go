// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// env.go - Shared command environment: config, logger, I/O and backend.
package cli

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/citechat/internal/answer"
	"github.com/jeranaias/citechat/internal/api"
	"github.com/jeranaias/citechat/internal/citation"
	"github.com/jeranaias/citechat/internal/config"
	"github.com/jeranaias/citechat/internal/logging"
	"github.com/jeranaias/citechat/internal/model"
	"github.com/jeranaias/citechat/internal/storage"
)

// Backend is the part of *api.Client the commands use.
type Backend interface {
	Chat(ctx context.Context, req model.ChatAppRequest, callback api.StreamCallback) error
	Ask(ctx context.Context, req model.ChatAppRequest) (model.ChatAppResponse, error)
}

// Env carries everything a command handler needs. Tests build one
// directly with a fake Backend and buffers for I/O.
type Env struct {
	Config *config.Config
	Logger *zap.Logger

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Backend is created from Config on first use when nil.
	Backend Backend

	// Interactive enables streaming output and colors. Set from the
	// terminal state by NewEnv.
	Interactive bool

	// ConfigPath is the file "config set" and "serve" watch and write.
	ConfigPath string
}

// NewEnv loads configuration, applies the global flags and builds the
// logger. The result is installed as the global config.
func NewEnv(args Args) (*Env, error) {
	var cfg *config.Config
	var loadErr error
	path := args.ConfigPath

	if path != "" {
		c, err := config.LoadFromPath(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		c, err := config.Load()
		if c == nil {
			return nil, err
		}
		cfg, loadErr = c, err
		if path, err = config.ActivePath(); err != nil {
			return nil, err
		}
	}

	if args.Backend != "" {
		cfg.Backend.URL = strings.TrimSpace(args.Backend)
	}
	switch {
	case args.Verbose:
		cfg.Log.Level = "debug"
	case args.Quiet:
		cfg.Log.Level = "error"
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, WrapError(err, "config log section")
	}
	if loadErr != nil {
		logger.Warn("config file ignored, using defaults", zap.Error(loadErr))
	}
	config.SetGlobal(cfg)

	return &Env{
		Config:      cfg,
		Logger:      logger,
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		Interactive: IsStdoutTTY(),
		ConfigPath:  path,
	}, nil
}

// NewClient builds a backend client from the config.
func (e *Env) NewClient() *api.Client {
	b := e.Config.Backend
	opts := []api.Option{
		api.WithLogger(e.logger().Named("api")),
		api.WithMaxRetries(b.MaxRetries),
		api.WithRateLimit(b.RateLimit, 1),
	}
	if b.IDToken != "" {
		opts = append(opts, api.WithIDToken(b.IDToken))
	}
	if b.TimeoutSecs > 0 {
		opts = append(opts, api.WithTimeout(time.Duration(b.TimeoutSecs)*time.Second))
	}
	return api.NewClient(b.URL, opts...)
}

// backend returns the configured Backend, creating the client lazily.
func (e *Env) backend() Backend {
	if e.Backend == nil {
		e.Backend = e.NewClient()
	}
	return e.Backend
}

// Resolver turns citation labels into backend content paths.
func (e *Env) Resolver() *citation.Resolver {
	base := e.Config.Backend.URL
	if base == "" {
		base = api.DefaultBaseURL
	}
	return citation.NewResolver(base)
}

// Parser returns an answer parser with the configured placeholder style.
func (e *Env) Parser() *answer.Parser {
	return e.parserFor(e.Config.Answer.Placeholder)
}

func (e *Env) parserFor(placeholder string) *answer.Parser {
	return answer.NewParser(answer.WithPlaceholder(answer.PlaceholderByName(placeholder)))
}

// OpenStore opens the answer history. It returns nil, nil when history is
// disabled.
func (e *Env) OpenStore() (*storage.Store, error) {
	if !e.Config.Storage.Enabled || e.Config.Storage.Path == "" {
		return nil, nil
	}
	store, err := storage.Open(e.Config.Storage.Path)
	if err != nil {
		return nil, WrapError(err, "failed to open history")
	}
	return store, nil
}

func (e *Env) logger() *zap.Logger {
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	return e.Logger
}
