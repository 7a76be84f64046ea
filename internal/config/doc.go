// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for citechat.
//
// Supports TOML, JSON and YAML configuration formats, with sensible defaults,
// environment variable overrides, validation and live reload.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - BackendConfig: Chat backend location, token and retry policy
//   - AnswerConfig: Citation placeholder style
//   - RenderConfig: Terminal theme, wrap width and code highlighting
//   - ServerConfig: HTTP service address, CORS origins and rate limits
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CITECHAT_*)
//   - ~/.citechat/config.toml
//   - ~/.citechat/config.json
//   - ~/.citechat/config.yaml
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Reload on change:
//
//	err := config.Watch(ctx, path, func(cfg *config.Config, err error) {
//	    if err == nil {
//	        srv.SetAllowedOrigins(cfg.Server.AllowedOrigins)
//	    }
//	})
package config
