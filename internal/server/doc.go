// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the local answer service used by browser front ends.
//
// # Endpoints
//
//   - POST /api/parse      - interpret raw answer text
//   - POST /api/render     - interpret and render to sanitised HTML
//   - POST /api/chat       - proxy a chat request, streaming parsed snapshots (NDJSON)
//   - GET  /api/chat/ws    - the same stream over a WebSocket, one request per message
//   - GET  /api/styles.css - stylesheet for highlighted code blocks
//   - GET  /health         - health check
//   - GET  /stats          - request counters
//   - GET  /metrics        - Prometheus metrics
//
// The chat routes exist only when a backend is configured.
//
// Every request passes through recovery, request logging, metrics, security headers,
// CORS, bearer-token auth (when configured), a per-IP rate limit and a body
// size limit. Errors are written as {"error": "..."}.
//
// # Usage
//
//	srv := server.New(server.Options{Port: 8787, Logger: logger})
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
