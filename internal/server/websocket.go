// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jeranaias/citechat/internal/model"
)

const (
	// wsReadLimit bounds one client message, like MaxRequestBodySize.
	wsReadLimit = MaxRequestBodySize

	wsPongWait   = 60 * time.Second
	wsPingPeriod = 20 * time.Second
	wsWriteWait  = 10 * time.Second
)

// newUpgrader builds an upgrader that accepts origins from the CORS
// allowlist. Requests without an Origin header are not from a browser and
// are accepted.
func (s *Server) newUpgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.cors.isOriginAllowed(origin)
		},
	}
}

// handleChatWS handles GET /api/chat/ws. The client sends ChatAppRequest
// messages; each is answered with the same ChatEvent sequence as /api/chat.
// Requests on one connection are served in order.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.newUpgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var writeMu sync.Mutex
	write := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v)
	}

	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	requests := make(chan model.ChatAppRequest)

	// Reader pump
	go func() {
		defer cancel()
		defer close(requests)
		for {
			var req model.ChatAppRequest
			if err := conn.ReadJSON(&req); err != nil {
				var closeErr *websocket.CloseError
				if !errors.As(err, &closeErr) {
					s.logger.Debug("websocket read failed", zap.Error(err))
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.pongWait))
			if len(req.Messages) == 0 {
				_ = write(ChatEvent{Done: true, Error: "messages must not be empty"})
				continue
			}
			select {
			case requests <- req:
				// Nothing was read while the previous answer streamed.
				conn.SetReadDeadline(time.Now().Add(s.pongWait))
			case <-ctx.Done():
				return
			}
		}
	}()

	// Heartbeat
	go func() {
		ticker := time.NewTicker(s.pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
				writeMu.Unlock()
				if err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for req := range requests {
		s.streamChat(ctx, req, transportWebSocket, func(ev ChatEvent) error {
			return write(ev)
		})
	}

	writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
	writeMu.Unlock()
}
