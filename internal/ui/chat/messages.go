// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"time"

	"github.com/jeranaias/citechat/internal/model"
)

// =============================================================================
// STREAMING MESSAGES
// =============================================================================

// streamChunkMsg delivers one chunk from the backend.
type streamChunkMsg struct {
	TurnID string
	Chunk  model.ChatAppChunk
}

// streamDoneMsg signals that the stream for TurnID ended. Err is nil on
// success.
type streamDoneMsg struct {
	TurnID string
	Err    error
}

// StreamTickMsg triggers a flush of the streaming buffer.
type StreamTickMsg struct {
	Time time.Time
}

// =============================================================================
// HISTORY MESSAGES
// =============================================================================

// savedMsg reports the result of writing a finished turn to the store.
type savedMsg struct {
	TurnID string
	Err    error
}
