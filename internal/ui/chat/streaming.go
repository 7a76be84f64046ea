// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/citechat/internal/answer"
	"github.com/jeranaias/citechat/internal/model"
)

// =============================================================================
// STREAMING BUFFER
// =============================================================================

// StreamingBuffer batches incoming tokens so the screen is redrawn at a
// capped frame rate instead of once per chunk.
type StreamingBuffer struct {
	mu         sync.Mutex
	buffer     strings.Builder
	tokenCount int
	lastFlush  time.Time

	batchSize  int
	minFlushMs int64
}

const (
	// DefaultBatchSize is the number of tokens that forces a flush.
	DefaultBatchSize = 15

	// DefaultMaxFPS caps redraws while streaming.
	DefaultMaxFPS = 30
)

// NewStreamingBuffer creates a buffer with the default batch size and frame rate.
func NewStreamingBuffer() *StreamingBuffer {
	return NewStreamingBufferWithConfig(DefaultBatchSize, DefaultMaxFPS)
}

// NewStreamingBufferWithConfig creates a buffer with a custom batch size and
// frame rate. Non-positive values use the defaults.
func NewStreamingBufferWithConfig(batchSize, maxFPS int) *StreamingBuffer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxFPS <= 0 {
		maxFPS = DefaultMaxFPS
	}
	return &StreamingBuffer{
		batchSize:  batchSize,
		minFlushMs: int64(1000 / maxFPS),
		lastFlush:  time.Now(),
	}
}

// Write adds a token and reports whether the buffer should be flushed now.
func (sb *StreamingBuffer) Write(token string) bool {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.buffer.WriteString(token)
	sb.tokenCount++
	return sb.shouldFlushLocked()
}

// ShouldFlush reports whether enough tokens or time have accumulated.
func (sb *StreamingBuffer) ShouldFlush() bool {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.shouldFlushLocked()
}

func (sb *StreamingBuffer) shouldFlushLocked() bool {
	if sb.buffer.Len() == 0 {
		return false
	}
	if sb.tokenCount >= sb.batchSize {
		return true
	}
	return time.Since(sb.lastFlush).Milliseconds() >= sb.minFlushMs
}

// Flush returns and clears the buffered text.
func (sb *StreamingBuffer) Flush() string {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	out := sb.buffer.String()
	sb.buffer.Reset()
	sb.tokenCount = 0
	sb.lastFlush = time.Now()
	return out
}

// ForceFlush flushes regardless of thresholds, e.g. when the stream ends.
func (sb *StreamingBuffer) ForceFlush() string {
	return sb.Flush()
}

// Pending returns the number of buffered tokens.
func (sb *StreamingBuffer) Pending() int {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.tokenCount
}

// Reset discards buffered text.
func (sb *StreamingBuffer) Reset() {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.buffer.Reset()
	sb.tokenCount = 0
	sb.lastFlush = time.Now()
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

// Transcript is the live view of one answer. Every snapshot re-parses the
// whole accumulated buffer, so a citation split across chunks is hidden until
// its closing bracket arrives.
type Transcript struct {
	mu     sync.Mutex
	turn   *model.Turn
	parser *answer.Parser
}

// NewTranscript wraps turn. A nil parser uses the default placeholder.
func NewTranscript(turn *model.Turn, parser *answer.Parser) *Transcript {
	if parser == nil {
		parser = answer.NewParser()
	}
	return &Transcript{turn: turn, parser: parser}
}

// Append adds answer text.
func (t *Transcript) Append(text string) {
	if text == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turn.AppendToken(text)
}

// Apply folds a streamed chunk's context and session state into the turn.
// Content is not appended; it goes through the StreamingBuffer.
func (t *Transcript) Apply(chunk model.ChatAppChunk) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ctx, ok := chunk.GetContext(); ok {
		t.turn.SetContext(ctx)
	}
	if len(chunk.Choices) > 0 && len(chunk.Choices[0].SessionState) > 0 {
		s := strings.TrimSpace(string(chunk.Choices[0].SessionState))
		if s != "null" {
			t.turn.SessionState = chunk.Choices[0].SessionState
		}
	}
}

// Snapshot parses everything received so far.
func (t *Transcript) Snapshot() answer.Parsed {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.turn.Parse(t.parser)
}

// Finish ends streaming. err, if non-nil, is recorded on the turn.
func (t *Transcript) Finish(err error) answer.Parsed {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		t.turn.Fail(err)
	} else {
		t.turn.Finalize()
	}
	return t.turn.Parse(t.parser)
}

// Raw returns the raw answer text so far.
func (t *Transcript) Raw() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.turn.Content()
}

// IsStreaming reports whether the answer is still arriving.
func (t *Transcript) IsStreaming() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.turn.IsStreaming
}

// Turn returns the wrapped turn.
func (t *Transcript) Turn() *model.Turn {
	return t.turn
}

// =============================================================================
// TICK
// =============================================================================

// streamTickInterval is about 30 FPS.
const streamTickInterval = 33 * time.Millisecond

// streamTickCmd schedules the next buffer flush.
func streamTickCmd() tea.Cmd {
	return tea.Tick(streamTickInterval, func(t time.Time) tea.Msg {
		return StreamTickMsg{Time: t}
	})
}
