// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/citechat/internal/answer"
)

// =============================================================================
// TURN TYPE
// =============================================================================

// Turn is one user question and the assistant's answer to it.
type Turn struct {
	// Identity
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// Question as typed by the user.
	Question string `json:"question"`

	// Answer is the final raw answer text. Empty while streaming.
	Answer string `json:"answer"`

	// Context returned by the backend alongside the answer.
	Context      ResponseContext `json:"context"`
	SessionState json.RawMessage `json:"session_state,omitempty"`

	// Streaming state (not persisted)
	// PERFORMANCE: strings.Builder avoids quadratic allocations during streaming
	IsStreaming   bool            `json:"-"`
	streamContent strings.Builder `json:"-"`

	// Failure, if the request did not complete.
	Err string `json:"error,omitempty"`

	// Timing
	TTFT          time.Duration `json:"ttft_ns,omitempty"`
	TotalDuration time.Duration `json:"total_duration_ns,omitempty"`
	ChunkCount    int           `json:"chunk_count,omitempty"`

	stats *Statistics
}

// NewTurn creates a streaming turn for question.
func NewTurn(question string) *Turn {
	return &Turn{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now(),
		Question:    question,
		IsStreaming: true,
		stats:       NewStatistics(),
	}
}

// NewCompletedTurn creates a finished turn from a complete response.
func NewCompletedTurn(question string, resp ChatAppResponse) *Turn {
	t := NewTurn(question)
	t.SetContext(resp.Context())
	if len(resp.Choices) > 0 && hasState(resp.Choices[0].SessionState) {
		t.SessionState = resp.Choices[0].SessionState
	}
	t.AppendToken(resp.Content())
	t.Finalize()
	return t
}

// =============================================================================
// TURN METHODS
// =============================================================================

// AppendToken appends a chunk of answer text to a streaming turn.
func (t *Turn) AppendToken(token string) {
	if !t.IsStreaming {
		return
	}
	if t.stats != nil && token != "" {
		t.stats.RecordFirstToken()
	}
	t.streamContent.WriteString(token)
	t.ChunkCount++
}

// ApplyChunk folds one streamed chunk into the turn.
func (t *Turn) ApplyChunk(chunk ChatAppChunk) {
	if ctx, ok := chunk.GetContext(); ok {
		t.SetContext(ctx)
	}
	if len(chunk.Choices) > 0 && hasState(chunk.Choices[0].SessionState) {
		t.SessionState = chunk.Choices[0].SessionState
	}
	if content := chunk.GetContent(); content != "" {
		t.AppendToken(content)
	}
}

// SetContext records the thoughts and data points for this answer.
func (t *Turn) SetContext(ctx ResponseContext) {
	t.Context = ctx
}

// Finalize completes streaming and records timing.
func (t *Turn) Finalize() {
	if !t.IsStreaming {
		return
	}

	t.Answer = t.streamContent.String()
	t.streamContent.Reset()
	t.IsStreaming = false

	if t.stats != nil {
		t.stats.Finalize(t.ChunkCount)
		t.TTFT = t.stats.TTFT
		t.TotalDuration = t.stats.TotalDuration
	}
}

// Fail finalizes the turn and records err.
func (t *Turn) Fail(err error) {
	t.Finalize()
	if err != nil {
		t.Err = err.Error()
	}
}

// Content returns the raw answer so far, streaming or final.
func (t *Turn) Content() string {
	if t.IsStreaming {
		return t.streamContent.String()
	}
	return t.Answer
}

// Parse interprets the whole answer buffer. While the turn is streaming, or
// when it failed part way, a trailing partial citation is hidden.
func (t *Turn) Parse(p *answer.Parser) answer.Parsed {
	incomplete := t.IsStreaming || t.Err != ""
	if p == nil {
		return answer.Parse(t.Content(), incomplete)
	}
	return p.Parse(t.Content(), incomplete)
}

// HasThoughts reports whether the backend explained how it got the answer.
func (t *Turn) HasThoughts() bool {
	return strings.TrimSpace(t.Context.Thoughts) != ""
}

// IsEmpty returns true if the turn has no answer text.
func (t *Turn) IsEmpty() bool {
	return t.Answer == "" && t.streamContent.Len() == 0
}

// FormatStats returns a short timing summary, e.g. "2.5s | 42 chunks | TTFT 234ms".
func (t *Turn) FormatStats() string {
	if t.IsStreaming || t.TotalDuration == 0 {
		return ""
	}
	return fmt.Sprintf("%.1fs | %d chunks | TTFT %dms",
		t.TotalDuration.Seconds(), t.ChunkCount, t.TTFT.Milliseconds())
}

// hasState reports whether raw holds a session state other than null.
func hasState(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null"
}

// =============================================================================
// STATISTICS TYPE
// =============================================================================

// Statistics holds timing information for one answer.
type Statistics struct {
	StartTime      time.Time
	FirstTokenTime time.Time
	EndTime        time.Time

	Chunks int

	// Derived on Finalize
	TTFT          time.Duration
	TotalDuration time.Duration
}

// NewStatistics creates a new Statistics with the start time set.
func NewStatistics() *Statistics {
	return &Statistics{StartTime: time.Now()}
}

// RecordFirstToken records when the first token was received.
func (s *Statistics) RecordFirstToken() {
	if s.FirstTokenTime.IsZero() {
		s.FirstTokenTime = time.Now()
		s.TTFT = s.FirstTokenTime.Sub(s.StartTime)
	}
}

// Finalize computes the final statistics.
func (s *Statistics) Finalize(chunks int) {
	s.EndTime = time.Now()
	s.Chunks = chunks
	s.TotalDuration = s.EndTime.Sub(s.StartTime)
}
