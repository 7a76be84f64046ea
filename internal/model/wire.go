// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// REQUEST
// =============================================================================

// ResponseMessage is a single chat message as the backend sees it.
type ResponseMessage struct {
	Content string `json:"content"`
	Role    Role   `json:"role"`
}

// RequestOverrides tune retrieval and generation for one request.
type RequestOverrides struct {
	RetrievalMode            string   `json:"retrieval_mode,omitempty"`
	SemanticRanker           bool     `json:"semantic_ranker,omitempty"`
	SemanticCaptions         bool     `json:"semantic_captions,omitempty"`
	ExcludeCategory          string   `json:"exclude_category,omitempty"`
	Top                      int      `json:"top,omitempty"`
	Temperature              *float64 `json:"temperature,omitempty"`
	PromptTemplate           string   `json:"prompt_template,omitempty"`
	SuggestFollowupQuestions bool     `json:"suggest_followup_questions,omitempty"`
	UseOIDSecurityFilter     bool     `json:"use_oid_security_filter,omitempty"`
	UseGroupsSecurityFilter  bool     `json:"use_groups_security_filter,omitempty"`
}

// DefaultOverrides returns the overrides used when none are configured.
func DefaultOverrides() RequestOverrides {
	return RequestOverrides{
		RetrievalMode:            "hybrid",
		Top:                      3,
		SuggestFollowupQuestions: true,
	}
}

// RequestContext carries request-level options.
type RequestContext struct {
	Overrides RequestOverrides `json:"overrides"`
}

// ChatAppRequest is the body of /ask and /chat.
type ChatAppRequest struct {
	Messages     []ResponseMessage `json:"messages"`
	Context      *RequestContext   `json:"context,omitempty"`
	Stream       bool              `json:"stream,omitempty"`
	SessionState json.RawMessage   `json:"session_state,omitempty"`
}

// =============================================================================
// RESPONSE
// =============================================================================

// DataPoints holds the retrieved sources behind an answer. The backend sends
// either a single string, a list of strings or null.
type DataPoints []string

// UnmarshalJSON accepts a string, an array of strings or null.
func (d *DataPoints) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*d = nil
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("data_points: %w", err)
		}
		*d = DataPoints{s}
		return nil
	case '[':
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return fmt.Errorf("data_points: %w", err)
		}
		*d = list
		return nil
	default:
		return fmt.Errorf("data_points: unexpected JSON %s", truncateJSON(data))
	}
}

// ResponseContext is the supporting material returned with an answer.
type ResponseContext struct {
	DataPoints DataPoints `json:"data_points"`
	Thoughts   string     `json:"thoughts"`
}

// ResponseChoice is one choice of a complete answer.
type ResponseChoice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	Context      ResponseContext `json:"context"`
	SessionState json.RawMessage `json:"session_state,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
}

// ChatAppResponse is a complete answer from /ask or a non-streaming /chat.
type ChatAppResponse struct {
	Choices []ResponseChoice `json:"choices"`
}

// Content returns the text of the first choice, or "" when there is none.
func (r ChatAppResponse) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// Context returns the context of the first choice.
func (r ChatAppResponse) Context() ResponseContext {
	if len(r.Choices) == 0 {
		return ResponseContext{}
	}
	return r.Choices[0].Context
}

// ChatAppResponseOrError is what the backend returns on any status.
type ChatAppResponseOrError struct {
	ChatAppResponse
	Error string `json:"error,omitempty"`
}

// =============================================================================
// STREAMING
// =============================================================================

// ChunkDelta is the incremental part of a streamed choice.
type ChunkDelta struct {
	Content string `json:"content"`
	Role    Role   `json:"role,omitempty"`
}

// ChunkChoice is one choice within a streamed chunk. The first chunk of a
// stream carries the context and session state.
type ChunkChoice struct {
	Index        int              `json:"index"`
	Delta        ChunkDelta       `json:"delta"`
	Context      *ResponseContext `json:"context,omitempty"`
	SessionState json.RawMessage  `json:"session_state,omitempty"`
	FinishReason *string          `json:"finish_reason,omitempty"`
}

// ChatAppChunk is one newline-delimited JSON object of a /chat stream.
type ChatAppChunk struct {
	Choices []ChunkChoice `json:"choices"`
	Object  string        `json:"object,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// GetContent returns the delta text of the first choice.
func (c ChatAppChunk) GetContent() string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}

// GetContext returns the context of the first choice, if it has one.
func (c ChatAppChunk) GetContext() (ResponseContext, bool) {
	if len(c.Choices) == 0 || c.Choices[0].Context == nil {
		return ResponseContext{}, false
	}
	return *c.Choices[0].Context, true
}

// IsDone reports whether the first choice carries a finish reason.
func (c ChatAppChunk) IsDone() bool {
	if len(c.Choices) == 0 || c.Choices[0].FinishReason == nil {
		return false
	}
	return *c.Choices[0].FinishReason != ""
}

// BasePath is the response of GET /basepath.
type BasePath struct {
	BasePath string `json:"basePath"`
}

func truncateJSON(data []byte) string {
	const limit = 32
	if len(data) <= limit {
		return string(data)
	}
	return string(data[:limit]) + "..."
}
