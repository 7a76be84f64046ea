// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MaxTurns is the maximum number of turns kept in a conversation.
// When exceeded, the oldest turns are pruned.
const MaxTurns = 200

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds the turns of one chat session.
type Conversation struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Turns []*Turn `json:"turns"`

	// SessionState is echoed back to the backend on the next request.
	SessionState json.RawMessage `json:"session_state,omitempty"`
}

// NewConversation creates an empty conversation.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Turns:     make([]*Turn, 0),
	}
}

// Ask starts a new streaming turn for question.
func (c *Conversation) Ask(question string) *Turn {
	t := NewTurn(question)
	c.Turns = append(c.Turns, t)
	c.UpdatedAt = time.Now()
	c.prune()
	return t
}

// Finish finalizes t and keeps its session state for the next request.
func (c *Conversation) Finish(t *Turn) {
	t.Finalize()
	if len(t.SessionState) > 0 {
		c.SessionState = t.SessionState
	}
	c.UpdatedAt = time.Now()
}

// Last returns the most recent turn, or nil if there is none.
func (c *Conversation) Last() *Turn {
	if len(c.Turns) == 0 {
		return nil
	}
	return c.Turns[len(c.Turns)-1]
}

// Clear removes all turns and the session state.
func (c *Conversation) Clear() {
	c.Turns = make([]*Turn, 0)
	c.SessionState = nil
	c.UpdatedAt = time.Now()
}

// IsEmpty returns true if there are no turns.
func (c *Conversation) IsEmpty() bool {
	return len(c.Turns) == 0
}

// History returns the message list for the next request. Each turn adds its
// question; finished turns also add their raw answer. Failed turns are skipped.
func (c *Conversation) History() []ResponseMessage {
	msgs := make([]ResponseMessage, 0, len(c.Turns)*2)
	for _, t := range c.Turns {
		if t.Err != "" {
			continue
		}
		msgs = append(msgs, ResponseMessage{Role: RoleUser, Content: t.Question})
		if !t.IsStreaming && t.Answer != "" {
			msgs = append(msgs, ResponseMessage{Role: RoleAssistant, Content: t.Answer})
		}
	}
	return msgs
}

// Request builds the request body for the next call.
func (c *Conversation) Request(overrides RequestOverrides) ChatAppRequest {
	return ChatAppRequest{
		Messages:     c.History(),
		Context:      &RequestContext{Overrides: overrides},
		SessionState: c.SessionState,
	}
}

func (c *Conversation) prune() {
	if len(c.Turns) > MaxTurns {
		c.Turns = append([]*Turn(nil), c.Turns[len(c.Turns)-MaxTurns:]...)
	}
}
