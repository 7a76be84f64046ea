// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/citechat/internal/answer"
)

// =============================================================================
// WIRE TESTS
// =============================================================================

func TestChatAppResponse_Decode(t *testing.T) {
	body := `{
		"choices": [{
			"index": 0,
			"message": {"content": "Covered [a.pdf]. <<More?>>", "role": "assistant"},
			"context": {"data_points": "| a | b |", "thoughts": "Query:<br>x"},
			"session_state": {"id": 7},
			"finish_reason": "stop"
		}]
	}`

	var resp ChatAppResponseOrError
	require.NoError(t, json.Unmarshal([]byte(body), &resp))

	assert.Empty(t, resp.Error)
	assert.Equal(t, "Covered [a.pdf]. <<More?>>", resp.Content())
	assert.Equal(t, DataPoints{"| a | b |"}, resp.Context().DataPoints)
	assert.Equal(t, "Query:<br>x", resp.Context().Thoughts)
	assert.JSONEq(t, `{"id": 7}`, string(resp.Choices[0].SessionState))
}

func TestChatAppResponse_EmptyChoices(t *testing.T) {
	var resp ChatAppResponse
	assert.Equal(t, "", resp.Content())
	assert.Equal(t, ResponseContext{}, resp.Context())
}

func TestDataPoints_Unmarshal(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    DataPoints
		wantErr bool
	}{
		{"null", `null`, nil, false},
		{"string", `"row"`, DataPoints{"row"}, false},
		{"list", `["a.pdf: x", "b.pdf: y"]`, DataPoints{"a.pdf: x", "b.pdf: y"}, false},
		{"number", `42`, nil, true},
		{"object", `{"a": 1}`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got DataPoints
			err := json.Unmarshal([]byte(tt.in), &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChatAppChunk(t *testing.T) {
	var first ChatAppChunk
	require.NoError(t, json.Unmarshal([]byte(`{"choices":[{"delta":{"role":"assistant"},"context":{"thoughts":"t"},"session_state":null,"finish_reason":null,"index":0}],"object":"chat.completion.chunk"}`), &first))

	ctx, ok := first.GetContext()
	assert.True(t, ok)
	assert.Equal(t, "t", ctx.Thoughts)
	assert.Equal(t, "", first.GetContent())
	assert.False(t, first.IsDone())

	var last ChatAppChunk
	require.NoError(t, json.Unmarshal([]byte(`{"choices":[{"delta":{"content":"end"},"finish_reason":"stop","index":0}]}`), &last))
	assert.Equal(t, "end", last.GetContent())
	assert.True(t, last.IsDone())

	_, ok = last.GetContext()
	assert.False(t, ok)
}

// =============================================================================
// TURN TESTS
// =============================================================================

func TestTurn_Streaming(t *testing.T) {
	turn := NewTurn("What is covered?")
	require.True(t, turn.IsStreaming)
	assert.NotEmpty(t, turn.ID)

	turn.AppendToken("Dental [a.pdf] and ")
	turn.AppendToken("vision [b.p")

	parsed := turn.Parse(nil)
	assert.Equal(t, "Dental <sup>1</sup> and vision ", parsed.Text)
	assert.Equal(t, []string{"a.pdf"}, parsed.Labels())

	turn.AppendToken("df].")
	turn.Finalize()

	assert.False(t, turn.IsStreaming)
	assert.Equal(t, "Dental [a.pdf] and vision [b.pdf].", turn.Answer)
	assert.Equal(t, 3, turn.ChunkCount)

	parsed = turn.Parse(answer.NewParser(answer.WithPlaceholder(answer.SuperscriptPlaceholder)))
	assert.Equal(t, "Dental ⁽¹⁾ and vision ⁽²⁾.", parsed.Text)

	turn.AppendToken("ignored")
	assert.Equal(t, "Dental [a.pdf] and vision [b.pdf].", turn.Content())
}

func TestTurn_ApplyChunk(t *testing.T) {
	turn := NewTurn("q")
	turn.ApplyChunk(ChatAppChunk{Choices: []ChunkChoice{{
		Context:      &ResponseContext{Thoughts: "searched"},
		SessionState: json.RawMessage(`"s1"`),
	}}})
	turn.ApplyChunk(ChatAppChunk{Choices: []ChunkChoice{{Delta: ChunkDelta{Content: "hi"}}}})

	assert.True(t, turn.HasThoughts())
	assert.Equal(t, "hi", turn.Content())
	assert.Equal(t, json.RawMessage(`"s1"`), turn.SessionState)
	assert.Equal(t, 1, turn.ChunkCount)
}

func TestTurn_Fail(t *testing.T) {
	turn := NewTurn("q")
	turn.AppendToken("partial")
	turn.Fail(errors.New("boom"))

	assert.False(t, turn.IsStreaming)
	assert.Equal(t, "boom", turn.Err)
	assert.Equal(t, "partial", turn.Answer)
}

func TestTurn_ParseFailedHidesPartialCitation(t *testing.T) {
	turn := NewTurn("q")
	turn.AppendToken("Cut off [Benefit_Opt")
	turn.Fail(errors.New("connection reset"))

	parsed := turn.Parse(nil)
	assert.Equal(t, "Cut off ", parsed.Text)
	assert.Empty(t, parsed.Citations)
}

func TestNewCompletedTurn(t *testing.T) {
	resp := ChatAppResponse{Choices: []ResponseChoice{{
		Message: ResponseMessage{Content: "Final [x] [", Role: RoleAssistant},
		Context: ResponseContext{Thoughts: "th"},
	}}}

	turn := NewCompletedTurn("q", resp)
	assert.False(t, turn.IsStreaming)
	assert.Equal(t, "Final <sup>1</sup> [", turn.Parse(nil).Text)
	assert.Equal(t, "th", turn.Context.Thoughts)
	assert.Empty(t, NewTurn("pending").FormatStats())
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestConversation_Request(t *testing.T) {
	conv := NewConversation()

	first := conv.Ask("one")
	first.AppendToken("answer one")
	first.SessionState = json.RawMessage(`{"s":1}`)
	conv.Finish(first)

	failed := conv.Ask("broken")
	failed.Fail(errors.New("x"))

	conv.Ask("two")

	req := conv.Request(DefaultOverrides())
	assert.Equal(t, []ResponseMessage{
		{Role: RoleUser, Content: "one"},
		{Role: RoleAssistant, Content: "answer one"},
		{Role: RoleUser, Content: "two"},
	}, req.Messages)
	require.NotNil(t, req.Context)
	assert.True(t, req.Context.Overrides.SuggestFollowupQuestions)
	assert.JSONEq(t, `{"s":1}`, string(req.SessionState))

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"overrides":{`)
	assert.NotContains(t, string(data), `"stream"`)
}

func TestConversation_Prune(t *testing.T) {
	conv := NewConversation()
	for i := 0; i < MaxTurns+5; i++ {
		conv.Ask("q")
	}
	assert.Len(t, conv.Turns, MaxTurns)

	conv.Clear()
	assert.True(t, conv.IsEmpty())
	assert.Nil(t, conv.Last())
	assert.Nil(t, conv.SessionState)
}
