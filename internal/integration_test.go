// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package internal provides integration tests for the complete citechat
// pipeline.
//
// These tests verify end-to-end functionality including:
//   - Streaming from a backend through the API client
//   - Incremental interpretation of a growing answer
//   - Multi-turn conversations
//   - Saving and exporting answers
//   - The HTTP front end in front of a real client
package internal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/citechat/internal/answer"
	"github.com/jeranaias/citechat/internal/api"
	"github.com/jeranaias/citechat/internal/model"
	"github.com/jeranaias/citechat/internal/render"
	"github.com/jeranaias/citechat/internal/server"
	"github.com/jeranaias/citechat/internal/storage"
)

// =============================================================================
// HELPERS
// =============================================================================

// chunkLines renders text pieces as backend NDJSON chunks.
func chunkLines(pieces ...string) string {
	var sb strings.Builder
	for _, p := range pieces {
		data, _ := json.Marshal(model.ChatAppChunk{Choices: []model.ChunkChoice{{
			Delta: model.ChunkDelta{Content: p},
		}}})
		sb.Write(data)
		sb.WriteString("\n")
	}
	return sb.String()
}

// newBackend starts a fake chat backend that answers every request with the
// given pieces and records the requests it saw.
func newBackend(t *testing.T, pieces ...string) (*httptest.Server, *[]model.ChatAppRequest) {
	t.Helper()
	var seen []model.ChatAppRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req model.ChatAppRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		seen = append(seen, req)

		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprint(w, chunkLines(pieces...))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

var benefitsAnswer = []string{
	"Northwind Plus covers vision [Northwind_Plus",
	"_Benefits_Details.pdf#page=3] while Standard ",
	"does not [Northwind_Standard_Benefits_Details.pdf].",
	" <<Is dental covered?>> <<What",
	" about hearing aids?>>",
}

// =============================================================================
// STREAMING PIPELINE
// =============================================================================

// TestEndToEndStreaming drives a real client against a fake backend and
// checks every intermediate interpretation.
func TestEndToEndStreaming(t *testing.T) {
	backend, _ := newBackend(t, benefitsAnswer...)
	client := api.NewClient(backend.URL)

	conv := model.NewConversation()
	turn := conv.Ask("What differs between the plans?")

	var snapshots []answer.Parsed
	err := client.Chat(context.Background(), conv.Request(model.DefaultOverrides()), func(chunk model.ChatAppChunk) {
		turn.ApplyChunk(chunk)
		snapshots = append(snapshots, turn.Parse(nil))
	})
	require.NoError(t, err)
	conv.Finish(turn)
	require.Len(t, snapshots, len(benefitsAnswer))

	// A partial citation is never shown.
	assert.Equal(t, "Northwind Plus covers vision ", snapshots[0].Text)
	assert.Empty(t, snapshots[0].Citations)

	// Once closed it gets its number, and the number never changes.
	assert.Equal(t, "Northwind Plus covers vision <sup>1</sup> while Standard", snapshots[1].Text)
	for _, s := range snapshots[1:] {
		require.NotEmpty(t, s.Citations)
		assert.Equal(t, "Northwind_Plus_Benefits_Details.pdf#page=3", s.Citations[0].Label)
	}

	// An unclosed follow-up stays in the text until its closing marker.
	assert.Contains(t, snapshots[3].Text, "<<What")
	assert.Equal(t, []string{"Is dental covered?"}, snapshots[3].Followups)

	final := turn.Parse(nil)
	assert.Equal(t, "Northwind Plus covers vision <sup>1</sup> while Standard does not <sup>2</sup>.", final.Text)
	assert.Equal(t, []string{"Is dental covered?", "What about hearing aids?"}, final.Followups)
	assert.Equal(t, []string{
		"Northwind_Plus_Benefits_Details.pdf#page=3",
		"Northwind_Standard_Benefits_Details.pdf",
	}, final.Labels())

	refs := client.Resolver().Refs(final)
	assert.Equal(t, backend.URL+"/content/Northwind_Plus_Benefits_Details.pdf#page=3", refs[0].Path)
}

// TestConversationCarriesHistory tests that a follow-up sends the earlier
// exchange and the chosen follow-up question.
func TestConversationCarriesHistory(t *testing.T) {
	backend, seen := newBackend(t, benefitsAnswer...)
	client := api.NewClient(backend.URL)
	ctx := context.Background()

	conv := model.NewConversation()
	first := conv.Ask("What differs between the plans?")
	require.NoError(t, client.Chat(ctx, conv.Request(model.DefaultOverrides()), first.ApplyChunk))
	conv.Finish(first)

	followup := first.Parse(nil).Followups[0]
	second := conv.Ask(followup)
	require.NoError(t, client.Chat(ctx, conv.Request(model.DefaultOverrides()), second.ApplyChunk))
	conv.Finish(second)

	require.Len(t, *seen, 2)
	msgs := (*seen)[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, strings.Join(benefitsAnswer, ""), msgs[1].Content, "history carries the raw answer")
	assert.Equal(t, "Is dental covered?", msgs[2].Content)
}

// =============================================================================
// STORAGE
// =============================================================================

// TestAnswerStorageIntegration saves a streamed answer and reads it back.
func TestAnswerStorageIntegration(t *testing.T) {
	backend, _ := newBackend(t, benefitsAnswer...)
	client := api.NewClient(backend.URL)
	ctx := context.Background()

	store, err := storage.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer store.Close()

	conv := model.NewConversation()
	turn := conv.Ask("What differs between the plans?")
	require.NoError(t, client.Chat(ctx, conv.Request(model.DefaultOverrides()), turn.ApplyChunk))
	conv.Finish(turn)

	parser := answer.NewParser(answer.WithPlaceholder(answer.SuperscriptPlaceholder))
	parsed := turn.Parse(parser)
	require.NoError(t, store.Save(ctx, turn, parsed))

	rec, err := store.Lookup(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, turn.ID, rec.ID)
	assert.Equal(t, parsed.Text, rec.Text)
	assert.Equal(t, strings.Join(benefitsAnswer, ""), rec.Answer)

	// The raw answer re-parses to the same result.
	again := parser.Parse(rec.Answer, false)
	assert.Equal(t, parsed, again)

	md := rec.ExportMarkdown()
	assert.Contains(t, md, "# What differs between the plans?")
	assert.Contains(t, md, "1. Northwind_Plus_Benefits_Details.pdf#page=3")
	assert.Contains(t, md, "- What about hearing aids?")

	metas, err := store.Search(ctx, "hearing", 10)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, turn.ID, metas[0].ID)
}

// TestPlainRenderingIntegration renders a final answer for a terminal
// without colors.
func TestPlainRenderingIntegration(t *testing.T) {
	backend, _ := newBackend(t, benefitsAnswer...)
	client := api.NewClient(backend.URL)

	resp, err := client.ChatCollect(context.Background(), model.ChatAppRequest{
		Messages: []model.ResponseMessage{{Role: model.RoleUser, Content: "q"}},
	})
	require.NoError(t, err)

	parsed := answer.NewParser(answer.WithPlaceholder(render.Placeholder)).Parse(resp.Content(), false)
	out := render.PlainRenderer{Width: 80}.Render(parsed, client.Resolver())

	assert.Contains(t, out, "vision ⁽¹⁾ while Standard does not ⁽²⁾.")
	assert.Contains(t, out, "Northwind_Standard_Benefits_Details.pdf")
	assert.Contains(t, out, "What about hearing aids?")
}

// =============================================================================
// HTTP FRONT END
// =============================================================================

// TestServerChatProxy runs the HTTP front end in front of a real client.
func TestServerChatProxy(t *testing.T) {
	backend, seen := newBackend(t, benefitsAnswer...)
	client := api.NewClient(backend.URL)

	front := httptest.NewServer(server.New(server.Options{
		Backend:  client,
		Resolver: client.Resolver(),
	}).Handler())
	defer front.Close()

	resp, err := http.Post(front.URL+"/api/chat", "application/json",
		strings.NewReader(`{"messages":[{"role":"user","content":"What differs?"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var events []server.ChatEvent
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var ev server.ChatEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())
	require.NotEmpty(t, events)

	for _, ev := range events {
		assert.NotContains(t, ev.Text, "[Northwind", "partial citations never reach the client")
	}

	last := events[len(events)-1]
	assert.True(t, last.Done)
	assert.Empty(t, last.Error)
	require.Len(t, last.Citations, 2)
	assert.Equal(t, backend.URL+"/content/Northwind_Standard_Benefits_Details.pdf", last.Citations[1].Path)
	assert.Equal(t, []string{"Is dental covered?", "What about hearing aids?"}, last.Followups)

	require.Len(t, *seen, 1)
	assert.True(t, (*seen)[0].Stream)
}
