// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/citechat/internal/answer"
	"github.com/jeranaias/citechat/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "sub", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// finishedTurn builds a completed turn created at the given offset from now.
func finishedTurn(question, raw string, age time.Duration) (*model.Turn, answer.Parsed) {
	turn := model.NewTurn(question)
	turn.CreatedAt = time.Now().Add(-age)
	turn.AppendToken(raw)
	turn.Finalize()
	return turn, answer.NewParser().Parse(raw, false)
}

// =============================================================================
// STORE TESTS
// =============================================================================

func TestOpenCreatesDirectory(t *testing.T) {
	store := openTestStore(t)
	assert.FileExists(t, store.Path())
	assert.Equal(t, DefaultMaxRecords, store.MaxRecords)
}

func TestSaveAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	turn, parsed := finishedTurn("What is covered?",
		"Dental [benefits.pdf] and vision [vision.pdf]. <<Is eye surgery covered?>>", 0)
	require.NoError(t, store.Save(ctx, turn, parsed))

	rec, err := store.Get(ctx, turn.ID)
	require.NoError(t, err)

	assert.Equal(t, turn.ID, rec.ID)
	assert.Equal(t, "What is covered?", rec.Question)
	assert.Equal(t, turn.Content(), rec.Answer)
	assert.Equal(t, "Dental <sup>1</sup> and vision <sup>2</sup>.", rec.Text)
	assert.Equal(t, []string{"Is eye surgery covered?"}, rec.Followups)
	assert.Equal(t, []string{"benefits.pdf", "vision.pdf"}, rec.Parsed().Labels())
	assert.WithinDuration(t, turn.CreatedAt, rec.CreatedAt, time.Millisecond)
}

func TestSaveReplacesSameTurn(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	turn, parsed := finishedTurn("q", "first", 0)
	require.NoError(t, store.Save(ctx, turn, parsed))

	turn.Answer = "second [a.pdf]"
	require.NoError(t, store.Save(ctx, turn, answer.NewParser().Parse(turn.Answer, false)))

	metas, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, 1, metas[0].CitationCount)
}

func TestSaveEmptyParseStoresEmptyLists(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	turn := model.NewTurn("q")
	turn.Fail(errors.New("backend down"))
	require.NoError(t, store.Save(ctx, turn, answer.Parsed{}))

	rec, err := store.Get(ctx, turn.ID)
	require.NoError(t, err)
	assert.NotNil(t, rec.Followups)
	assert.NotNil(t, rec.Citations)
	assert.Equal(t, "backend down", rec.Err)

	metas, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.True(t, metas[0].Failed)
}

func TestSaveNilTurn(t *testing.T) {
	store := openTestStore(t)
	assert.Error(t, store.Save(context.Background(), nil, answer.Parsed{}))
}

func TestGetNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = store.Get(context.Background(), "")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetByPrefix(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	turn, parsed := finishedTurn("q", "a", 0)
	require.NoError(t, store.Save(ctx, turn, parsed))

	rec, err := store.Get(ctx, turn.ID[:8])
	require.NoError(t, err)
	assert.Equal(t, turn.ID, rec.ID)

	// LIKE wildcards in the reference are literal.
	_, err = store.Get(ctx, "%")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListOrderAndLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i, q := range []string{"oldest", "middle", "newest"} {
		turn, parsed := finishedTurn(q, "answer", time.Duration(3-i)*time.Hour)
		require.NoError(t, store.Save(ctx, turn, parsed))
	}

	metas, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, metas, 3)
	assert.Equal(t, "newest", metas[0].Preview)
	assert.Equal(t, "oldest", metas[2].Preview)

	metas, err = store.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, metas, 2)

	rec, err := store.GetByIndex(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "middle", rec.Question)

	rec, err = store.Lookup(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "newest", rec.Question)

	_, err = store.GetByIndex(ctx, 4)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSearch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	pairs := [][2]string{
		{"Dental plan?", "Covers cleanings [d.pdf]"},
		{"Vision plan?", "Covers glasses 100% [v.pdf]"},
		{"Parking?", "Ask facilities"},
	}
	for i, p := range pairs {
		turn, parsed := finishedTurn(p[0], p[1], time.Duration(i)*time.Minute)
		require.NoError(t, store.Save(ctx, turn, parsed))
	}

	tests := []struct {
		query string
		want  int
	}{
		{"dental", 1},
		{"COVERS", 2},
		{"100%", 1},
		{"_", 0},
		{"", 3},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			metas, err := store.Search(ctx, tt.query, 0)
			require.NoError(t, err)
			assert.Len(t, metas, tt.want)
		})
	}
}

func TestMaxRecordsPrunesOldest(t *testing.T) {
	store := openTestStore(t)
	store.MaxRecords = 2
	ctx := context.Background()

	for i, q := range []string{"one", "two", "three"} {
		turn, parsed := finishedTurn(q, "a", time.Duration(3-i)*time.Hour)
		require.NoError(t, store.Save(ctx, turn, parsed))
	}

	metas, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "three", metas[0].Preview)
	assert.Equal(t, "two", metas[1].Preview)
}

func TestDeleteAndClear(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a, pa := finishedTurn("a", "x", 0)
	b, pb := finishedTurn("b", "y", time.Minute)
	require.NoError(t, store.Save(ctx, a, pa))
	require.NoError(t, store.Save(ctx, b, pb))

	require.NoError(t, store.Delete(ctx, a.ID))
	assert.True(t, errors.Is(store.Delete(ctx, a.ID), ErrNotFound))

	n, err := store.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	metas, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, metas)
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	turn, parsed := finishedTurn("persist me", "ok [a.pdf]", 0)
	require.NoError(t, store.Save(ctx, turn, parsed))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	rec, err := store.Get(ctx, turn.ID)
	require.NoError(t, err)
	assert.Equal(t, "persist me", rec.Question)
}

// =============================================================================
// FORMATTING TESTS
// =============================================================================

func TestFormatList(t *testing.T) {
	assert.Equal(t, "No saved answers.", FormatList(nil))

	out := FormatList([]RecordMeta{
		{ID: "0123456789abcdef", CreatedAt: time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC), Preview: "What is covered?", CitationCount: 2},
		{ID: "short", Preview: "broken", Failed: true},
	})
	assert.Contains(t, out, "01234567 ")
	assert.NotContains(t, out, "0123456789")
	assert.Contains(t, out, "2025-03-01 09:30")
	assert.Contains(t, out, "What is covered?")
	assert.Contains(t, out, "(failed) broken")
}

func TestExportMarkdown(t *testing.T) {
	rec := &Record{
		Question:  "What\nis covered?",
		Text:      "Dental <sup>1</sup>.",
		Followups: []string{"And vision?"},
		Citations: []answer.Citation{{Index: 1, Label: "d.pdf"}},
	}
	md := rec.ExportMarkdown()

	assert.True(t, strings.HasPrefix(md, "# What is covered?\n"))
	assert.Contains(t, md, "## Sources\n\n1. d.pdf\n")
	assert.Contains(t, md, "- And vision?\n")
	assert.NotContains(t, md, "Error:")

	data, err := rec.ExportJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"label": "d.pdf"`)
}
