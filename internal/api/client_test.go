// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/citechat/internal/answer"
	"github.com/jeranaias/citechat/internal/model"
)

// newTestClient points a client at an httptest server with instant retries.
func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts = append([]Option{WithHTTPClient(srv.Client())}, opts...)
	c := NewClient(srv.URL, opts...)
	c.backoff = func(int) time.Duration { return time.Millisecond }
	return c
}

func sampleRequest() model.ChatAppRequest {
	conv := model.NewConversation()
	conv.Ask("What does my plan cover?")
	return conv.Request(model.DefaultOverrides())
}

// =============================================================================
// ASK
// =============================================================================

func TestAsk_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/ask", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer tok123", r.Header.Get("Authorization"))

		var req model.ChatAppRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		assert.Equal(t, model.RoleUser, req.Messages[0].Role)
		assert.False(t, req.Stream)

		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"Yes [a.pdf]. <<How much?>>"},"context":{"thoughts":"t","data_points":["a.pdf: text"]}}]}`)
	}, WithIDToken("tok123"))

	resp, err := c.Ask(context.Background(), sampleRequest())
	require.NoError(t, err)

	parsed := answer.Parse(resp.Content(), false)
	assert.Equal(t, "Yes <sup>1</sup>.", parsed.Text)
	assert.Equal(t, []string{"How much?"}, parsed.Followups)
	assert.Equal(t, model.DataPoints{"a.pdf: text"}, resp.Context().DataPoints)
}

func TestAsk_NoTokenNoAuthHeader(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"choices":[]}`)
	})
	assert.False(t, c.HasToken())

	resp, err := c.Ask(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "", resp.Content())
}

func TestAsk_ErrorBody(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
		is      error
	}{
		{"error field", http.StatusBadRequest, `{"error":"request must be json"}`, "request must be json", nil},
		{"unparseable body", http.StatusBadRequest, `oops`, "Unknown error", nil},
		{"unauthorized", http.StatusUnauthorized, `{"error":"no"}`, "no", ErrUnauthorized},
		{"forbidden", http.StatusForbidden, `{}`, "Unknown error", ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := c.Ask(context.Background(), sampleRequest())
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestAsk_ErrorFieldWithOKStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"model overloaded"}`)
	})

	_, err := c.Ask(context.Background(), sampleRequest())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "model overloaded", apiErr.Message)
}

func TestAsk_RetriesTransientErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":"busy"}`)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	})

	resp, err := c.Ask(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestAsk_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}, WithMaxRetries(2))

	_, err := c.Ask(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestAsk_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := c.Ask(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

// =============================================================================
// BASE PATH
// =============================================================================

func TestBasePath(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/basepath", r.URL.Path)
		fmt.Fprint(w, `{"basePath":"/app"}`)
	})

	bp, err := c.BasePath(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/app", bp.BasePath)
}

func TestBasePath_NotOK(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.BasePath(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base path response was not ok: 404")
}

// =============================================================================
// CHAT STREAMING
// =============================================================================

const streamBody = `{"choices":[{"delta":{"role":"assistant"},"context":{"thoughts":"searched"},"session_state":{"n":1},"finish_reason":null,"index":0}],"object":"chat.completion.chunk"}
{"choices":[{"delta":{"content":"The plan covers [ben"},"index":0}]}

{"choices":[{"delta":{"content":"efits.pdf] and "},"index":0}]}
{"choices":[{"delta":{"content":"more. <<What else?>>"},"index":0,"finish_reason":"stop"}]}
`

func TestChat_Streaming(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat", r.URL.Path)

		var req model.ChatAppRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprint(w, streamBody)
	})

	var buf strings.Builder
	var snapshots []answer.Parsed
	turn := model.NewTurn("q")

	err := c.Chat(context.Background(), sampleRequest(), func(chunk model.ChatAppChunk) {
		turn.ApplyChunk(chunk)
		buf.WriteString(chunk.GetContent())
		snapshots = append(snapshots, answer.Parse(buf.String(), true))
	})
	require.NoError(t, err)
	require.Len(t, snapshots, 4)

	assert.Equal(t, "The plan covers ", snapshots[1].Text)
	assert.Empty(t, snapshots[1].Citations)
	assert.Equal(t, "The plan covers <sup>1</sup> and", snapshots[2].Text)

	turn.Finalize()
	final := turn.Parse(nil)
	assert.Equal(t, "The plan covers <sup>1</sup> and more.", final.Text)
	assert.Equal(t, []string{"What else?"}, final.Followups)
	assert.Equal(t, "searched", turn.Context.Thoughts)
	assert.JSONEq(t, `{"n":1}`, string(turn.SessionState))
}

func TestChat_SSEPrefixAndDone(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n\n: keepalive\ndata: [DONE]\ndata: {\"choices\":[{\"delta\":{\"content\":\"never\"}}]}\n")
	})

	resp, err := c.ChatCollect(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "a", resp.Content())
}

func TestChat_FinalLineWithoutNewline(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"delta":{"content":"x"}}]}`+"\n"+`{"choices":[{"delta":{"content":"y"}}]}`)
	})

	resp, err := c.ChatCollect(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "xy", resp.Content())
}

func TestChat_MalformedChunkKeepsPartial(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"delta":{"content":"partial answer"}}]}`+"\n{broken\n")
	})

	resp, err := c.ChatCollect(context.Background(), sampleRequest())
	require.Error(t, err)

	var streamErr *StreamError
	require.True(t, errors.As(err, &streamErr))
	assert.Equal(t, "partial answer", streamErr.Partial)
	assert.Equal(t, "partial answer", resp.Content())
}

func TestChat_ErrorChunk(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"content filtered"}`+"\n")
	})

	err := c.Chat(context.Background(), sampleRequest(), nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "content filtered", apiErr.Message)
}

func TestChat_ErrorStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"token expired"}`)
	})

	err := c.Chat(context.Background(), sampleRequest(), nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestChat_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"delta":{"content":"first"}}]}`+"\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan string, 1)

	err := c.Chat(ctx, sampleRequest(), func(chunk model.ChatAppChunk) {
		got <- chunk.GetContent()
		cancel()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "first", <-got)
}

// =============================================================================
// CHUNK READER
// =============================================================================

func TestChunkReader(t *testing.T) {
	r := NewChunkReader(strings.NewReader("\n  one  \r\ndata:two\n:comment\n\nthree"))

	var got []string
	for {
		line, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, string(line))
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestChunkReader_LineTooLong(t *testing.T) {
	r := NewChunkReader(strings.NewReader(strings.Repeat("x", MaxLineSize+10) + "\n"))
	_, err := r.Next()
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}

// =============================================================================
// MISC
// =============================================================================

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("  ")
	assert.Equal(t, DefaultBaseURL, c.BaseURL())
	assert.Equal(t, DefaultBaseURL+"/content/a.pdf", c.CitationPath("a.pdf"))

	c = NewClient("https://x.example.com/", WithRateLimit(0, 0))
	assert.Equal(t, "https://x.example.com", c.BaseURL())
	assert.Nil(t, c.limiter)
}

func TestRateLimit_CancelledWait(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}, WithRateLimit(0.001, 1))

	_, err := c.Ask(context.Background(), sampleRequest())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Ask(ctx, sampleRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter")
}

func TestCalculateBackoff(t *testing.T) {
	assert.Equal(t, time.Second, calculateBackoff(1))
	assert.Equal(t, 2*time.Second, calculateBackoff(2))
	assert.Equal(t, retryMaxDelay, calculateBackoff(10))
}

func TestAsk_Timeout(t *testing.T) {
	release := make(chan struct{})

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, WithTimeout(50*time.Millisecond), WithMaxRetries(1))
	// Runs before the server's Close, which waits for the handler.
	t.Cleanup(func() { close(release) })

	start := time.Now()
	_, err := c.Ask(context.Background(), sampleRequest())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}
