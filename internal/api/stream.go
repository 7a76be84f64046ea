// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/citechat/internal/model"
)

// StreamCallback is called once per decoded chunk, in order.
type StreamCallback func(chunk model.ChatAppChunk)

// MaxLineSize is the longest single chunk line accepted from a stream.
const MaxLineSize = 1024 * 1024

// =============================================================================
// CHUNK READER
// =============================================================================

// ChunkReader splits a /chat response body into JSON chunk payloads.
// Each non-blank line is one payload; an SSE style "data:" prefix is
// stripped if present.
type ChunkReader struct {
	reader *bufio.Reader
}

// NewChunkReader creates a ChunkReader over r.
func NewChunkReader(r io.Reader) *ChunkReader {
	return &ChunkReader{reader: bufio.NewReader(r)}
}

// Next returns the next payload, or io.EOF when the stream ends.
func (r *ChunkReader) Next() ([]byte, error) {
	for {
		line, err := r.readLine()
		if len(line) > 0 {
			line = bytes.TrimSpace(line)
			if bytes.HasPrefix(line, []byte("data:")) {
				line = bytes.TrimSpace(line[len("data:"):])
			}
			if len(line) > 0 && line[0] != ':' {
				return line, nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

// readLine reads up to the next newline. A final line without a newline is
// returned together with io.EOF on the following call.
func (r *ChunkReader) readLine() ([]byte, error) {
	var buf []byte
	for {
		part, err := r.reader.ReadSlice('\n')
		buf = append(buf, part...)
		if len(buf) > MaxLineSize {
			return nil, fmt.Errorf("stream line exceeds %d bytes", MaxLineSize)
		}
		switch {
		case err == nil:
			return buf, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(buf) > 0:
			return buf, nil
		default:
			return buf, err
		}
	}
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// Chat requests a streamed answer and calls callback for every chunk.
// It returns when the stream ends, a chunk reports a finish reason, the
// context is cancelled or the body cannot be decoded. Mid-stream failures are
// returned as *StreamError carrying the text received so far.
func (c *Client) Chat(ctx context.Context, body model.ChatAppRequest, callback StreamCallback) error {
	body.Stream = true

	resp, err := c.openStream(ctx, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return c.processStream(ctx, resp.Body, callback)
}

// openStream sends the request, retrying transient failures until the
// backend starts answering.
func (c *Client) openStream(ctx context.Context, body model.ChatAppRequest) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.backoff(attempt)):
			}
		}

		req, err := c.newRequest(ctx, http.MethodPost, "chat", body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/x-ndjson")

		resp, err := c.do(ctx, c.streaming, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode <= 299 {
			return resp, nil
		}

		data, _ := readResponse(resp)
		resp.Body.Close()

		lastErr = errorFromBody(resp.StatusCode, data)
		if !isRetryable(lastErr) {
			return nil, lastErr
		}
		c.logger.Debug("retrying stream", zap.Int("attempt", attempt+1), zap.Error(lastErr))
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// processStream decodes chunks from body until the stream ends.
func (c *Client) processStream(ctx context.Context, body io.Reader, callback StreamCallback) error {
	reader := NewChunkReader(body)
	var partial strings.Builder

	fail := func(err error) error {
		return &StreamError{Partial: partial.String(), Err: err}
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		data, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return fail(ctxErr)
			}
			return fail(err)
		}

		if bytes.Equal(data, []byte("[DONE]")) {
			return nil
		}

		var chunk model.ChatAppChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			c.logger.Warn("undecodable stream chunk", zap.Int("bytes", len(data)), zap.Error(err))
			return fail(fmt.Errorf("failed to decode chunk: %w", err))
		}
		if chunk.Error != "" {
			return fail(&APIError{Status: http.StatusOK, Message: chunk.Error})
		}

		partial.WriteString(chunk.GetContent())
		if callback != nil {
			callback(chunk)
		}

		if chunk.IsDone() {
			return nil
		}
	}
}

// =============================================================================
// ACCUMULATION
// =============================================================================

// StreamAccumulator folds streamed chunks into a complete response.
type StreamAccumulator struct {
	content      strings.Builder
	context      model.ResponseContext
	sessionState json.RawMessage
	finishReason string
	chunks       int
}

// NewStreamAccumulator creates an empty accumulator.
func NewStreamAccumulator() *StreamAccumulator {
	return &StreamAccumulator{}
}

// Add processes one chunk.
func (a *StreamAccumulator) Add(chunk model.ChatAppChunk) {
	a.chunks++
	if ctx, ok := chunk.GetContext(); ok {
		a.context = ctx
	}
	if len(chunk.Choices) > 0 {
		choice := chunk.Choices[0]
		if len(choice.SessionState) > 0 && string(choice.SessionState) != "null" {
			a.sessionState = choice.SessionState
		}
		if choice.FinishReason != nil {
			a.finishReason = *choice.FinishReason
		}
	}
	a.content.WriteString(chunk.GetContent())
}

// Callback returns a StreamCallback that feeds this accumulator.
func (a *StreamAccumulator) Callback() StreamCallback {
	return a.Add
}

// Content returns the text received so far.
func (a *StreamAccumulator) Content() string {
	return a.content.String()
}

// Chunks returns the number of chunks seen.
func (a *StreamAccumulator) Chunks() int {
	return a.chunks
}

// Response returns the accumulated answer as a complete response.
func (a *StreamAccumulator) Response() model.ChatAppResponse {
	return model.ChatAppResponse{Choices: []model.ResponseChoice{{
		Message:      model.ResponseMessage{Content: a.content.String(), Role: model.RoleAssistant},
		Context:      a.context,
		SessionState: a.sessionState,
		FinishReason: a.finishReason,
	}}}
}

// ChatCollect streams an answer and returns it once complete.
func (c *Client) ChatCollect(ctx context.Context, body model.ChatAppRequest) (model.ChatAppResponse, error) {
	acc := NewStreamAccumulator()
	if err := c.Chat(ctx, body, acc.Callback()); err != nil {
		return acc.Response(), err
	}
	return acc.Response(), nil
}
