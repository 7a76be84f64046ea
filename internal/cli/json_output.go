// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// json_output.go - JSON output support for scripting.
//
// Every command that honors --json wraps its result in the same envelope so
// that callers can check "success" without knowing the command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jeranaias/citechat/internal/answer"
	"github.com/jeranaias/citechat/internal/citation"
	"github.com/jeranaias/citechat/internal/storage"
)

// JSONResponse is the standardized response format for all CLI commands.
type JSONResponse struct {
	// Success indicates whether the command completed successfully
	Success bool `json:"success"`

	// Data contains the command-specific response data
	Data interface{} `json:"data"`

	// Error contains the error message if Success is false, null otherwise
	Error *string `json:"error"`

	// Timestamp is the RFC3339 time the response was generated
	Timestamp string `json:"timestamp"`

	// Command is the command that was executed
	Command string `json:"command,omitempty"`
}

// NewJSONResponse creates a new successful JSON response.
func NewJSONResponse(command string, data interface{}) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a new error JSON response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	errStr := err.Error()
	return &JSONResponse{
		Success:   false,
		Error:     &errStr,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Write encodes the response, indented, to w.
func (r *JSONResponse) Write(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// String returns the JSON response as a string.
func (r *JSONResponse) String() string {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":"failed to marshal response: %s","timestamp":"%s"}`,
			err.Error(), time.Now().UTC().Format(time.RFC3339))
	}
	return string(data)
}

// =============================================================================
// COMMAND-SPECIFIC DATA STRUCTURES
// =============================================================================

// AnswerData is the interpreted answer emitted by "ask --json" and
// "parse --json".
type AnswerData struct {
	Text      string            `json:"text"`
	Followups []string          `json:"followups"`
	Citations []answer.Citation `json:"citations"`
	Refs      []citation.Ref    `json:"refs,omitempty"`
}

// NewAnswerData builds AnswerData from a parse result. Refs are added when
// resolver is non-nil.
func NewAnswerData(parsed answer.Parsed, resolver *citation.Resolver) AnswerData {
	data := AnswerData{
		Text:      parsed.Text,
		Followups: parsed.Followups,
		Citations: parsed.Citations,
	}
	if data.Followups == nil {
		data.Followups = []string{}
	}
	if data.Citations == nil {
		data.Citations = []answer.Citation{}
	}
	if resolver != nil {
		data.Refs = resolver.Refs(parsed)
	}
	return data
}

// AskData is the data returned by "ask --json".
type AskData struct {
	AnswerData
	ID         string `json:"id"`
	Question   string `json:"question"`
	Raw        string `json:"raw"`
	Thoughts   string `json:"thoughts,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Saved      bool   `json:"saved"`
}

// HistoryListData is the data returned by "history list --json".
type HistoryListData struct {
	Count   int                  `json:"count"`
	Answers []storage.RecordMeta `json:"answers"`
}

// ConfigValueData is the data returned by "config get --json".
type ConfigValueData struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}
