// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the wire types exchanged with the chat backend and
// the conversation types built on top of them.
//
// # Key Types
//
//   - ChatAppRequest: body sent to /ask and /chat
//   - ChatAppResponse: a complete answer with context (thoughts, data points)
//   - ChatAppChunk: one line of a streamed /chat response
//   - Turn: one question and its (possibly streaming) answer
//   - Conversation: ordered turns plus the session state echoed by the backend
//
// # Usage
//
//	conv := model.NewConversation()
//	turn := conv.Ask("What does the plan cover?")
//	turn.AppendToken("The plan covers [a.pdf]")
//	parsed := turn.Parse(answer.NewParser())
//	conv.Finish(turn)
//	req := conv.Request(model.DefaultOverrides())
package model
