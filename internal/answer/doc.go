// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package answer interprets raw assistant text into a structured answer.
//
// An assistant answer arrives as plain text that carries two kinds of inline
// markup:
//
//   - follow-up questions wrapped in double angle brackets: <<What else?>>
//   - citations wrapped in square brackets: [benefits.pdf#page=3]
//
// Parse strips the follow-ups into their own list, replaces every complete
// citation with a numbered placeholder and records the labels in order of
// appearance. While the answer is still streaming, a trailing "[" that has not
// been closed yet is cut off so a half-typed citation never reaches the screen.
//
// # Usage
//
// Re-parse the whole buffer every time it grows:
//
//	buf += chunk
//	parsed := answer.Parse(buf, true)
//	fmt.Println(parsed.Text)      // "The plan covers <sup>1</sup> and "
//	fmt.Println(parsed.Citations) // [{1 benefits.pdf}]
//
// Once the stream ends, parse one last time with streaming set to false so a
// literal "[" in the prose is kept.
//
// Parsing is pure: no state is kept between calls and nothing is logged, so a
// Parser is safe for concurrent use.
package answer
