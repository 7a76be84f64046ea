// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render turns parsed answers into something a person can read.
//
// HTMLRenderer produces sanitised HTML for browsers: markdown via goldmark
// (GitHub flavoured), fenced code highlighted by chroma, and everything
// passed through a bluemonday policy. TerminalRenderer uses glamour for the
// markdown and lipgloss for the citation and follow-up lists. PlainRenderer
// writes the same layout without any escape codes.
package render
