// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the citechat packages.
//
//   - AtomicWriteFile: crash-safe file replacement (config, exports)
//   - TruncateWidth, StringWidth: display-width aware text fitting for
//     follow-up and citation lines in narrow terminals
package util
