// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides answer history persistence for citechat.
//
// Every finished turn is saved with its raw answer and the parsed result, so
// past answers can be listed, searched, shown and deleted without asking the
// backend again.
//
// # Key Types
//
//   - Store: SQLite-backed history
//   - Record: One stored question and its interpreted answer
//   - RecordMeta: Lightweight metadata for listing
//
// # Usage
//
//	store, err := storage.Open(path)
//	defer store.Close()
//	err = store.Save(ctx, turn, parsed)
//	metas, err := store.List(ctx, 20)
//	rec, err := store.Get(ctx, metas[0].ID)
//
// # Storage Location
//
// History is stored in ~/.citechat/history.db by default.
package storage
