// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides local persistence backends for chatsync.
//
// SQLiteStore keeps sessions and message histories in a single SQLite file
// and can stand in for the remote session record store. BlobStore writes
// uploaded attachments under a directory and hands out file:// URLs.
//
// # Usage
//
//	records, err := storage.OpenSQLite("~/.chatsync/chatsync.db")
//	defer records.Close()
//	blobs, err := storage.NewBlobStore("~/.chatsync/blobs")
//
// Messages are stored in backend vocabulary (agent turns use the
// "assistant" role) and are normalized on the way out like any remote
// history.
package storage
