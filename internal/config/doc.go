// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chatsync.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - BackendConfig: Remote backend address, wire mode and rate limit
//   - StorageConfig: Record/attachment storage driver selection
//   - ChatConfig: Owner identity and transcript texts
//   - LogConfig: Level and handler format
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CHATSYNC_*)
//   - ~/.chatsync/config.toml, or the file given with --config
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// React to edits:
//
//	err = config.Watch(ctx, path, func(cfg *config.Config, err error) {
//	    if err == nil {
//	        logging.SetLevel(cfg.Log.Level)
//	    }
//	})
package config
