// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chatd.
//
// Supports TOML configuration with sensible defaults and environment
// variable overrides.
//
// Configuration file locations (in order of precedence):
//   - path passed explicitly to LoadFrom
//   - ~/.chatd/config.toml
//   - built-in defaults
//
// Environment overrides (applied last):
//   - CHATD_ADDR:       server listen address
//   - CHATD_DB_PATH:    SQLite database path
//   - CHATD_MODEL:      default model identifier
//   - GEMINI_API_KEY:   model collaborator credential
package config
