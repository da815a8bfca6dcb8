// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides utility functions shared across chatd.
//
// This package contains common helper functions used throughout the
// service for string manipulation and HTTP header hygiene.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe string truncation with ellipsis
//   - RuneLen: character count for UTF-8 strings
//
// HTTP Utilities:
//   - SanitizeHeaderValue: strips CR/LF from values echoed in headers
//
// # Usage
//
//	// Truncate long strings safely for previews
//	preview := util.TruncateRunes(longText, 50)
//
//	// Echo user-controlled text in a response header safely
//	w.Header().Set("X-Chat-Title", util.SanitizeHeaderValue(title))
package util
