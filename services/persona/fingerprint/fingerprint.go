// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fingerprint computes the content version token that gates
// derived-artifact generation.
//
// The fingerprint is a SHA-256 over whitespace-normalized charter text,
// rendered as fixed-width hex. It is purely a version token: two charters
// with the same fingerprint are considered the same content, and an
// artifact whose recorded source fingerprint matches the current charter's
// fingerprint is fresh. The function must stay deterministic across process
// restarts (and across languages, if ever recomputed externally), so do not
// change the normalization rules without a data migration.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Normalize trims the text and collapses internal whitespace runs to a
// single space.
//
// # Description
//
// Normalization makes the fingerprint insensitive to editing noise
// (trailing newlines, indentation changes) that cannot affect generation
// output. Exposed so callers and tests can reason about equivalence.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Fingerprint returns the version token for the given source text.
//
// # Description
//
// Pure function with no failure mode: empty or whitespace-only input
// yields an empty token, and callers must short-circuit on an empty token
// before scheduling any work.
//
// # Inputs
//
//   - text: The charter text. May be empty.
//
// # Outputs
//
//   - string: 64-character lowercase hex SHA-256 of the normalized text,
//     or "" when the normalized text is empty.
func Fingerprint(text string) string {
	normalized := Normalize(text)
	if normalized == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
