// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package generator abstracts the expensive external generation calls
// that produce derived artifacts.
//
// The pipeline treats generators as slow (seconds) and unreliable
// (timeouts, malformed output). A Generate error or an empty value is a
// content-quality failure: the worker clears the claim, keeps the
// last-known-good value, and does not retry — the next charter write or
// backfill sweep is the retry path.
package generator

import (
	"context"

	"github.com/glasswing-ai/aviary/services/persona/artifact"
)

// Request carries everything a generator needs for one artifact.
//
// # Fields
//
//   - Kind: The artifact descriptor being generated.
//   - Charter: The agent's current charter text (never empty; the
//     scheduler short-circuits empty charters).
//   - Prerequisite: The already-produced value of the kind's prerequisite
//     artifact, zero if the kind has none or it has not been produced yet.
type Request struct {
	Kind         artifact.Descriptor
	Charter      string
	Prerequisite artifact.Value
}

// Generator produces artifact values from charter text.
type Generator interface {
	// Generate produces a value for the requested artifact kind.
	//
	// # Outputs
	//
	//   - artifact.Value: The produced value. A zero value is treated as
	//     a failure by the worker even when error is nil.
	//   - error: Non-nil on API errors, timeouts, or unusable output.
	Generate(ctx context.Context, req Request) (artifact.Value, error)
}

// Func adapts a plain function to the Generator interface. Handy for
// tests and for wiring fakes.
type Func func(ctx context.Context, req Request) (artifact.Value, error)

// Generate implements Generator.
func (f Func) Generate(ctx context.Context, req Request) (artifact.Value, error) {
	return f(ctx, req)
}
