// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package artifact defines the derived-artifact kinds an agent carries and
// the static registry that describes how they relate to each other.
//
// Every agent has a free-text charter. Each artifact kind is a presentation
// attribute derived from that charter by an expensive generator call: a
// one-line description, an ultra-short label, classification tags, a stable
// visual identity description, and a rendered avatar image.
//
// Kinds are registered once at process start. A kind may declare a
// prerequisite kind (the avatar is rendered from the visual description);
// the resulting dependency graph must be acyclic and is validated when the
// registry is built.
package artifact

// Kind identifies one derived artifact of an agent.
//
// # Description
//
// Kinds are stable string identifiers used in storage keys, queue job
// descriptors, logs, and metric labels. Never rename a kind once data
// exists for it.
type Kind string

const (
	// KindShortDescription is a one-line description of the agent.
	KindShortDescription Kind = "short_description"

	// KindLabel is an ultra-short (2-3 word) label for list views.
	KindLabel Kind = "label"

	// KindTags is a small set of classification tags.
	KindTags Kind = "tags"

	// KindVisualDescription is a stable textual visual identity, used as
	// the prompt for avatar rendering.
	KindVisualDescription Kind = "visual_description"

	// KindAvatar is the rendered avatar image. Depends on
	// KindVisualDescription.
	KindAvatar Kind = "avatar"
)

// Shape describes the value representation an artifact kind produces.
type Shape int

const (
	// ShapeText is a single string value.
	ShapeText Shape = iota

	// ShapeTextList is an ordered list of short strings (e.g. tags).
	ShapeTextList

	// ShapeBlob is a binary payload plus content type (e.g. a PNG avatar).
	ShapeBlob
)

// String returns the human-readable name of the shape.
func (s Shape) String() string {
	switch s {
	case ShapeText:
		return "text"
	case ShapeTextList:
		return "text_list"
	case ShapeBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// Value is the produced artifact payload.
//
// # Description
//
// Exactly one of Text, List, or Blob is populated depending on the kind's
// Shape. ContentType accompanies Blob values. A zero Value means the
// artifact has never been produced (or the generator returned nothing,
// which callers treat as a failure).
type Value struct {
	Text        string   `json:"text,omitempty"`
	List        []string `json:"list,omitempty"`
	Blob        []byte   `json:"blob,omitempty"`
	ContentType string   `json:"content_type,omitempty"`
}

// IsZero reports whether the value carries no payload at all.
func (v Value) IsZero() bool {
	return v.Text == "" && len(v.List) == 0 && len(v.Blob) == 0
}

// TextValue builds a ShapeText value.
func TextValue(s string) Value { return Value{Text: s} }

// ListValue builds a ShapeTextList value.
func ListValue(items []string) Value { return Value{List: items} }

// BlobValue builds a ShapeBlob value.
func BlobValue(data []byte, contentType string) Value {
	return Value{Blob: data, ContentType: contentType}
}

// Descriptor describes one artifact kind.
//
// # Fields
//
//   - Kind: Stable identifier for the artifact.
//   - Shape: The value representation the generator must produce.
//   - Requires: Optional prerequisite kind. When the prerequisite finishes
//     generating, the scheduler is invoked for this kind. Empty means the
//     kind depends only on the charter.
type Descriptor struct {
	Kind     Kind
	Shape    Shape
	Requires Kind
}
