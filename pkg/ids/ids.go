// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ids derives deterministic identifiers for indexed chunks.
//
// A chunk is content-addressed: its id is the SHA-256 of its formatted
// text, so re-chunking the same messages always regenerates the same id.
// Stores that require UUID object ids get a UUIDv5 derived from the same
// hash under a fixed namespace, keeping the mapping stable across runs.
package ids

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// pointNamespace is the fixed UUIDv5 namespace for index object ids.
// Changing it would orphan every object written by previous versions.
var pointNamespace = uuid.MustParse("b1e7c7c2-52fd-4b8a-9a17-3d2f9f6a1c55")

// ChunkID returns the SHA-256 hex digest of the formatted chunk text.
func ChunkID(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// PointID returns the deterministic UUID for a chunk hash, suitable for
// stores that require UUID object ids.
func PointID(chunkHash string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkHash)).String()
}
