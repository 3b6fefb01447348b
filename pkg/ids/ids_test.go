// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ids

import (
	"strings"
	"testing"
)

func TestChunkIDDeterministic(t *testing.T) {
	a := ChunkID("[Alice 14:02] see you at 7")
	b := ChunkID("[Alice 14:02] see you at 7")
	if a != b {
		t.Fatalf("same text produced different ids: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("chunk id length = %d, want 64 hex chars", len(a))
	}
	if a == ChunkID("[Alice 14:02] see you at 8") {
		t.Fatal("different text produced the same id")
	}
}

func TestChunkIDKnownVector(t *testing.T) {
	// SHA-256 of the empty string.
	if got := ChunkID(""); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("ChunkID(\"\") = %s", got)
	}
}

func TestPointIDStable(t *testing.T) {
	hash := ChunkID("hello")
	p1 := PointID(hash)
	p2 := PointID(hash)
	if p1 != p2 {
		t.Fatalf("point id not stable: %s vs %s", p1, p2)
	}
	if strings.Count(p1, "-") != 4 {
		t.Fatalf("not a UUID: %s", p1)
	}
	// Version nibble must be 5 (name-based, SHA-1).
	if p1[14] != '5' {
		t.Errorf("uuid version = %c, want 5", p1[14])
	}
	if p1 == PointID(ChunkID("other")) {
		t.Error("distinct hashes mapped to the same point id")
	}
}
