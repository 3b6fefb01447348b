// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chunker groups ordered messages into conversation chunks and
// enriches them with the metadata the index filters on.
package chunker

// Chunk is a content-addressed conversation segment: consecutive messages
// from one chat, close together in time, formatted one line per message.
//
// ID is the SHA-256 of Text, so identical formatted text always carries
// the same id regardless of when or in which batch it was produced.
type Chunk struct {
	ID            string
	Text          string
	StartTs       int64 // Unix seconds of the first message
	EndTs         int64 // Unix seconds of the last message
	Participants  []string
	ChatID        string
	GroupName     string
	IsGroupChat   bool
	MessageRowids []int64
	MessageCount  int
}

// Enriched is a Chunk plus the derived attributes stored alongside it in
// the index. Exactly one of IsDM / IsGroupChat is true.
type Enriched struct {
	Chunk

	// Sender is the primary correspondent: the most frequent non-owner
	// line author, or "Me" when every line is the owner's.
	Sender string

	// SenderIsMe is set when the owner authored a strict majority of
	// the chunk's lines.
	SenderIsMe bool

	ParticipantCount int
	IsDM             bool

	// Temporal facets derived from StartTs in the host's local zone.
	// Query-side temporal filters resolve in the same zone.
	Year      int
	Month     int    // 1..12
	DayOfWeek string // "sunday".."saturday"
	HourOfDay int    // 0..23

	HasAttachment bool
	HasImage      bool

	// ImagePaths are the resolved paths of image attachments on the
	// chunk's source messages, first one embedded at index time.
	ImagePaths []string
}

// NameResolver maps a raw handle to a display name. The contacts package
// provides the production implementation.
type NameResolver interface {
	Resolve(handle string) string
}
