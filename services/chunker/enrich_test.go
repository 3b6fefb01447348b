// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chunker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillwaterhq/recall/services/messagedb"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want chunkLine
		ok   bool
	}{
		{
			name: "simple",
			in:   "[Alice 14:32] lunch tomorrow?",
			want: chunkLine{Sender: "Alice", Hour: 14, Minute: 32, Body: "lunch tomorrow?"},
			ok:   true,
		},
		{
			name: "sender with spaces",
			in:   "[Alice Nguyen 09:05] sure thing",
			want: chunkLine{Sender: "Alice Nguyen", Hour: 9, Minute: 5, Body: "sure thing"},
			ok:   true,
		},
		{
			name: "owner",
			in:   "[Me 23:59] heading out",
			want: chunkLine{Sender: "Me", Hour: 23, Minute: 59, Body: "heading out"},
			ok:   true,
		},
		{
			name: "body with brackets",
			in:   "[Bob 10:00] see [this link] later",
			want: chunkLine{Sender: "Bob", Hour: 10, Minute: 0, Body: "see [this link] later"},
			ok:   true,
		},
		{name: "no prefix", in: "plain text", ok: false},
		{name: "no clock", in: "[Alice] hello", ok: false},
		{name: "bad clock", in: "[Alice ab:cd] hello", ok: false},
		{name: "empty", in: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseLine(tt.in)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestPrimarySender(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantSender string
		wantIsMe   bool
	}{
		{
			name:       "most frequent other wins",
			text:       "[Alice 10:00] one\n[Alice 10:01] two\n[Bob 10:02] three",
			wantSender: "Alice",
			wantIsMe:   false,
		},
		{
			name:       "tie breaks lexicographically",
			text:       "[Bob 10:00] one\n[Alice 10:01] two",
			wantSender: "Alice",
			wantIsMe:   false,
		},
		{
			name:       "owner lines do not displace others",
			text:       "[Me 10:00] a\n[Me 10:01] b\n[Alice 10:02] c",
			wantSender: "Alice",
			wantIsMe:   true, // owner holds a strict majority
		},
		{
			name:       "owner exactly half is not a majority",
			text:       "[Me 10:00] a\n[Alice 10:01] b",
			wantSender: "Alice",
			wantIsMe:   false,
		},
		{
			name:       "all owner",
			text:       "[Me 10:00] note to self\n[Me 10:01] another",
			wantSender: "Me",
			wantIsMe:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender, isMe := primarySender(tt.text)
			assert.Equal(t, tt.wantSender, sender)
			assert.Equal(t, tt.wantIsMe, isMe)
		})
	}
}

func TestEnrichTemporalFacets(t *testing.T) {
	start := time.Date(2024, 3, 9, 22, 15, 0, 0, time.Local) // a Saturday
	ch := Chunk{
		ID:      "abc",
		Text:    "[Alice 22:15] late night thought",
		StartTs: start.Unix(),
		EndTs:   start.Unix(),
	}

	e := Enrich(ch, nil)
	assert.Equal(t, 2024, e.Year)
	assert.Equal(t, 3, e.Month)
	assert.Equal(t, "saturday", e.DayOfWeek)
	assert.Equal(t, 22, e.HourOfDay)
	assert.Equal(t, "Alice", e.Sender)
	assert.False(t, e.SenderIsMe)
}

func TestEnrichDMGroupExclusive(t *testing.T) {
	dm := Enrich(Chunk{IsGroupChat: false, Participants: []string{"Alice", "Me"}, Text: "[Alice 10:00] hi"}, nil)
	assert.True(t, dm.IsDM)
	assert.False(t, dm.IsGroupChat)
	assert.Equal(t, 2, dm.ParticipantCount)

	group := Enrich(Chunk{IsGroupChat: true, Participants: []string{"Alice", "Bob", "Me"}, Text: "[Alice 10:00] hi"}, nil)
	assert.False(t, group.IsDM)
	assert.True(t, group.IsGroupChat)
	assert.Equal(t, 3, group.ParticipantCount)
}

func TestEnrichAttachments(t *testing.T) {
	ch := Chunk{
		Text:          "[Alice 10:00] check this out",
		MessageRowids: []int64{7, 8},
	}
	atts := map[int64][]messagedb.Attachment{
		7: {
			{Path: "/att/photo.heic", MimeType: "image/heic"},
			{Path: "/att/doc.pdf", MimeType: "application/pdf"},
		},
	}

	e := Enrich(ch, atts)
	assert.True(t, e.HasAttachment)
	assert.True(t, e.HasImage)
	assert.Equal(t, []string{"/att/photo.heic"}, e.ImagePaths)

	// Non-image attachments still flag HasAttachment.
	onlyDoc := Enrich(ch, map[int64][]messagedb.Attachment{
		8: {{Path: "/att/doc.pdf", MimeType: "application/pdf"}},
	})
	assert.True(t, onlyDoc.HasAttachment)
	assert.False(t, onlyDoc.HasImage)
	assert.Empty(t, onlyDoc.ImagePaths)

	// No attachments at all.
	none := Enrich(ch, nil)
	assert.False(t, none.HasAttachment)
	assert.False(t, none.HasImage)
}
