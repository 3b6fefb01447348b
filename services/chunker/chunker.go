// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chunker

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/stillwaterhq/recall/pkg/ids"
	"github.com/stillwaterhq/recall/services/messagedb"
)

const (
	// MaxGapSeconds splits a chunk when consecutive messages are this far
	// apart: a five-minute silence starts a new conversational beat.
	MaxGapSeconds = 300

	// MaxMessages bounds a chunk's line count.
	MaxMessages = 10

	// MaxChunkChars flushes a chunk once its running text reaches this
	// length. The final message may push the text slightly past it.
	MaxChunkChars = 1000

	// MaxMessageChars truncates any single message before formatting.
	MaxMessageChars = 2000

	// Minimum useful chunk sizes. Anything shorter is noise ("ok", a
	// lone emoji) that only pollutes the index.
	minChunkChars         = 20
	minSingleMessageChars = 50

	truncationMarker = "... [truncated]"

	// OwnerName is how the machine's user appears in chunk lines and
	// participant sets.
	OwnerName = "Me"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Chunker turns batches of raw messages into filtered, deduplicated chunks.
type Chunker struct {
	resolver NameResolver
}

// New creates a Chunker that resolves sender handles through resolver.
func New(resolver NameResolver) *Chunker {
	return &Chunker{resolver: resolver}
}

// Chunk groups a batch of messages into conversation chunks.
//
// Messages are partitioned by chat, ordered by timestamp (ROWID breaks
// ties), then split on time gaps and size limits. The output is fully
// deterministic for a given input batch: chunk order follows chat id,
// then time.
//
// seen is the set of chunk hashes already indexed; chunks whose hash is
// present are dropped, and new hashes are added to the set as the batch
// proceeds so a duplicate later in the same batch is also dropped.
func (c *Chunker) Chunk(messages []messagedb.RawMessage, seen map[string]bool) []Chunk {
	byChat := make(map[string][]messagedb.RawMessage)
	for _, m := range messages {
		byChat[m.ChatID] = append(byChat[m.ChatID], m)
	}
	chatIDs := make([]string, 0, len(byChat))
	for id := range byChat {
		chatIDs = append(chatIDs, id)
	}
	sort.Strings(chatIDs)

	var out []Chunk
	for _, chatID := range chatIDs {
		msgs := byChat[chatID]
		sort.SliceStable(msgs, func(i, j int) bool {
			if msgs[i].Timestamp != msgs[j].Timestamp {
				return msgs[i].Timestamp < msgs[j].Timestamp
			}
			return msgs[i].Rowid < msgs[j].Rowid
		})
		for _, chunk := range c.splitChat(msgs) {
			if !keepChunk(chunk) {
				continue
			}
			if seen != nil {
				if seen[chunk.ID] {
					continue
				}
				seen[chunk.ID] = true
			}
			out = append(out, chunk)
		}
	}
	return out
}

// splitChat walks one chat's ordered messages, cutting on gaps and limits.
func (c *Chunker) splitChat(msgs []messagedb.RawMessage) []Chunk {
	var (
		chunks  []Chunk
		current []messagedb.RawMessage
		lines   []string
		length  int
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, c.build(current, lines))
		current, lines, length = nil, nil, 0
	}
	for _, m := range msgs {
		if len(current) > 0 {
			gap := m.Timestamp - current[len(current)-1].Timestamp
			if gap >= MaxGapSeconds || len(current) >= MaxMessages || length >= MaxChunkChars {
				flush()
			}
		}
		line := c.formatLine(m)
		current = append(current, m)
		lines = append(lines, line)
		length += len(line) + 1
	}
	flush()
	return chunks
}

// formatLine renders one message as "[sender HH:MM] text".
func (c *Chunker) formatLine(m messagedb.RawMessage) string {
	sender := c.senderName(m)
	clock := time.Unix(m.Timestamp, 0).Format("15:04")
	return fmt.Sprintf("[%s %s] %s", sender, clock, normalizeText(m.Text))
}

func (c *Chunker) senderName(m messagedb.RawMessage) string {
	if m.IsFromMe {
		return OwnerName
	}
	if m.HandleID == "" {
		return "Unknown"
	}
	return c.resolver.Resolve(m.HandleID)
}

func (c *Chunker) build(msgs []messagedb.RawMessage, lines []string) Chunk {
	text := strings.Join(lines, "\n")

	participantSet := make(map[string]bool)
	for _, m := range msgs {
		participantSet[c.senderName(m)] = true
	}
	participants := make([]string, 0, len(participantSet))
	for p := range participantSet {
		participants = append(participants, p)
	}
	sort.Strings(participants)

	rowids := make([]int64, len(msgs))
	for i, m := range msgs {
		rowids[i] = m.Rowid
	}

	groupName := msgs[0].GroupName
	return Chunk{
		ID:            ids.ChunkID(text),
		Text:          text,
		StartTs:       msgs[0].Timestamp,
		EndTs:         msgs[len(msgs)-1].Timestamp,
		Participants:  participants,
		ChatID:        msgs[0].ChatID,
		GroupName:     groupName,
		IsGroupChat:   groupName != "" || len(participants) > 2,
		MessageRowids: rowids,
		MessageCount:  len(msgs),
	}
}

// keepChunk applies the noise filters: chunks under 20 characters, and
// single-message chunks under 50, are dropped.
func keepChunk(ch Chunk) bool {
	if len(ch.Text) < minChunkChars {
		return false
	}
	if ch.MessageCount == 1 && len(ch.Text) < minSingleMessageChars {
		return false
	}
	return true
}

// normalizeText trims, collapses internal whitespace, and truncates
// oversized messages with an explicit marker.
func normalizeText(text string) string {
	text = whitespaceRun.ReplaceAllString(strings.TrimSpace(text), " ")
	if len(text) > MaxMessageChars {
		cut := MaxMessageChars
		for cut > 0 && !isRuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + truncationMarker
	}
	return text
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
