// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chunker

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/stillwaterhq/recall/services/messagedb"
)

// chunkLine is one parsed "[sender HH:MM] body" line. Parsing happens
// once per line; every aggregate below works over these records.
type chunkLine struct {
	Sender string
	Hour   int
	Minute int
	Body   string
}

// parseLine splits a formatted chunk line into its tagged parts. The
// sender may contain spaces, so the clock is located from the right of
// the bracketed prefix. Lines that don't match return ok=false.
func parseLine(line string) (chunkLine, bool) {
	if !strings.HasPrefix(line, "[") {
		return chunkLine{}, false
	}
	end := strings.Index(line, "] ")
	if end < 0 {
		return chunkLine{}, false
	}
	prefix := line[1:end]
	sp := strings.LastIndex(prefix, " ")
	if sp < 0 {
		return chunkLine{}, false
	}
	clock := prefix[sp+1:]
	hh, mm, ok := strings.Cut(clock, ":")
	if !ok {
		return chunkLine{}, false
	}
	hour, err1 := strconv.Atoi(hh)
	minute, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil {
		return chunkLine{}, false
	}
	return chunkLine{
		Sender: prefix[:sp],
		Hour:   hour,
		Minute: minute,
		Body:   line[end+2:],
	}, true
}

// Enrich derives the indexable attributes of a chunk.
//
// attachmentsByMsg maps message ROWIDs to their image attachments; nil is
// fine when the caller indexes text only.
func Enrich(ch Chunk, attachmentsByMsg map[int64][]messagedb.Attachment) Enriched {
	e := Enriched{
		Chunk:            ch,
		ParticipantCount: len(ch.Participants),
		IsDM:             !ch.IsGroupChat,
	}
	e.Sender, e.SenderIsMe = primarySender(ch.Text)

	start := time.Unix(ch.StartTs, 0)
	e.Year = start.Year()
	e.Month = int(start.Month())
	e.DayOfWeek = strings.ToLower(start.Weekday().String())
	e.HourOfDay = start.Hour()

	for _, rowid := range ch.MessageRowids {
		atts := attachmentsByMsg[rowid]
		if len(atts) == 0 {
			continue
		}
		e.HasAttachment = true
		for _, a := range atts {
			if messagedb.IsImageAttachment(a.MimeType, a.Path) {
				e.HasImage = true
				e.ImagePaths = append(e.ImagePaths, a.Path)
			}
		}
	}
	return e
}

// primarySender picks the chunk's primary correspondent.
//
// The most frequent non-owner line author wins (ties break to the
// lexicographically smallest name so reruns agree). A chunk with only
// owner lines belongs to the owner. senderIsMe is set when the owner
// authored a strict majority of lines either way.
func primarySender(text string) (sender string, senderIsMe bool) {
	counts := make(map[string]int)
	total := 0
	for _, raw := range strings.Split(text, "\n") {
		line, ok := parseLine(raw)
		if !ok {
			continue
		}
		counts[line.Sender]++
		total++
	}

	var others []string
	for name := range counts {
		if name != OwnerName {
			others = append(others, name)
		}
	}
	sort.Strings(others)

	best := ""
	for _, name := range others {
		if best == "" || counts[name] > counts[best] {
			best = name
		}
	}
	if best == "" {
		best = OwnerName
	}

	ownerMajority := counts[OwnerName]*2 > total && total > 0
	if best == OwnerName {
		return OwnerName, true
	}
	return best, ownerMajority
}
