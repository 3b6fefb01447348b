// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package index stores enriched chunks in Weaviate and serves hybrid
// lexical plus dense-vector retrieval over them.
package index

import (
	"errors"

	"github.com/stillwaterhq/recall/services/chunker"
)

// ErrStoreUnavailable wraps connectivity failures to the index backend.
// Fatal at indexer start; an operational error on the query path.
var ErrStoreUnavailable = errors.New("index store unavailable")

// Document is one chunk ready for indexing: the enriched chunk plus its
// optional vectors.
type Document struct {
	chunker.Enriched
	TextVector  []float32
	ImageVector []float32
}

// ResultDoc is the stored shape returned by searches, without vectors.
type ResultDoc struct {
	ChunkID          string   `json:"chunk_id"`
	Text             string   `json:"text"`
	ChatID           string   `json:"chat_id"`
	ChatName         string   `json:"chat_name"`
	Sender           string   `json:"sender"`
	SenderIsMe       bool     `json:"sender_is_me"`
	Participants     []string `json:"participants"`
	ParticipantCount int      `json:"participant_count"`
	IsDM             bool     `json:"is_dm"`
	IsGroupChat      bool     `json:"is_group_chat"`
	Year             int      `json:"year"`
	Month            int      `json:"month"`
	DayOfWeek        string   `json:"day_of_week"`
	HourOfDay        int      `json:"hour_of_day"`
	HasAttachment    bool     `json:"has_attachment"`
	HasImage         bool     `json:"has_image"`
	StartTs          int64    `json:"start_ts"`
	EndTs            int64    `json:"end_ts"`
	MessageCount     int      `json:"message_count"`
}

// SearchResult is one ranked hit.
type SearchResult struct {
	ID       string  // chunk content hash
	Score    float64 // backend score plus boost contributions
	Document ResultDoc
}

// Filters are the structured constraints a search may carry. Zero
// values mean "no constraint"; pointer fields distinguish false from
// unset.
type Filters struct {
	Sender       string
	SenderIsMe   *bool
	Participants []string
	ChatID       string
	ChatName     string
	IsDM         *bool
	IsGroupChat  *bool
	Year         int
	Month        int
	Months       []int
	DayOfWeek    string
	HourGte      *int
	HourLte      *int
	HasImage     *bool
	TimestampGte int64
	TimestampLte int64
}

// Exclusions are must-not constraints. The backend's where grammar has
// no negation, so these are applied to the candidate set after
// retrieval.
type Exclusions struct {
	// IsDMWith drops documents that are DMs containing the named
	// participant.
	IsDMWith []string
	Senders  []string
	ChatIDs  []string
}

// Boosts add the given amount to a document's score when the matching
// flag is set.
type Boosts struct {
	SenderIsMe  float64
	IsGroupChat float64
	IsDM        float64
}

// SearchOptions drive HybridSearch.
type SearchOptions struct {
	// SemanticQuery is embedded by the caller into TextVector; it is kept
	// here for logging only.
	SemanticQuery string
	KeywordQuery  string
	TextVector    []float32

	// Alpha balances lexical vs vector scoring; 0 is pure BM25, 1 is
	// pure vector. Zero value defaults to 0.5 when both signals exist.
	Alpha *float32

	Limit      int
	Filters    Filters
	Exclusions Exclusions
	Boosts     Boosts
}

// Stats summarizes the index.
type Stats struct {
	DocumentCount int64
	ClassName     string
}
