// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package query turns natural-language requests into structured index
// searches: an LLM parse step, temporal resolution, person and chat
// resolution, then execution against the index store.
package query

import "errors"

// ErrTimeout marks a query that exceeded its deadline. No partial state
// is left behind.
var ErrTimeout = errors.New("query timed out")

// Query types produced by the parser.
const (
	TypeSemantic     = "semantic"
	TypeKeyword      = "keyword"
	TypeHybrid       = "hybrid"
	TypeImage        = "image"
	TypeMetadataOnly = "metadata_only"
)

// ParsedQuery is the structured intent extracted from a natural-language
// request. Field names match the JSON contract given to the model.
type ParsedQuery struct {
	QueryType     string          `json:"query_type"`
	SemanticQuery string          `json:"semantic_query,omitempty"`
	KeywordQuery  string          `json:"keyword_query,omitempty"`
	Filters       QueryFilters    `json:"filters"`
	Exclusions    QueryExclusions `json:"exclusions"`
	Boosts        QueryBoosts     `json:"boosts"`
	Temporal      *TemporalFilter `json:"temporal,omitempty"`
	Reasoning     string          `json:"reasoning,omitempty"`
}

// QueryFilters are the pre-resolution constraints. Sender and
// participants hold names as the user said them; the engine resolves
// them through the chat graph before the index sees them.
type QueryFilters struct {
	Sender       string   `json:"sender,omitempty"`
	Participants []string `json:"participants,omitempty"`
	ChatName     string   `json:"chat_name,omitempty"`
	IsDM         *bool    `json:"is_dm,omitempty"`
	IsGroupChat  *bool    `json:"is_group_chat,omitempty"`
	Year         int      `json:"year,omitempty"`
	Month        int      `json:"month,omitempty"`
	Months       []int    `json:"months,omitempty"`
	DayOfWeek    string   `json:"day_of_week,omitempty"`
	HourGte      *int     `json:"hour_gte,omitempty"`
	HourLte      *int     `json:"hour_lte,omitempty"`
	HasImage     *bool    `json:"has_image,omitempty"`
}

// QueryExclusions are must-not constraints by name.
type QueryExclusions struct {
	IsDMWith []string `json:"is_dm_with,omitempty"`
	Senders  []string `json:"senders,omitempty"`
	Chats    []string `json:"chats,omitempty"`
}

// QueryBoosts weight matching documents upward.
type QueryBoosts struct {
	SenderIsMe  float64 `json:"sender_is_me,omitempty"`
	IsGroupChat float64 `json:"is_group_chat,omitempty"`
	IsDM        float64 `json:"is_dm,omitempty"`
}

// TemporalFilter carries either a relative token or explicit ISO date
// bounds.
type TemporalFilter struct {
	Relative string `json:"relative,omitempty"`
	DateGte  string `json:"date_gte,omitempty"`
	DateLte  string `json:"date_lte,omitempty"`
}

// FormattedResult is one search hit rendered for display.
type FormattedResult struct {
	ID           string   `json:"id"`
	Score        float64  `json:"score"`
	Text         string   `json:"text"`
	Sender       string   `json:"sender"`
	Participants []string `json:"participants"`
	ChatHeader   string   `json:"chat_header"`
	When         string   `json:"when"`
	StartTs      int64    `json:"start_ts"`
	HasImage     bool     `json:"has_image"`
}
