// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const parserSystemPrompt = `You convert natural-language questions about a personal chat history into a JSON search intent.

Output ONLY a JSON object with these fields (omit empty ones):
  query_type: one of "semantic", "keyword", "hybrid", "image", "metadata_only"
  semantic_query: rephrased text for embedding similarity
  keyword_query: literal terms for lexical match
  filters: {sender, participants, chat_name, is_dm, is_group_chat, year, month, months, day_of_week, hour_gte, hour_lte, has_image}
  exclusions: {is_dm_with, senders, chats}
  boosts: {sender_is_me, is_group_chat, is_dm}
  temporal: {relative, date_gte, date_lte} where relative is one of today, yesterday, this_week, last_week, this_month, last_month, this_year, last_year
  reasoning: one short sentence

Rules:
- "from X" means filters.sender = X. "with X" means X in filters.participants. "about X" belongs in the query text, not filters.
- day_of_week is lowercase English.
- Night hours that cross midnight (e.g. 10pm to 3am) use hour_gte=22, hour_lte=3 as-is.
- Prefer "hybrid" when the question has both topical and literal terms.`

const defaultParserModel = "gpt-4o-mini"

// chatCompleter is the slice of the OpenAI client the parser uses.
type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Parser extracts ParsedQuery values from natural language. Stateless;
// identical inputs with identical model parameters parse identically
// (temperature is pinned to zero).
type Parser struct {
	client chatCompleter
	model  string
	log    *slog.Logger
}

// NewParser builds a Parser against the OpenAI API.
func NewParser(apiKey, model string, log *slog.Logger) (*Parser, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("query: OPENAI_API_KEY not set")
	}
	if model == "" {
		model = defaultParserModel
	}
	if log == nil {
		log = slog.Default()
	}
	return &Parser{client: openai.NewClient(apiKey), model: model, log: log}, nil
}

// Parse converts the request into a ParsedQuery. Any model or decode
// failure falls back to a keyword-only query over the raw string, so a
// search always runs.
func (p *Parser) Parse(ctx context.Context, request string) ParsedQuery {
	pq, err := p.parse(ctx, request)
	if err != nil {
		p.log.Warn("query parse failed, falling back to keyword search", "error", err)
		return keywordFallback(request)
	}
	return pq
}

func (p *Parser) parse(ctx context.Context, request string) (ParsedQuery, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: parserSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: request},
		},
	})
	if err != nil {
		return ParsedQuery{}, fmt.Errorf("query: model call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return ParsedQuery{}, fmt.Errorf("query: model returned no choices")
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var pq ParsedQuery
	if err := json.Unmarshal([]byte(raw), &pq); err != nil {
		return ParsedQuery{}, fmt.Errorf("query: decode intent: %w", err)
	}
	if !validQueryType(pq.QueryType) {
		return ParsedQuery{}, fmt.Errorf("query: model produced unknown query_type %q", pq.QueryType)
	}
	if pq.SemanticQuery == "" && pq.KeywordQuery == "" && pq.QueryType != TypeMetadataOnly && pq.QueryType != TypeImage {
		pq.SemanticQuery = request
	}
	return pq, nil
}

func validQueryType(t string) bool {
	switch t {
	case TypeSemantic, TypeKeyword, TypeHybrid, TypeImage, TypeMetadataOnly:
		return true
	}
	return false
}

// keywordFallback is the QueryParseFailed disposition: a keyword-only
// search against the raw request.
func keywordFallback(request string) ParsedQuery {
	return ParsedQuery{
		QueryType:    TypeKeyword,
		KeywordQuery: request,
		Reasoning:    "parse failed; keyword fallback",
	}
}
