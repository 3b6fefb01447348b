// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package query

import (
	"context"
	"errors"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedLLM struct {
	content string
	err     error
}

func (s scriptedLLM) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if s.err != nil {
		return openai.ChatCompletionResponse{}, s.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.content}},
		},
	}, nil
}

func newParser(llm chatCompleter) *Parser {
	return &Parser{client: llm, model: defaultParserModel, log: testLogger()}
}

func TestParseWellFormed(t *testing.T) {
	p := newParser(scriptedLLM{content: `{
		"query_type": "hybrid",
		"semantic_query": "dinner plans with alice",
		"keyword_query": "dinner",
		"filters": {"sender": "Alice", "day_of_week": "friday"},
		"boosts": {"sender_is_me": 2},
		"temporal": {"relative": "last_month"},
		"reasoning": "topical plus literal terms"
	}`})

	pq := p.Parse(context.Background(), "dinner with alice last month")
	assert.Equal(t, TypeHybrid, pq.QueryType)
	assert.Equal(t, "dinner", pq.KeywordQuery)
	assert.Equal(t, "Alice", pq.Filters.Sender)
	assert.Equal(t, 2.0, pq.Boosts.SenderIsMe)
	require.NotNil(t, pq.Temporal)
	assert.Equal(t, "last_month", pq.Temporal.Relative)
}

func TestParseStripsCodeFence(t *testing.T) {
	p := newParser(scriptedLLM{content: "```json\n{\"query_type\": \"keyword\", \"keyword_query\": \"rent\"}\n```"})
	pq := p.Parse(context.Background(), "rent")
	assert.Equal(t, TypeKeyword, pq.QueryType)
	assert.Equal(t, "rent", pq.KeywordQuery)
}

func TestParseFallsBackOnModelError(t *testing.T) {
	p := newParser(scriptedLLM{err: errors.New("rate limited")})
	pq := p.Parse(context.Background(), "what did bob say")
	assert.Equal(t, TypeKeyword, pq.QueryType)
	assert.Equal(t, "what did bob say", pq.KeywordQuery)
}

func TestParseFallsBackOnGarbage(t *testing.T) {
	p := newParser(scriptedLLM{content: "sorry, I can't do that"})
	pq := p.Parse(context.Background(), "photos from the trip")
	assert.Equal(t, TypeKeyword, pq.QueryType)
	assert.Equal(t, "photos from the trip", pq.KeywordQuery)
}

func TestParseFallsBackOnUnknownType(t *testing.T) {
	p := newParser(scriptedLLM{content: `{"query_type": "telepathic"}`})
	pq := p.Parse(context.Background(), "anything")
	assert.Equal(t, TypeKeyword, pq.QueryType)
}

func TestParseBackfillsSemanticQuery(t *testing.T) {
	p := newParser(scriptedLLM{content: `{"query_type": "semantic"}`})
	pq := p.Parse(context.Background(), "feelings about the move")
	assert.Equal(t, "feelings about the move", pq.SemanticQuery)
}
