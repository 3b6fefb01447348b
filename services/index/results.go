// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// chunkQueryResponse mirrors the GraphQL Get response for ChatChunk.
type chunkQueryResponse struct {
	Get struct {
		ChatChunk []chunkResult `json:"ChatChunk"`
	} `json:"Get"`
}

type chunkResult struct {
	ResultDoc
	Additional struct {
		ID string `json:"id"`
		// Hybrid and BM25 report score as a string; vector queries
		// report certainty instead.
		Score     string   `json:"score"`
		Certainty *float32 `json:"certainty"`
	} `json:"_additional"`
}

// resultFields lists everything a search returns. Vectors are never
// requested.
func resultFields() []graphql.Field {
	return []graphql.Field{
		{Name: "chunk_id"},
		{Name: "text"},
		{Name: "chat_id"},
		{Name: "chat_name"},
		{Name: "sender"},
		{Name: "sender_is_me"},
		{Name: "participants"},
		{Name: "participant_count"},
		{Name: "is_dm"},
		{Name: "is_group_chat"},
		{Name: "year"},
		{Name: "month"},
		{Name: "day_of_week"},
		{Name: "hour_of_day"},
		{Name: "has_attachment"},
		{Name: "has_image"},
		{Name: "start_ts"},
		{Name: "end_ts"},
		{Name: "message_count"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "score"},
			{Name: "certainty"},
		}},
	}
}

// parseGraphQLResponse converts the backend's dynamic response into the
// target type through a JSON round trip.
func parseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("index: nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("index: query error: %s", resp.Errors[0].Message)
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("index: marshal response data: %w", err)
	}
	var result T
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("index: unmarshal response: %w", err)
	}
	return &result, nil
}

// parseResults converts a Get response into ranked SearchResults.
func parseResults(resp *models.GraphQLResponse) ([]SearchResult, error) {
	parsed, err := parseGraphQLResponse[chunkQueryResponse](resp)
	if err != nil {
		return nil, err
	}
	hits := make([]SearchResult, 0, len(parsed.Get.ChatChunk))
	for _, r := range parsed.Get.ChatChunk {
		hits = append(hits, SearchResult{
			ID:       r.ChunkID,
			Score:    resultScore(r),
			Document: r.ResultDoc,
		})
	}
	return hits, nil
}

func resultScore(r chunkResult) float64 {
	if r.Additional.Score != "" {
		if v, err := strconv.ParseFloat(r.Additional.Score, 64); err == nil {
			return v
		}
	}
	if r.Additional.Certainty != nil {
		return float64(*r.Additional.Certainty)
	}
	return 0
}

// parseAggregateCount digs the meta count out of an Aggregate response.
func parseAggregateCount(resp *models.GraphQLResponse) int64 {
	type aggregateResponse struct {
		Aggregate struct {
			ChatChunk []struct {
				Meta struct {
					Count int64 `json:"count"`
				} `json:"meta"`
			} `json:"ChatChunk"`
		} `json:"Aggregate"`
	}
	parsed, err := parseGraphQLResponse[aggregateResponse](resp)
	if err != nil || len(parsed.Aggregate.ChatChunk) == 0 {
		return 0
	}
	return parsed.Aggregate.ChatChunk[0].Meta.Count
}
