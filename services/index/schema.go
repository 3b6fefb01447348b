// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"github.com/weaviate/weaviate/entities/models"
)

// ClassName is the Weaviate class holding chat chunks.
const ClassName = "ChatChunk"

// Named vectors: chunks carry a text vector always and an image vector
// when an image attachment embedded successfully.
const (
	TextVectorName  = "text_vector"
	ImageVectorName = "image_vector"
)

// chunkSchema returns the ChatChunk class definition.
//
// Vectors are supplied by the caller (vectorizer "none") so the index
// never re-embeds. Text is word-tokenized for BM25; every filterable
// attribute is field-tokenized or typed.
func chunkSchema() *models.Class {
	indexFilterable := boolPtr(true)
	indexSearchable := boolPtr(true)

	noVectorizer := map[string]interface{}{
		"none": map[string]interface{}{},
	}
	cosine := map[string]interface{}{"distance": "cosine"}

	return &models.Class{
		Class:       ClassName,
		Description: "A conversation chunk with its derived search attributes",
		VectorConfig: map[string]models.VectorConfig{
			TextVectorName: {
				Vectorizer:        noVectorizer,
				VectorIndexType:   "hnsw",
				VectorIndexConfig: cosine,
			},
			ImageVectorName: {
				Vectorizer:        noVectorizer,
				VectorIndexType:   "hnsw",
				VectorIndexConfig: cosine,
			},
		},
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "chunk_id",
				DataType:        []string{"text"},
				Description:     "SHA-256 of the chunk text",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "text",
				DataType:        []string{"text"},
				Description:     "Formatted conversation text, one line per message",
				IndexSearchable: indexSearchable,
				Tokenization:    "word",
			},
			{
				Name:            "chat_id",
				DataType:        []string{"text"},
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "chat_name",
				DataType:        []string{"text"},
				IndexFilterable: indexFilterable,
				IndexSearchable: indexSearchable,
				Tokenization:    "word",
			},
			{
				Name:            "sender",
				DataType:        []string{"text"},
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "sender_is_me",
				DataType:        []string{"boolean"},
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "participants",
				DataType:        []string{"text[]"},
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:     "participant_count",
				DataType: []string{"int"},
			},
			{
				Name:            "is_dm",
				DataType:        []string{"boolean"},
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "is_group_chat",
				DataType:        []string{"boolean"},
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "year",
				DataType:        []string{"int"},
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "month",
				DataType:        []string{"int"},
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "day_of_week",
				DataType:        []string{"text"},
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "hour_of_day",
				DataType:        []string{"int"},
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "has_attachment",
				DataType:        []string{"boolean"},
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "has_image",
				DataType:        []string{"boolean"},
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "start_ts",
				DataType:        []string{"int"},
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "end_ts",
				DataType:        []string{"int"},
				IndexFilterable: indexFilterable,
			},
			{
				Name:     "message_count",
				DataType: []string{"int"},
			},
		},
	}
}

func boolPtr(b bool) *bool { return &b }
