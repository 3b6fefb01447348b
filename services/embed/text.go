// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package embed produces the dense vectors the index stores: batched
// text embeddings from an OpenAI-compatible provider and per-image
// embeddings from a local vision service.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sashabaranov/go-openai"
)

// ErrTransient marks embedding failures worth retrying: network faults,
// rate limits, upstream 5xx. Callers retry the batch once and then give
// up for the run.
var ErrTransient = errors.New("transient embedding failure")

const (
	// TextDimension is D_T, fixed at index creation.
	TextDimension = 1536

	defaultTextModel = string(openai.SmallEmbedding3)

	retryBaseDelay = 2 * time.Second
)

// embeddingAPI is the slice of the OpenAI client the text embedder uses.
type embeddingAPI interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// TextEmbedder turns batches of strings into cosine-compatible unit
// vectors of TextDimension.
type TextEmbedder struct {
	client embeddingAPI
	model  string
	log    *slog.Logger
}

// NewTextEmbedder builds an embedder against the OpenAI API.
func NewTextEmbedder(apiKey, model string, log *slog.Logger) (*TextEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embed: OPENAI_API_KEY not set")
	}
	if model == "" {
		model = defaultTextModel
	}
	if log == nil {
		log = slog.Default()
	}
	log.Debug("text embedder ready", "model", model, "dimension", TextDimension)
	return &TextEmbedder{client: openai.NewClient(apiKey), model: model, log: log}, nil
}

// Dimension returns D_T.
func (e *TextEmbedder) Dimension() int {
	return TextDimension
}

// EmbedBatch embeds texts in order, returning one vector per input.
//
// Empty strings are coerced to a single space so the provider never sees
// ill-formed input. A failed call is retried once with backoff; a second
// failure surfaces as ErrTransient so the indexer can resume from the
// persisted cursor on its next run.
func (e *TextEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	input := make([]string, len(texts))
	for i, t := range texts {
		if t == "" {
			t = " "
		}
		input[i] = t
	}

	req := openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(e.model),
		Input:      input,
		Dimensions: TextDimension,
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		e.log.Warn("embedding batch failed, retrying once", "size", len(texts), "error", err)
		select {
		case <-time.After(retryBaseDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		resp, err = e.client.CreateEmbeddings(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("%w: batch of %d: %v", ErrTransient, len(texts), err)
		}
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrTransient, len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrTransient, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// EmbedKeyed satisfies the cache's embedder shape without a cache in
// front: the keys are ignored and every text is embedded fresh.
func (e *TextEmbedder) EmbedKeyed(ctx context.Context, _, texts []string) ([][]float32, error) {
	return e.EmbedBatch(ctx, texts)
}

// EmbedOne is the single-string convenience used by the query path.
func (e *TextEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
