// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI scripts CreateEmbeddings responses per call.
type fakeAPI struct {
	calls  int
	inputs [][]string
	fail   int // number of leading calls that error
}

func (f *fakeAPI) CreateEmbeddings(_ context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error) {
	f.calls++
	req := conv.Convert()
	texts := req.Input.([]string)
	f.inputs = append(f.inputs, texts)
	if f.calls <= f.fail {
		return openai.EmbeddingResponse{}, errors.New("upstream 503")
	}
	resp := openai.EmbeddingResponse{}
	for i := range texts {
		resp.Data = append(resp.Data, openai.Embedding{
			Index:     i,
			Embedding: []float32{float32(i), 1},
		})
	}
	return resp, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEmbedder(api embeddingAPI) *TextEmbedder {
	return &TextEmbedder{client: api, model: defaultTextModel, log: discardLogger()}
}

func TestEmbedBatchOrder(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEmbedder(api)

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{0, 1}, vectors[0])
	assert.Equal(t, []float32{2, 1}, vectors[2])
	assert.Equal(t, 1, api.calls)
}

func TestEmbedBatchCoercesEmpty(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEmbedder(api)

	_, err := e.EmbedBatch(context.Background(), []string{"", "hello"})
	require.NoError(t, err)
	assert.Equal(t, []string{" ", "hello"}, api.inputs[0])
}

func TestEmbedBatchRetriesOnce(t *testing.T) {
	api := &fakeAPI{fail: 1}
	e := newTestEmbedder(api)

	vectors, err := e.EmbedBatch(context.Background(), []string{"x"})
	require.NoError(t, err)
	assert.Len(t, vectors, 1)
	assert.Equal(t, 2, api.calls)
}

func TestEmbedBatchTransientAfterRetry(t *testing.T) {
	api := &fakeAPI{fail: 2}
	e := newTestEmbedder(api)

	_, err := e.EmbedBatch(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransient), "err = %v", err)
	assert.Equal(t, 2, api.calls, "exactly one retry")
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	api := &fakeAPI{}
	e := newTestEmbedder(api)
	vectors, err := e.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
	assert.Zero(t, api.calls)
}

func TestVectorCodecRoundTrip(t *testing.T) {
	in := []float32{0, 1, -2.5, 3.14159, 1e-7}
	out := decodeVector(encodeVector(in))
	assert.Equal(t, in, out)
}

// countingEmbedder records every batch it is asked for.
type countingEmbedder struct {
	batches [][]string
}

func (c *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	c.batches = append(c.batches, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (c *countingEmbedder) Dimension() int { return 1 }

func TestCacheSkipsKnownHashes(t *testing.T) {
	inner := &countingEmbedder{}
	cache, err := NewCache(t.TempDir(), inner, discardLogger())
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	hashes := []string{"h1", "h2"}
	texts := []string{"one", "three"}

	first, err := cache.EmbedKeyed(ctx, hashes, texts)
	require.NoError(t, err)
	require.Len(t, inner.batches, 1)
	assert.Equal(t, []string{"one", "three"}, inner.batches[0])

	// Second pass: everything cached, inner untouched.
	second, err := cache.EmbedKeyed(ctx, hashes, texts)
	require.NoError(t, err)
	assert.Len(t, inner.batches, 1)
	assert.Equal(t, first, second)

	// Partial miss only sends the new hash upstream.
	third, err := cache.EmbedKeyed(ctx, []string{"h1", "h3"}, []string{"one", "seven"})
	require.NoError(t, err)
	require.Len(t, inner.batches, 2)
	assert.Equal(t, []string{"seven"}, inner.batches[1])
	assert.Equal(t, first[0], third[0])
}

func TestCacheMismatchedInputs(t *testing.T) {
	cache, err := NewCache(t.TempDir(), &countingEmbedder{}, discardLogger())
	require.NoError(t, err)
	defer cache.Close()

	_, err = cache.EmbedKeyed(context.Background(), []string{"h1"}, []string{"a", "b"})
	assert.Error(t, err)
}

func TestCachePropagatesInnerError(t *testing.T) {
	failing := &failingEmbedder{}
	cache, err := NewCache(t.TempDir(), failing, discardLogger())
	require.NoError(t, err)
	defer cache.Close()

	_, err = cache.EmbedKeyed(context.Background(), []string{"h1"}, []string{"a"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransient))
}

type failingEmbedder struct{}

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("%w: provider down", ErrTransient)
}

func (failingEmbedder) Dimension() int { return 1 }
