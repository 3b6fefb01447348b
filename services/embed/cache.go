// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embed

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"

	badger "github.com/dgraph-io/badger/v4"
)

// BatchEmbedder is the contract the cache wraps and the indexer consumes.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Cache is a durable chunk-hash to vector store. Chunk ids are content
// hashes, so a cached vector never goes stale; a full reindex after a
// crash re-embeds nothing that was embedded before.
type Cache struct {
	db    *badger.DB
	inner BatchEmbedder
	log   *slog.Logger
}

// NewCache opens (or creates) the badger store at dir and wraps inner.
func NewCache(dir string, inner BatchEmbedder, log *slog.Logger) (*Cache, error) {
	if log == nil {
		log = slog.Default()
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("embed: open cache at %s: %w", dir, err)
	}
	return &Cache{db: db, inner: inner, log: log}, nil
}

// Close releases the badger store.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Dimension proxies the wrapped embedder.
func (c *Cache) Dimension() int {
	return c.inner.Dimension()
}

// EmbedKeyed embeds texts identified by parallel content hashes. Cached
// hashes skip the provider; only misses go upstream, in one batch, and
// their vectors are written back before returning.
func (c *Cache) EmbedKeyed(ctx context.Context, hashes, texts []string) ([][]float32, error) {
	if len(hashes) != len(texts) {
		return nil, fmt.Errorf("embed: %d hashes for %d texts", len(hashes), len(texts))
	}
	out := make([][]float32, len(texts))

	var missIdx []int
	err := c.db.View(func(txn *badger.Txn) error {
		for i, h := range hashes {
			item, err := txn.Get(cacheKey(h))
			if errors.Is(err, badger.ErrKeyNotFound) {
				missIdx = append(missIdx, i)
				continue
			}
			if err != nil {
				return err
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[i] = decodeVector(raw)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embed: cache read: %w", err)
	}

	if len(missIdx) == 0 {
		return out, nil
	}
	c.log.Debug("embedding cache", "hits", len(texts)-len(missIdx), "misses", len(missIdx))

	missTexts := make([]string, len(missIdx))
	for j, i := range missIdx {
		missTexts[j] = texts[i]
	}
	vectors, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}

	wb := c.db.NewWriteBatch()
	defer wb.Cancel()
	for j, i := range missIdx {
		out[i] = vectors[j]
		if err := wb.Set(cacheKey(hashes[i]), encodeVector(vectors[j])); err != nil {
			return nil, fmt.Errorf("embed: cache write: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return nil, fmt.Errorf("embed: cache flush: %w", err)
	}
	return out, nil
}

func cacheKey(hash string) []byte {
	return append([]byte("emb:"), hash...)
}

// Vectors are stored as little-endian float32 bits, 4 bytes per
// component.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(raw []byte) []float32 {
	v := make([]float32, len(raw)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return v
}
