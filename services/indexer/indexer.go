// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package indexer drives the indexing pipeline: it reads message batches,
// chunks and enriches them, obtains embeddings, and commits documents to
// the index and progress to the state store.
//
// # Crash safety
//
// The persisted cursor only advances after a batch's documents are
// bulk-written and its chunk records have committed. After a crash the
// next run re-reads the last partial batch; chunk ids are content hashes,
// so regenerated chunks either hit the dedup set or overwrite themselves
// benignly. The only cost is redundant embedding work for that batch,
// which the embedding cache bounds further.
package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stillwaterhq/recall/pkg/ids"
	"github.com/stillwaterhq/recall/services/chatgraph"
	"github.com/stillwaterhq/recall/services/chunker"
	"github.com/stillwaterhq/recall/services/index"
	"github.com/stillwaterhq/recall/services/messagedb"
	"github.com/stillwaterhq/recall/services/state"
)

var tracer = otel.Tracer("recall.indexer")

// DefaultBatchSize is how many messages one batch reads.
const DefaultBatchSize = 10000

// MessageSource is the read side of the platform message store.
type MessageSource interface {
	ReadMessages(ctx context.Context, sinceRowid int64, limit int) (messagedb.Batch, error)
	ImagesForMessage(ctx context.Context, messageRowid int64) ([]messagedb.Attachment, error)
	CountUsableSince(ctx context.Context, sinceRowid int64) (int64, error)
	MaxUsableRowid(ctx context.Context) (int64, error)
	Stats(ctx context.Context) (messagedb.Stats, error)
}

// IndexStore is the write surface of the search index.
type IndexStore interface {
	HealthCheck(ctx context.Context) error
	Initialize(ctx context.Context) error
	Clear(ctx context.Context) error
	IndexDocuments(ctx context.Context, docs []index.Document, showProgress bool) (int, []string, error)
	GetStats(ctx context.Context) (index.Stats, error)
}

// StateStore persists indexing progress and the indexed-chunk set.
type StateStore interface {
	GetState(ctx context.Context) (state.IndexingState, error)
	UpdateState(ctx context.Context, upd state.StateUpdate) error
	GetIndexedChunkHashes(ctx context.Context) (map[string]bool, error)
	RecordChunks(ctx context.Context, records []state.ChunkRecord) error
	Reset(ctx context.Context) error
	ChunkCount(ctx context.Context) (int64, error)
}

// ChunkEmbedder embeds chunk texts keyed by their content hashes. Both
// the raw text embedder and its cache wrapper satisfy this.
type ChunkEmbedder interface {
	EmbedKeyed(ctx context.Context, hashes, texts []string) ([][]float32, error)
}

// ImageEmbedder embeds one image file. Optional; a nil embedder indexes
// text only.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, path string) ([]float32, error)
}

// GraphWriter registers the chats and people an indexing run encounters
// so later queries can resolve names against them. Optional.
type GraphWriter interface {
	EnsureOwner(ctx context.Context, displayName string) (chatgraph.Person, error)
	ResolveOrCreatePerson(ctx context.Context, handle, displayName string) (chatgraph.Person, error)
	ResolveOrCreateChat(ctx context.Context, imessageID, displayName string, isGroup bool) (chatgraph.Chat, error)
	EnsureParticipants(ctx context.Context, chatID string, personIDs []string) error
}

// Indexer orchestrates indexing runs. Runs serialize on an internal
// mutex: the pipeline is single-writer per index generation.
type Indexer struct {
	source  MessageSource
	chunker *chunker.Chunker
	state   StateStore
	store   IndexStore
	text    ChunkEmbedder
	images  ImageEmbedder
	log     *slog.Logger
	metrics *Metrics

	// graph and names are set together by WithGraph.
	graph GraphWriter
	names chunker.NameResolver

	// debounce overrides DefaultDebounce for Watch when positive.
	debounce time.Duration

	mu sync.Mutex
}

// New wires an Indexer. images may be nil to skip image vectors.
func New(source MessageSource, ck *chunker.Chunker, st StateStore, store IndexStore,
	text ChunkEmbedder, images ImageEmbedder, log *slog.Logger) *Indexer {
	if log == nil {
		log = slog.Default()
	}
	return &Indexer{
		source:  source,
		chunker: ck,
		state:   st,
		store:   store,
		text:    text,
		images:  images,
		log:     log,
		metrics: RunMetrics(),
	}
}

// WithGraph enables chat-graph population during runs. names maps raw
// handles to display names the way the chunker does, so graph entries
// and chunk lines agree on spelling.
func (ix *Indexer) WithGraph(graph GraphWriter, names chunker.NameResolver) *Indexer {
	ix.graph = graph
	ix.names = names
	return ix
}

// RunOptions configure one indexing run.
type RunOptions struct {
	// FullReindex resets the state store and clears the index before
	// reading anything.
	FullReindex bool

	// MaxMessages caps how many messages this run processes. 0 means
	// run to the end of the store.
	MaxMessages int

	// BatchSize overrides DefaultBatchSize when positive.
	BatchSize int

	// ShowProgress prints per-flush progress to stdout.
	ShowProgress bool
}

// RunResult reports what one run did.
type RunResult struct {
	MessagesProcessed int
	ChunksCreated     int
	ChunksIndexed     int
	Duration          time.Duration
}

// Run executes one indexing run to completion or cancellation.
//
// Cancellation is honored between batches; an in-flight bulk write or
// embedding call completes first.
func (ix *Indexer) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ctx, span := tracer.Start(ctx, "indexer.Run",
		trace.WithAttributes(attribute.Bool("full_reindex", opts.FullReindex)))
	defer span.End()

	started := time.Now()
	result, err := ix.run(ctx, opts)
	result.Duration = time.Since(started)

	status := "success"
	if err != nil {
		status = "error"
	}
	ix.metrics.RunsTotal.WithLabelValues(status).Inc()
	return result, err
}

func (ix *Indexer) run(ctx context.Context, opts RunOptions) (RunResult, error) {
	var result RunResult

	if err := ix.store.HealthCheck(ctx); err != nil {
		return result, fmt.Errorf("indexer: %w", err)
	}

	if opts.FullReindex {
		ix.log.Info("full reindex requested, clearing state and index")
		if err := ix.state.Reset(ctx); err != nil {
			return result, fmt.Errorf("indexer: reset state: %w", err)
		}
		if err := ix.store.Clear(ctx); err != nil {
			return result, fmt.Errorf("indexer: clear index: %w", err)
		}
	}
	if err := ix.store.Initialize(ctx); err != nil {
		return result, fmt.Errorf("indexer: %w", err)
	}

	st, err := ix.state.GetState(ctx)
	if err != nil {
		return result, fmt.Errorf("indexer: read state: %w", err)
	}
	existing, err := ix.state.GetIndexedChunkHashes(ctx)
	if err != nil {
		return result, fmt.Errorf("indexer: load indexed hashes: %w", err)
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	cursor := st.LastMessageRowid
	ix.log.Info("indexing run starting",
		"cursor", cursor, "known_chunks", len(existing), "batch_size", batchSize)

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		want := batchSize
		if opts.MaxMessages > 0 {
			remaining := opts.MaxMessages - result.MessagesProcessed
			if remaining <= 0 {
				break
			}
			if remaining < want {
				want = remaining
			}
		}

		batchStart := time.Now()
		batch, err := ix.source.ReadMessages(ctx, cursor, want)
		if err != nil {
			return result, fmt.Errorf("indexer: %w", err)
		}
		if batch.Scanned == 0 {
			break
		}

		// Termination and the cursor go by rows scanned, not messages
		// kept: a page can lose rows to the blob heuristic after the
		// SQL limit was already consumed, and a short message slice
		// must not read as end-of-store while rows remain behind it.
		msgs := batch.Messages
		var chunks []chunker.Chunk
		recorded := 0
		if len(msgs) > 0 {
			ix.metrics.MessagesRead.Add(float64(len(msgs)))
			ix.updateGraph(ctx, msgs)

			chunks = ix.chunker.Chunk(msgs, existing)
			if len(chunks) > 0 {
				recorded, err = ix.processChunks(ctx, chunks, opts.ShowProgress)
				if err != nil {
					return result, err
				}
			}
		}

		cursor = batch.LastRowid
		now := time.Now().Unix()
		newMessages := st.TotalMessagesIndexed + int64(result.MessagesProcessed+len(msgs))
		newChunks := st.TotalChunksCreated + int64(result.ChunksCreated+len(chunks))
		if err := ix.state.UpdateState(ctx, state.StateUpdate{
			LastMessageRowid:     &cursor,
			LastIndexedAt:        &now,
			TotalMessagesIndexed: &newMessages,
			TotalChunksCreated:   &newChunks,
		}); err != nil {
			return result, fmt.Errorf("indexer: advance state: %w", err)
		}

		result.MessagesProcessed += len(msgs)
		result.ChunksCreated += len(chunks)
		result.ChunksIndexed += recorded
		ix.metrics.BatchSeconds.Observe(time.Since(batchStart).Seconds())
		ix.log.Info("batch committed",
			"messages", len(msgs), "scanned", batch.Scanned, "chunks", len(chunks), "cursor", cursor)

		if batch.Scanned < want {
			break
		}
	}

	ix.log.Info("indexing run finished",
		"messages", result.MessagesProcessed,
		"chunks", result.ChunksCreated,
		"indexed", result.ChunksIndexed)
	return result, nil
}

// processChunks enriches, embeds, writes, and records one batch's chunks.
// Documents the index rejected are left out of the chunk records so a
// later run can retry them.
func (ix *Indexer) processChunks(ctx context.Context, chunks []chunker.Chunk, showProgress bool) (int, error) {
	ctx, span := tracer.Start(ctx, "indexer.processChunks",
		trace.WithAttributes(attribute.Int("chunks", len(chunks))))
	defer span.End()

	enriched := make([]chunker.Enriched, len(chunks))
	for i, ch := range chunks {
		atts, err := ix.collectAttachments(ctx, ch)
		if err != nil {
			return 0, err
		}
		enriched[i] = chunker.Enrich(ch, atts)
	}

	hashes := make([]string, len(enriched))
	texts := make([]string, len(enriched))
	for i, e := range enriched {
		hashes[i] = e.ID
		texts[i] = e.Text
	}
	embedStart := time.Now()
	vectors, err := ix.text.EmbedKeyed(ctx, hashes, texts)
	if err != nil {
		return 0, fmt.Errorf("indexer: embed batch: %w", err)
	}
	ix.metrics.EmbedSeconds.Observe(time.Since(embedStart).Seconds())

	docs := make([]index.Document, len(enriched))
	for i, e := range enriched {
		docs[i] = index.Document{Enriched: e, TextVector: vectors[i]}
		if ix.images != nil && len(e.ImagePaths) > 0 {
			iv, err := ix.images.EmbedImage(ctx, e.ImagePaths[0])
			if err != nil {
				ix.log.Warn("image embedding failed, indexing text only",
					"chunk", e.ID, "path", e.ImagePaths[0], "error", err)
			} else {
				docs[i].ImageVector = iv
			}
		}
	}

	written, failedIDs, err := ix.store.IndexDocuments(ctx, docs, showProgress)
	if err != nil {
		return 0, fmt.Errorf("indexer: write documents: %w", err)
	}
	ix.metrics.ChunksWritten.Add(float64(written))

	failed := make(map[string]bool, len(failedIDs))
	for _, id := range failedIDs {
		failed[id] = true
	}
	now := time.Now().Unix()
	records := make([]state.ChunkRecord, 0, len(docs))
	for _, d := range docs {
		if failed[d.ID] {
			continue
		}
		records = append(records, state.ChunkRecord{
			Hash:          d.ID,
			MessageRowids: d.MessageRowids,
			DocumentID:    ids.PointID(d.ID),
			CreatedAt:     now,
		})
	}
	if err := ix.state.RecordChunks(ctx, records); err != nil {
		return 0, fmt.Errorf("indexer: record chunks: %w", err)
	}
	return len(records), nil
}

// updateGraph registers the batch's chats, people, and memberships.
// Graph population is best effort: a failure here must not stop the
// indexing run, so errors are logged and swallowed.
func (ix *Indexer) updateGraph(ctx context.Context, msgs []messagedb.RawMessage) {
	if ix.graph == nil {
		return
	}
	owner, err := ix.graph.EnsureOwner(ctx, chunker.OwnerName)
	if err != nil {
		ix.log.Warn("graph owner upsert failed", "error", err)
		return
	}

	type chatSeen struct {
		displayName string
		handles     map[string]bool
	}
	byChat := make(map[string]*chatSeen)
	for _, m := range msgs {
		if m.ChatID == "" {
			continue
		}
		cs := byChat[m.ChatID]
		if cs == nil {
			cs = &chatSeen{handles: make(map[string]bool)}
			byChat[m.ChatID] = cs
		}
		if m.GroupName != "" {
			cs.displayName = m.GroupName
		}
		if m.HandleID != "" {
			cs.handles[m.HandleID] = true
		}
	}

	for chatID, cs := range byChat {
		persons := []string{owner.ID}
		for handle := range cs.handles {
			name := handle
			if ix.names != nil {
				name = ix.names.Resolve(handle)
			}
			p, err := ix.graph.ResolveOrCreatePerson(ctx, handle, name)
			if err != nil {
				ix.log.Warn("graph person upsert failed", "handle", handle, "error", err)
				continue
			}
			persons = append(persons, p.ID)
		}

		isGroup := cs.displayName != "" || len(cs.handles) > 1
		ch, err := ix.graph.ResolveOrCreateChat(ctx, chatID, cs.displayName, isGroup)
		if err != nil {
			ix.log.Warn("graph chat upsert failed", "chat", chatID, "error", err)
			continue
		}
		if err := ix.graph.EnsureParticipants(ctx, ch.ID, persons); err != nil {
			ix.log.Warn("graph participants upsert failed", "chat", chatID, "error", err)
		}
	}
}

// collectAttachments fetches image attachments for every message in the
// chunk, keyed by message ROWID.
func (ix *Indexer) collectAttachments(ctx context.Context, ch chunker.Chunk) (map[int64][]messagedb.Attachment, error) {
	var out map[int64][]messagedb.Attachment
	for _, rowid := range ch.MessageRowids {
		atts, err := ix.source.ImagesForMessage(ctx, rowid)
		if err != nil {
			return nil, fmt.Errorf("indexer: attachments for message %d: %w", rowid, err)
		}
		if len(atts) == 0 {
			continue
		}
		if out == nil {
			out = make(map[int64][]messagedb.Attachment)
		}
		out[rowid] = atts
	}
	return out, nil
}
