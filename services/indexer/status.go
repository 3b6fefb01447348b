// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package indexer

import (
	"context"
	"fmt"

	"github.com/stillwaterhq/recall/services/index"
	"github.com/stillwaterhq/recall/services/messagedb"
)

// Status is the indexer's progress report: persisted state, index-side
// counts, message-store counts, and the backlog between them.
type Status struct {
	LastMessageRowid     int64           `json:"last_message_rowid"`
	LastIndexedAt        int64           `json:"last_indexed_at"`
	TotalMessagesIndexed int64           `json:"total_messages_indexed"`
	TotalChunksCreated   int64           `json:"total_chunks_created"`
	IndexStats           index.Stats     `json:"index_stats"`
	MessageStats         messagedb.Stats `json:"message_stats"`
	PendingMessages      int64           `json:"pending_messages"`
}

// Status assembles the status block. An unreachable index is reported
// with zero index stats rather than failing the whole block.
func (ix *Indexer) Status(ctx context.Context) (Status, error) {
	st, err := ix.state.GetState(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("indexer: read state: %w", err)
	}
	out := Status{
		LastMessageRowid:     st.LastMessageRowid,
		LastIndexedAt:        st.LastIndexedAt,
		TotalMessagesIndexed: st.TotalMessagesIndexed,
		TotalChunksCreated:   st.TotalChunksCreated,
	}

	if stats, err := ix.store.GetStats(ctx); err != nil {
		ix.log.Warn("index stats unavailable", "error", err)
	} else {
		out.IndexStats = stats
	}

	msgStats, err := ix.source.Stats(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("indexer: message stats: %w", err)
	}
	out.MessageStats = msgStats

	pending, err := ix.source.CountUsableSince(ctx, st.LastMessageRowid)
	if err != nil {
		return Status{}, fmt.Errorf("indexer: count pending: %w", err)
	}
	out.PendingMessages = pending
	return out, nil
}

// VerifyReport is the outcome of a consistency cross-check between the
// message store, the state store, and the index.
type VerifyReport struct {
	StateChunks     int64
	IndexDocuments  int64
	StateLastRowid  int64
	MaxUsableRowid  int64
	PendingMessages int64
	Divergences     []string
}

// Ok reports whether the three stores agree.
func (r VerifyReport) Ok() bool {
	return len(r.Divergences) == 0
}

// Verify cross-checks counts among the three stores. A non-empty
// Divergences list means the index and its bookkeeping disagree and a
// full reindex is the safe remedy. Pending messages are backlog, not
// divergence.
func (ix *Indexer) Verify(ctx context.Context) (VerifyReport, error) {
	var r VerifyReport

	st, err := ix.state.GetState(ctx)
	if err != nil {
		return r, fmt.Errorf("indexer: read state: %w", err)
	}
	r.StateLastRowid = st.LastMessageRowid

	r.StateChunks, err = ix.state.ChunkCount(ctx)
	if err != nil {
		return r, fmt.Errorf("indexer: chunk count: %w", err)
	}

	stats, err := ix.store.GetStats(ctx)
	if err != nil {
		return r, fmt.Errorf("indexer: index stats: %w", err)
	}
	r.IndexDocuments = stats.DocumentCount

	r.MaxUsableRowid, err = ix.source.MaxUsableRowid(ctx)
	if err != nil {
		return r, fmt.Errorf("indexer: max usable rowid: %w", err)
	}
	r.PendingMessages, err = ix.source.CountUsableSince(ctx, st.LastMessageRowid)
	if err != nil {
		return r, fmt.Errorf("indexer: count pending: %w", err)
	}

	if r.StateChunks != r.IndexDocuments {
		r.Divergences = append(r.Divergences, fmt.Sprintf(
			"state records %d chunks but index holds %d documents",
			r.StateChunks, r.IndexDocuments))
	}
	if r.StateLastRowid > r.MaxUsableRowid {
		r.Divergences = append(r.Divergences, fmt.Sprintf(
			"state cursor %d is past the last usable message row %d",
			r.StateLastRowid, r.MaxUsableRowid))
	}
	if st.TotalChunksCreated < r.StateChunks {
		r.Divergences = append(r.Divergences, fmt.Sprintf(
			"chunk counter %d is below the recorded chunk set size %d",
			st.TotalChunksCreated, r.StateChunks))
	}
	return r, nil
}
