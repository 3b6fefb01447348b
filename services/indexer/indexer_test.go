// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stillwaterhq/recall/services/chatgraph"
	"github.com/stillwaterhq/recall/services/chunker"
	"github.com/stillwaterhq/recall/services/index"
	"github.com/stillwaterhq/recall/services/messagedb"
	"github.com/stillwaterhq/recall/services/state"
)

type fakeSource struct {
	msgs []messagedb.RawMessage
	// undecodable rowids pass the store's SQL predicate but yield no
	// text, so reads scan them without returning a message.
	undecodable []int64
	images      map[int64][]messagedb.Attachment
	reads       int
	onRead      func()
}

func (s *fakeSource) ReadMessages(_ context.Context, sinceRowid int64, limit int) (messagedb.Batch, error) {
	s.reads++
	if s.onRead != nil {
		s.onRead()
	}
	type row struct {
		rowid int64
		msg   *messagedb.RawMessage
	}
	var rows []row
	for i := range s.msgs {
		if s.msgs[i].Rowid > sinceRowid {
			rows = append(rows, row{s.msgs[i].Rowid, &s.msgs[i]})
		}
	}
	for _, r := range s.undecodable {
		if r > sinceRowid {
			rows = append(rows, row{rowid: r})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].rowid < rows[j].rowid })

	var out messagedb.Batch
	for _, r := range rows {
		if out.Scanned == limit {
			break
		}
		out.Scanned++
		out.LastRowid = r.rowid
		if r.msg != nil {
			out.Messages = append(out.Messages, *r.msg)
		}
	}
	return out, nil
}

func (s *fakeSource) ImagesForMessage(_ context.Context, rowid int64) ([]messagedb.Attachment, error) {
	return s.images[rowid], nil
}

func (s *fakeSource) CountUsableSince(_ context.Context, sinceRowid int64) (int64, error) {
	var n int64
	for _, m := range s.msgs {
		if m.Rowid > sinceRowid {
			n++
		}
	}
	for _, r := range s.undecodable {
		if r > sinceRowid {
			n++
		}
	}
	return n, nil
}

func (s *fakeSource) MaxUsableRowid(context.Context) (int64, error) {
	var max int64
	for _, m := range s.msgs {
		if m.Rowid > max {
			max = m.Rowid
		}
	}
	for _, r := range s.undecodable {
		if r > max {
			max = r
		}
	}
	return max, nil
}

func (s *fakeSource) Stats(context.Context) (messagedb.Stats, error) {
	st := messagedb.Stats{TotalMessages: int64(len(s.msgs))}
	if len(s.msgs) > 0 {
		st.MinRowid = s.msgs[0].Rowid
		st.MaxRowid = s.msgs[len(s.msgs)-1].Rowid
	}
	return st, nil
}

type fakeIndexStore struct {
	healthErr error
	docs      map[string]index.Document
	inits     int
	clears    int
	failAll   bool
}

func newFakeIndexStore() *fakeIndexStore {
	return &fakeIndexStore{docs: make(map[string]index.Document)}
}

func (s *fakeIndexStore) HealthCheck(context.Context) error { return s.healthErr }

func (s *fakeIndexStore) Initialize(context.Context) error {
	s.inits++
	return nil
}

func (s *fakeIndexStore) Clear(context.Context) error {
	s.clears++
	s.docs = make(map[string]index.Document)
	return nil
}

func (s *fakeIndexStore) IndexDocuments(_ context.Context, docs []index.Document, _ bool) (int, []string, error) {
	var failed []string
	written := 0
	for _, d := range docs {
		if s.failAll {
			failed = append(failed, d.ID)
			continue
		}
		s.docs[d.ID] = d
		written++
	}
	return written, failed, nil
}

func (s *fakeIndexStore) GetStats(context.Context) (index.Stats, error) {
	return index.Stats{DocumentCount: int64(len(s.docs)), ClassName: "ChatChunk"}, nil
}

type keyedEmbedder struct {
	batches [][]string
}

func (e *keyedEmbedder) EmbedKeyed(_ context.Context, hashes, texts []string) ([][]float32, error) {
	e.batches = append(e.batches, hashes)
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.5, 0.5}
	}
	return out, nil
}

type fakeImageEmbedder struct {
	calls int
	err   error
}

func (e *fakeImageEmbedder) EmbedImage(context.Context, string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.9}, nil
}

type staticResolver map[string]string

func (r staticResolver) Resolve(handle string) string {
	if name, ok := r[handle]; ok {
		return name
	}
	return handle
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var baseTs = time.Date(2024, 3, 9, 12, 0, 0, 0, time.Local).Unix()

// messageFixture builds n messages in one chat, 10s apart, each long
// enough to survive the chunker's noise filters.
func messageFixture(n int) []messagedb.RawMessage {
	msgs := make([]messagedb.RawMessage, n)
	for i := range msgs {
		msgs[i] = messagedb.RawMessage{
			Rowid:     int64(i + 1),
			Text:      fmt.Sprintf("message %d with enough words to clear the minimum chunk length filter", i+1),
			Timestamp: baseTs + int64(i*10),
			HandleID:  "+15550001",
			ChatID:    "chat1",
		}
	}
	return msgs
}

func newTestIndexer(t *testing.T, src *fakeSource, store *fakeIndexStore, images ImageEmbedder) (*Indexer, *state.Store) {
	t.Helper()
	st, err := state.Open(filepath.Join(t.TempDir(), "state.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ck := chunker.New(staticResolver{"+15550001": "Alice"})
	return New(src, ck, st, store, &keyedEmbedder{}, images, testLogger()), st
}

func TestRunIncremental(t *testing.T) {
	src := &fakeSource{msgs: messageFixture(5)}
	store := newFakeIndexStore()
	ix, st := newTestIndexer(t, src, store, nil)

	result, err := ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5, result.MessagesProcessed)
	assert.Equal(t, 1, result.ChunksCreated)
	assert.Equal(t, 1, result.ChunksIndexed)
	assert.Len(t, store.docs, 1)

	persisted, err := st.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), persisted.LastMessageRowid)
	assert.Equal(t, int64(5), persisted.TotalMessagesIndexed)
	assert.Equal(t, int64(1), persisted.TotalChunksCreated)

	// Nothing new: the next run reads zero messages and touches nothing.
	result, err = ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Zero(t, result.MessagesProcessed)
	assert.Len(t, store.docs, 1)
}

func TestRunRereadDeduplicates(t *testing.T) {
	src := &fakeSource{msgs: messageFixture(5)}
	store := newFakeIndexStore()
	ix, st := newTestIndexer(t, src, store, nil)

	_, err := ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	// Simulate a crash that lost the cursor but kept the chunk records.
	zero := int64(0)
	require.NoError(t, st.UpdateState(context.Background(), state.StateUpdate{LastMessageRowid: &zero}))

	result, err := ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5, result.MessagesProcessed)
	assert.Zero(t, result.ChunksCreated, "re-generated chunks hit the dedup set")
	assert.Len(t, store.docs, 1)

	persisted, err := st.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), persisted.LastMessageRowid)
}

func TestRunFullReindex(t *testing.T) {
	src := &fakeSource{msgs: messageFixture(5)}
	store := newFakeIndexStore()
	ix, st := newTestIndexer(t, src, store, nil)

	_, err := ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	result, err := ix.Run(context.Background(), RunOptions{FullReindex: true})
	require.NoError(t, err)
	assert.Equal(t, 1, store.clears)
	assert.Equal(t, 5, result.MessagesProcessed, "full reindex starts over from row zero")
	assert.Equal(t, 1, result.ChunksIndexed)
	assert.Len(t, store.docs, 1)

	persisted, err := st.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), persisted.TotalMessagesIndexed, "counters restart after reset")
}

func TestRunMaxMessagesCap(t *testing.T) {
	src := &fakeSource{msgs: messageFixture(30)}
	store := newFakeIndexStore()
	ix, st := newTestIndexer(t, src, store, nil)

	result, err := ix.Run(context.Background(), RunOptions{BatchSize: 10, MaxMessages: 20})
	require.NoError(t, err)
	assert.Equal(t, 20, result.MessagesProcessed)
	assert.Equal(t, 2, src.reads)

	persisted, err := st.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(20), persisted.LastMessageRowid)
}

func TestRunShortBatchEndsRun(t *testing.T) {
	src := &fakeSource{msgs: messageFixture(5)}
	store := newFakeIndexStore()
	ix, _ := newTestIndexer(t, src, store, nil)

	_, err := ix.Run(context.Background(), RunOptions{BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, src.reads, "a batch smaller than requested is the last one")
}

func TestRunScansPastUndecodableRows(t *testing.T) {
	msgs := messageFixture(6)
	// Row 3 passes the SQL predicate but yields no text: it consumes
	// batch capacity without producing a message.
	msgs = append(msgs[:2], msgs[3:]...)
	src := &fakeSource{msgs: msgs, undecodable: []int64{3}}
	store := newFakeIndexStore()
	ix, st := newTestIndexer(t, src, store, nil)

	result, err := ix.Run(context.Background(), RunOptions{BatchSize: 3})
	require.NoError(t, err)

	// The first batch scans rows 1,2,3 and keeps two messages; a short
	// message slice there must not end the run while rows 4..6 remain.
	assert.Equal(t, 3, src.reads)
	assert.Equal(t, 5, result.MessagesProcessed, "dropped rows stay out of the message count")

	persisted, err := st.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(6), persisted.LastMessageRowid)
	assert.Equal(t, int64(5), persisted.TotalMessagesIndexed)

	pending, err := src.CountUsableSince(context.Background(), persisted.LastMessageRowid)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestRunCursorPassesTrailingUndecodableRow(t *testing.T) {
	src := &fakeSource{msgs: messageFixture(3), undecodable: []int64{4}}
	store := newFakeIndexStore()
	ix, st := newTestIndexer(t, src, store, nil)

	_, err := ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	// The cursor lands on the dropped trailing row, so the backlog
	// reads empty instead of reporting it as pending forever.
	persisted, err := st.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), persisted.LastMessageRowid)

	status, err := ix.Status(context.Background())
	require.NoError(t, err)
	assert.Zero(t, status.PendingMessages)

	report, err := ix.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Ok())
}

func TestRunHealthCheckFatal(t *testing.T) {
	src := &fakeSource{msgs: messageFixture(5)}
	store := newFakeIndexStore()
	store.healthErr = fmt.Errorf("%w: connection refused", index.ErrStoreUnavailable)
	ix, st := newTestIndexer(t, src, store, nil)

	_, err := ix.Run(context.Background(), RunOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, index.ErrStoreUnavailable)

	persisted, err := st.GetState(context.Background())
	require.NoError(t, err)
	assert.Zero(t, persisted.LastMessageRowid)
}

func TestRunFailedWritesNotRecorded(t *testing.T) {
	src := &fakeSource{msgs: messageFixture(5)}
	store := newFakeIndexStore()
	store.failAll = true
	ix, st := newTestIndexer(t, src, store, nil)

	result, err := ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunksCreated)
	assert.Zero(t, result.ChunksIndexed)

	count, err := st.ChunkCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count, "rejected documents stay out of the chunk records")
}

func TestRunCancelledBetweenBatches(t *testing.T) {
	src := &fakeSource{msgs: messageFixture(20)}
	store := newFakeIndexStore()
	ix, st := newTestIndexer(t, src, store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	src.onRead = func() {
		if src.reads == 2 {
			cancel()
		}
	}

	_, err := ix.Run(ctx, RunOptions{BatchSize: 10})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// The first batch committed before the cancellation took effect.
	persisted, err := st.GetState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10), persisted.LastMessageRowid)
}

func TestRunEmbedsImages(t *testing.T) {
	src := &fakeSource{
		msgs: messageFixture(3),
		images: map[int64][]messagedb.Attachment{
			2: {{Rowid: 7, Path: "/tmp/photo.jpg", MimeType: "image/jpeg", MessageRowid: 2}},
		},
	}
	store := newFakeIndexStore()
	images := &fakeImageEmbedder{}
	ix, _ := newTestIndexer(t, src, store, images)

	_, err := ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, images.calls)

	require.Len(t, store.docs, 1)
	for _, d := range store.docs {
		assert.True(t, d.HasImage)
		assert.Equal(t, []float32{0.9}, d.ImageVector)
	}
}

func TestRunImageEmbedFailureKeepsText(t *testing.T) {
	src := &fakeSource{
		msgs: messageFixture(3),
		images: map[int64][]messagedb.Attachment{
			2: {{Rowid: 7, Path: "/tmp/photo.jpg", MimeType: "image/jpeg", MessageRowid: 2}},
		},
	}
	store := newFakeIndexStore()
	images := &fakeImageEmbedder{err: errors.New("service down")}
	ix, _ := newTestIndexer(t, src, store, images)

	result, err := ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunksIndexed)
	for _, d := range store.docs {
		assert.Nil(t, d.ImageVector)
		assert.NotNil(t, d.TextVector)
	}
}

func TestRunPopulatesChatGraph(t *testing.T) {
	msgs := messageFixture(5)
	for i := range msgs {
		msgs[i].GroupName = "Lunch Crew"
	}
	src := &fakeSource{msgs: msgs}
	store := newFakeIndexStore()
	ix, _ := newTestIndexer(t, src, store, nil)

	graph, err := chatgraph.Open(filepath.Join(t.TempDir(), "graph.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { graph.Close() })
	ix.WithGraph(graph, staticResolver{"+15550001": "Alice"})

	_, err = ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	res, err := graph.ResolvePerson(context.Background(), "Alice")
	require.NoError(t, err)
	assert.True(t, res.Found, "the batch's correspondent is registered")

	chatRes, err := graph.ResolveChat(context.Background(), "Lunch Crew")
	require.NoError(t, err)
	require.True(t, chatRes.Found)

	participants, err := graph.Participants(context.Background(), chatRes.ChatID)
	require.NoError(t, err)
	assert.Len(t, participants, 2, "owner plus the one correspondent")
}

func TestStatus(t *testing.T) {
	src := &fakeSource{msgs: messageFixture(5)}
	store := newFakeIndexStore()
	ix, _ := newTestIndexer(t, src, store, nil)

	status, err := ix.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), status.PendingMessages)
	assert.Zero(t, status.LastMessageRowid)

	_, err = ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	status, err = ix.Status(context.Background())
	require.NoError(t, err)
	assert.Zero(t, status.PendingMessages)
	assert.Equal(t, int64(5), status.LastMessageRowid)
	assert.Equal(t, int64(1), status.IndexStats.DocumentCount)
	assert.Equal(t, int64(5), status.MessageStats.TotalMessages)
}

func TestVerifyClean(t *testing.T) {
	src := &fakeSource{msgs: messageFixture(5)}
	store := newFakeIndexStore()
	ix, _ := newTestIndexer(t, src, store, nil)

	_, err := ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	report, err := ix.Verify(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Ok())
	assert.Equal(t, report.StateChunks, report.IndexDocuments)
}

func TestVerifyDivergence(t *testing.T) {
	src := &fakeSource{msgs: messageFixture(5)}
	store := newFakeIndexStore()
	ix, _ := newTestIndexer(t, src, store, nil)

	_, err := ix.Run(context.Background(), RunOptions{})
	require.NoError(t, err)

	// Lose a document behind the bookkeeping's back.
	for id := range store.docs {
		delete(store.docs, id)
	}

	report, err := ix.Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Ok())
	require.Len(t, report.Divergences, 1)
	assert.Contains(t, report.Divergences[0], "documents")
}
