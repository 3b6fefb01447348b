// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchTriggersIncrementalRun(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "chat.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("seed"), 0o644))

	src := &fakeSource{msgs: messageFixture(5)}
	store := newFakeIndexStore()
	ix, st := newTestIndexer(t, src, store, nil)
	ix.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ix.Watch(ctx, dbPath, RunOptions{}) }()

	// Let the watcher register before touching the file.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(dbPath+"-wal", []byte("change"), 0o644))

	require.Eventually(t, func() bool {
		s, err := st.GetState(context.Background())
		return err == nil && s.LastMessageRowid == 5
	}, 5*time.Second, 25*time.Millisecond, "watch should run the indexer after the write settles")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is a clean stop")
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}
}

func TestWatchIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "chat.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("seed"), 0o644))

	src := &fakeSource{msgs: messageFixture(5)}
	store := newFakeIndexStore()
	ix, st := newTestIndexer(t, src, store, nil)
	ix.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ix.Watch(ctx, dbPath, RunOptions{}) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	time.Sleep(300 * time.Millisecond)

	s, err := st.GetState(context.Background())
	require.NoError(t, err)
	assert.Zero(t, s.LastMessageRowid, "unrelated files must not trigger a run")

	cancel()
	<-done
}
