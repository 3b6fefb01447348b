// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package state persists indexing progress: the message-row cursor, run
// counters, and the set of chunk hashes already written to the index.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS indexing_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    last_message_rowid INTEGER NOT NULL DEFAULT 0,
    last_indexed_at INTEGER NOT NULL DEFAULT 0,
    total_messages_indexed INTEGER NOT NULL DEFAULT 0,
    total_chunks_created INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS indexed_chunks (
    chunk_hash TEXT PRIMARY KEY,
    message_rowids TEXT NOT NULL,
    document_id TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
INSERT OR IGNORE INTO indexing_state (id) VALUES (1);
`

// IndexingState is the single persisted progress row.
type IndexingState struct {
	LastMessageRowid     int64
	LastIndexedAt        int64
	TotalMessagesIndexed int64
	TotalChunksCreated   int64
}

// StateUpdate carries the fields of an UpdateState call. Nil fields are
// left untouched.
type StateUpdate struct {
	LastMessageRowid     *int64
	LastIndexedAt        *int64
	TotalMessagesIndexed *int64
	TotalChunksCreated   *int64
}

// ChunkRecord is one entry for RecordChunks.
type ChunkRecord struct {
	Hash          string
	MessageRowids []int64
	DocumentID    string
	CreatedAt     int64
}

// Store owns a private SQLite handle for the indexing-state database. One
// instance per process; callers close it when the run ends.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// DefaultPath returns the conventional state database location under the
// user's data directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "recall_state.db"
	}
	return filepath.Join(home, ".recall", "state.db")
}

// # Description
//
//	Open opens (creating if needed) the state database at path and applies
//	the schema. The parent directory is created when absent.
//
// # Inputs
//   - path: filesystem location of the SQLite file.
//   - log: structured logger; nil gets the default logger.
//
// # Outputs
//   - *Store ready for use.
//   - error: on open or schema failure.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("state: create dir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("state: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("state: apply schema: %w", err)
	}
	log.Debug("state store opened", "path", path)
	return &Store{db: db, log: log}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// GetState reads the single progress row.
func (s *Store) GetState(ctx context.Context) (IndexingState, error) {
	var st IndexingState
	err := s.db.QueryRowContext(ctx,
		`SELECT last_message_rowid, last_indexed_at, total_messages_indexed, total_chunks_created
		 FROM indexing_state WHERE id = 1`).
		Scan(&st.LastMessageRowid, &st.LastIndexedAt, &st.TotalMessagesIndexed, &st.TotalChunksCreated)
	if err != nil {
		return IndexingState{}, fmt.Errorf("state: get state: %w", err)
	}
	return st, nil
}

// UpdateState applies the non-nil fields of upd to the progress row.
func (s *Store) UpdateState(ctx context.Context, upd StateUpdate) error {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 4)
	add := func(col string, v *int64) {
		if v != nil {
			sets = append(sets, fmt.Sprintf("%s = ?", col))
			args = append(args, *v)
		}
	}
	add("last_message_rowid", upd.LastMessageRowid)
	add("last_indexed_at", upd.LastIndexedAt)
	add("total_messages_indexed", upd.TotalMessagesIndexed)
	add("total_chunks_created", upd.TotalChunksCreated)
	if len(sets) == 0 {
		return nil
	}
	query := "UPDATE indexing_state SET "
	for i, set := range sets {
		if i > 0 {
			query += ", "
		}
		query += set
	}
	query += " WHERE id = 1"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("state: update state: %w", err)
	}
	return nil
}

// IsChunkIndexed reports whether hash is already recorded.
func (s *Store) IsChunkIndexed(ctx context.Context, hash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM indexed_chunks WHERE chunk_hash = ?`, hash).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("state: chunk lookup: %w", err)
	}
	return n > 0, nil
}

// GetIndexedChunkHashes returns the full hash set. The indexer snapshots
// this once per run and dedupes in memory from then on.
func (s *Store) GetIndexedChunkHashes(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_hash FROM indexed_chunks`)
	if err != nil {
		return nil, fmt.Errorf("state: load hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]bool)
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("state: scan hash: %w", err)
		}
		hashes[h] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("state: iterate hashes: %w", err)
	}
	return hashes, nil
}

// RecordChunks writes every record in one transaction. Either all entries
// land or none do.
func (s *Store) RecordChunks(ctx context.Context, records []ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: begin record tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO indexed_chunks (chunk_hash, message_rowids, document_id, created_at)
		 VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("state: prepare record: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		rowids, err := json.Marshal(r.MessageRowids)
		if err != nil {
			return fmt.Errorf("state: marshal rowids for %s: %w", r.Hash, err)
		}
		createdAt := r.CreatedAt
		if createdAt == 0 {
			createdAt = time.Now().Unix()
		}
		if _, err := stmt.ExecContext(ctx, r.Hash, string(rowids), r.DocumentID, createdAt); err != nil {
			return fmt.Errorf("state: record chunk %s: %w", r.Hash, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: commit records: %w", err)
	}
	return nil
}

// Reset empties the chunk table and zeroes every counter in one
// transaction. Used by full reindex before the store is cleared.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: begin reset tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM indexed_chunks`); err != nil {
		return fmt.Errorf("state: reset chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE indexing_state
		 SET last_message_rowid = 0, last_indexed_at = 0,
		     total_messages_indexed = 0, total_chunks_created = 0
		 WHERE id = 1`); err != nil {
		return fmt.Errorf("state: reset counters: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: commit reset: %w", err)
	}
	s.log.Info("indexing state reset")
	return nil
}

// ChunkCount returns the number of recorded chunks.
func (s *Store) ChunkCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM indexed_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("state: chunk count: %w", err)
	}
	return n, nil
}
