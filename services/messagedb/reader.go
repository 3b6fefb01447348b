// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package messagedb reads the platform Messages SQLite store.
//
// The store is opened strictly read-only; recall never writes to it.
// Message pagination is keyset pagination over the integer ROWID. The
// cursor contract is load-bearing: ROWIDs and timestamps are imperfectly
// correlated in chat.db (edits and syncs backfill old dates under new
// ROWIDs), so paging by date can jump the cursor past rows that were
// never indexed. Every query here orders by ROWID.
package messagedb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/stillwaterhq/recall/pkg/mactime"
)

// ErrStoreUnreadable reports that the message database cannot be opened.
// On macOS this is almost always missing Full Disk Access.
var ErrStoreUnreadable = errors.New("message store unreadable")

// DefaultPath is the standard location of the Messages database.
const DefaultPath = "~/Library/Messages/chat.db"

const defaultReadLimit = 10000

// minBlobLen is the smallest attributedBody worth parsing; anything
// shorter cannot contain an inline NSString payload.
const minBlobLen = 10

// Reader streams messages and image attachments from chat.db.
//
// A Reader owns a single read-only connection. It is safe for concurrent
// queries but should be closed promptly after an indexing run: the file
// belongs to the OS messaging daemon, not to us.
type Reader struct {
	db   *sql.DB
	path string
	log  *slog.Logger
}

// Open opens the message store read-only.
//
// Returns ErrStoreUnreadable (wrapped) when the file does not exist or the
// driver refuses the connection.
func Open(path string, log *slog.Logger) (*Reader, error) {
	if log == nil {
		log = slog.Default()
	}
	resolved := expandTilde(path)
	if _, err := os.Stat(resolved); err != nil {
		return nil, fmt.Errorf("%w: %s (grant Full Disk Access to your terminal)", ErrStoreUnreadable, resolved)
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", resolved))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnreadable, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnreadable, err)
	}
	log.Debug("opened message store", "path", resolved)
	return &Reader{db: db, path: resolved, log: log}, nil
}

// Close releases the underlying connection.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Path returns the resolved on-disk location of the store.
func (r *Reader) Path() string {
	return r.path
}

// ReadMessages returns up to limit usable messages with ROWID strictly
// greater than sinceRowid, in ascending ROWID order.
//
// A row is usable when its text column is non-empty or its attributedBody
// blob yields text under the heuristic in blob.go. Rows the SQL predicate
// admits but the blob heuristic cannot decode are silently dropped from
// Messages; they still count in Scanned and LastRowid so the caller's
// cursor passes them instead of re-reading (or stopping at) them forever.
func (r *Reader) ReadMessages(ctx context.Context, sinceRowid int64, limit int) (Batch, error) {
	if limit <= 0 {
		limit = defaultReadLimit
	}
	const q = `
		SELECT m.ROWID,
		       COALESCE(m.text, ''),
		       m.attributedBody,
		       COALESCE(CAST(m.date AS TEXT), '0'),
		       m.is_from_me,
		       COALESCE(h.id, ''),
		       COALESCE(c.chat_identifier, ''),
		       COALESCE(c.display_name, ''),
		       COALESCE(m.service, '')
		FROM message m
		LEFT JOIN handle h ON m.handle_id = h.ROWID
		LEFT JOIN chat_message_join cmj ON cmj.message_id = m.ROWID
		LEFT JOIN chat c ON cmj.chat_id = c.ROWID
		WHERE m.ROWID > ?
		  AND ((m.text IS NOT NULL AND m.text != '')
		       OR (m.attributedBody IS NOT NULL AND length(m.attributedBody) > ?))
		ORDER BY m.ROWID ASC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, q, sinceRowid, minBlobLen, limit)
	if err != nil {
		return Batch{}, fmt.Errorf("read messages after rowid %d: %w", sinceRowid, err)
	}
	defer rows.Close()

	var out Batch
	dropped := 0
	for rows.Next() {
		var (
			msg     RawMessage
			blob    []byte
			dateRaw string
		)
		if err := rows.Scan(&msg.Rowid, &msg.Text, &blob, &dateRaw,
			&msg.IsFromMe, &msg.HandleID, &msg.ChatID, &msg.GroupName, &msg.Service); err != nil {
			return Batch{}, fmt.Errorf("scan message row: %w", err)
		}
		out.Scanned++
		out.LastRowid = msg.Rowid
		if msg.Text == "" {
			msg.Text = ExtractAttributedText(blob)
		}
		if msg.Text == "" {
			dropped++
			continue
		}
		msg.Timestamp = parseAppleDate(dateRaw)
		out.Messages = append(out.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return Batch{}, fmt.Errorf("iterate messages: %w", err)
	}
	if dropped > 0 {
		r.log.Debug("dropped rows with no extractable text", "count", dropped)
	}
	return out, nil
}

// MaxUsableRowid returns the largest ROWID among rows the message
// predicate accepts. verify uses it to confirm the persisted cursor
// reached the end of the table.
func (r *Reader) MaxUsableRowid(ctx context.Context) (int64, error) {
	const q = `
		SELECT COALESCE(MAX(ROWID), 0)
		FROM message
		WHERE (text IS NOT NULL AND text != '')
		   OR (attributedBody IS NOT NULL AND length(attributedBody) > ?)
	`
	var max int64
	if err := r.db.QueryRowContext(ctx, q, minBlobLen).Scan(&max); err != nil {
		return 0, fmt.Errorf("max usable rowid: %w", err)
	}
	return max, nil
}

// CountUsableSince returns how many usable rows sit strictly after the
// given ROWID. The status block reports this as pending work.
func (r *Reader) CountUsableSince(ctx context.Context, sinceRowid int64) (int64, error) {
	const q = `
		SELECT COUNT(*)
		FROM message
		WHERE ROWID > ?
		  AND ((text IS NOT NULL AND text != '')
		       OR (attributedBody IS NOT NULL AND length(attributedBody) > ?))
	`
	var n int64
	if err := r.db.QueryRowContext(ctx, q, sinceRowid, minBlobLen).Scan(&n); err != nil {
		return 0, fmt.Errorf("count usable since rowid %d: %w", sinceRowid, err)
	}
	return n, nil
}

// Stats summarizes the message table.
func (r *Reader) Stats(ctx context.Context) (Stats, error) {
	const q = `
		SELECT COUNT(*),
		       COALESCE(MIN(ROWID), 0),
		       COALESCE(MAX(ROWID), 0),
		       COALESCE(CAST(MIN(date) AS TEXT), '0'),
		       COALESCE(CAST(MAX(date) AS TEXT), '0')
		FROM message
	`
	var (
		s                    Stats
		oldestRaw, newestRaw string
	)
	if err := r.db.QueryRowContext(ctx, q).Scan(
		&s.TotalMessages, &s.MinRowid, &s.MaxRowid, &oldestRaw, &newestRaw); err != nil {
		return Stats{}, fmt.Errorf("message stats: %w", err)
	}
	if s.TotalMessages > 0 {
		s.OldestDate = parseAppleDate(oldestRaw)
		s.NewestDate = parseAppleDate(newestRaw)
	}
	return s, nil
}

// parseAppleDate converts the date column, scanned as text, to Unix
// seconds. Values are scanned as text because synced databases have been
// seen carrying values wider than 63 bits.
func parseAppleDate(raw string) int64 {
	n, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return 0
	}
	return mactime.AppleNanosToUnixBig(n)
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") || path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
