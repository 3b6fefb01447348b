// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package messagedb

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/stillwaterhq/recall/pkg/mactime"
)

// newTestDB writes a minimal chat.db fixture to a temp file and returns
// its path plus a writable handle for seeding.
func newTestDB(t *testing.T) (string, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chat.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for _, stmt := range []string{
		`CREATE TABLE handle (
			ROWID INTEGER PRIMARY KEY,
			id TEXT NOT NULL,
			service TEXT
		)`,
		`CREATE TABLE chat (
			ROWID INTEGER PRIMARY KEY,
			guid TEXT,
			chat_identifier TEXT,
			display_name TEXT,
			service_name TEXT
		)`,
		`CREATE TABLE message (
			ROWID INTEGER PRIMARY KEY,
			guid TEXT,
			text TEXT,
			attributedBody BLOB,
			handle_id INTEGER DEFAULT 0,
			service TEXT,
			date INTEGER,
			is_from_me INTEGER DEFAULT 0
		)`,
		`CREATE TABLE chat_message_join (
			chat_id INTEGER,
			message_id INTEGER,
			PRIMARY KEY (chat_id, message_id)
		)`,
		`CREATE TABLE attachment (
			ROWID INTEGER PRIMARY KEY,
			guid TEXT,
			mime_type TEXT,
			transfer_name TEXT,
			total_bytes INTEGER DEFAULT 0,
			filename TEXT,
			created_date INTEGER DEFAULT 0
		)`,
		`CREATE TABLE message_attachment_join (
			message_id INTEGER,
			attachment_id INTEGER
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("create table: %v", err)
		}
	}
	return path, db
}

// appleNanos converts Unix seconds to the date column encoding.
func appleNanos(unix int64) int64 {
	return mactime.UnixToAppleNanos(unix)
}

func seedMessage(t *testing.T, db *sql.DB, rowid int64, text string, blob []byte, unix int64, fromMe bool, handleRowid, chatRowid int64) {
	t.Helper()
	isFromMe := 0
	if fromMe {
		isFromMe = 1
	}
	if _, err := db.Exec(
		`INSERT INTO message (ROWID, guid, text, attributedBody, handle_id, service, date, is_from_me)
		 VALUES (?, ?, ?, ?, ?, 'iMessage', ?, ?)`,
		rowid, text+"-guid", text, blob, handleRowid, appleNanos(unix), isFromMe); err != nil {
		t.Fatalf("insert message %d: %v", rowid, err)
	}
	if chatRowid != 0 {
		if _, err := db.Exec(
			`INSERT INTO chat_message_join (chat_id, message_id) VALUES (?, ?)`,
			chatRowid, rowid); err != nil {
			t.Fatalf("join message %d: %v", rowid, err)
		}
	}
}

func seedChat(t *testing.T, db *sql.DB, rowid int64, identifier, displayName string) {
	t.Helper()
	if _, err := db.Exec(
		`INSERT INTO chat (ROWID, guid, chat_identifier, display_name, service_name)
		 VALUES (?, ?, ?, ?, 'iMessage')`,
		rowid, identifier+"-guid", identifier, displayName); err != nil {
		t.Fatalf("insert chat: %v", err)
	}
}

func seedHandle(t *testing.T, db *sql.DB, rowid int64, id string) {
	t.Helper()
	if _, err := db.Exec(
		`INSERT INTO handle (ROWID, id, service) VALUES (?, ?, 'iMessage')`, rowid, id); err != nil {
		t.Fatalf("insert handle: %v", err)
	}
}
