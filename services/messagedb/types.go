// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package messagedb

// RawMessage is one usable row from the platform message store.
//
// Text is guaranteed non-empty: rows whose text column is empty and whose
// attributedBody yields nothing are dropped by the reader.
type RawMessage struct {
	Rowid     int64
	Text      string
	Timestamp int64 // Unix seconds
	IsFromMe  bool
	HandleID  string // phone/email of the counterparty, empty for own sends
	ChatID    string // platform chat_identifier
	GroupName string // chat display_name, empty for unnamed chats
	Service   string // "iMessage" / "SMS"
}

// Batch is one page of usable messages plus the scan bookkeeping the
// indexing cursor runs on. The SQL predicate admits rows whose blob may
// still yield no text; those are dropped from Messages after the LIMIT
// was consumed, so neither len(Messages) nor the last message ROWID can
// stand in for how far the page actually scanned.
type Batch struct {
	Messages []RawMessage

	// Scanned counts the SQL rows this page consumed, dropped rows
	// included. A page with Scanned < limit exhausted the store.
	Scanned int

	// LastRowid is the largest ROWID scanned, dropped rows included.
	// Zero when Scanned is zero.
	LastRowid int64
}

// Attachment is one image attachment row, with its path resolved.
type Attachment struct {
	Rowid        int64
	GUID         string
	Path         string // absolute, tilde expanded
	MimeType     string
	MessageRowid int64
	ChatID       string
	CreatedAt    int64 // Unix seconds
	TransferName string
	TotalBytes   int64
}

// Stats summarizes the message table for status and verify output.
type Stats struct {
	TotalMessages int64
	MinRowid      int64
	MaxRowid      int64
	OldestDate    int64 // Unix seconds, 0 when the table is empty
	NewestDate    int64
}
