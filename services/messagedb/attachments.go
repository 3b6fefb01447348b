// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package messagedb

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
)

// imageExtensions supplements the MIME filter: older rows sometimes carry
// a null or bogus mime_type but a recognizable filename.
var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".heic": true, ".heif": true, ".webp": true, ".tiff": true, ".bmp": true,
}

const attachmentColumns = `
	a.ROWID,
	COALESCE(a.guid, ''),
	COALESCE(a.filename, ''),
	COALESCE(a.mime_type, ''),
	maj.message_id,
	COALESCE(c.chat_identifier, ''),
	COALESCE(CAST(a.created_date AS TEXT), '0'),
	COALESCE(a.transfer_name, ''),
	COALESCE(a.total_bytes, 0)
`

const attachmentJoins = `
	FROM attachment a
	JOIN message_attachment_join maj ON maj.attachment_id = a.ROWID
	LEFT JOIN chat_message_join cmj ON cmj.message_id = maj.message_id
	LEFT JOIN chat c ON cmj.chat_id = c.ROWID
`

// ReadImages returns image attachments with ROWID strictly greater than
// sinceRowid, ascending, up to limit. Rows without a filename are skipped
// in SQL; rows that are neither image-MIME nor image-extension are
// filtered here.
func (r *Reader) ReadImages(ctx context.Context, sinceRowid int64, limit int) ([]Attachment, error) {
	if limit <= 0 {
		limit = defaultReadLimit
	}
	q := `SELECT ` + attachmentColumns + attachmentJoins + `
		WHERE a.ROWID > ? AND a.filename IS NOT NULL AND a.filename != ''
		ORDER BY a.ROWID ASC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, q, sinceRowid, limit)
	if err != nil {
		return nil, fmt.Errorf("read attachments after rowid %d: %w", sinceRowid, err)
	}
	defer rows.Close()
	return r.collectImages(rows)
}

// ImagesForMessage returns the image attachments joined to one message row.
func (r *Reader) ImagesForMessage(ctx context.Context, messageRowid int64) ([]Attachment, error) {
	q := `SELECT ` + attachmentColumns + attachmentJoins + `
		WHERE maj.message_id = ? AND a.filename IS NOT NULL AND a.filename != ''
		ORDER BY a.ROWID ASC
	`
	rows, err := r.db.QueryContext(ctx, q, messageRowid)
	if err != nil {
		return nil, fmt.Errorf("attachments for message %d: %w", messageRowid, err)
	}
	defer rows.Close()
	return r.collectImages(rows)
}

func (r *Reader) collectImages(rows *sql.Rows) ([]Attachment, error) {
	var out []Attachment
	for rows.Next() {
		var (
			a          Attachment
			createdRaw string
		)
		if err := rows.Scan(&a.Rowid, &a.GUID, &a.Path, &a.MimeType, &a.MessageRowid,
			&a.ChatID, &createdRaw, &a.TransferName, &a.TotalBytes); err != nil {
			return nil, fmt.Errorf("scan attachment row: %w", err)
		}
		if !IsImageAttachment(a.MimeType, a.Path) {
			continue
		}
		a.Path = expandTilde(a.Path)
		a.CreatedAt = parseAppleDate(createdRaw)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return out, nil
}

// IsImageAttachment reports whether an attachment row looks like an image,
// by MIME prefix or by filename extension.
func IsImageAttachment(mimeType, filename string) bool {
	if strings.HasPrefix(strings.ToLower(mimeType), "image/") {
		return true
	}
	return imageExtensions[strings.ToLower(filepath.Ext(filename))]
}
