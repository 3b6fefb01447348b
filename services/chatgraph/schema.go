// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chatgraph maintains the canonical graph of people and chats:
// who a handle belongs to, what a chat is called, and who is in it.
package chatgraph

const schema = `
CREATE TABLE IF NOT EXISTS persons (
    id TEXT PRIMARY KEY,
    display_name TEXT NOT NULL,
    notes TEXT,
    is_owner INTEGER NOT NULL DEFAULT 0,
    auto_created INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_persons_owner ON persons(is_owner);

CREATE TABLE IF NOT EXISTS handles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    person_id TEXT NOT NULL REFERENCES persons(id) ON DELETE CASCADE,
    handle TEXT NOT NULL,
    handle_normalized TEXT NOT NULL,
    handle_type TEXT NOT NULL CHECK (handle_type IN ('phone', 'email', 'appleid'))
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_handles_normalized ON handles(handle_normalized);

CREATE TABLE IF NOT EXISTS aliases (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    person_id TEXT NOT NULL REFERENCES persons(id) ON DELETE CASCADE,
    alias TEXT NOT NULL,
    alias_lower TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_aliases_lower ON aliases(alias_lower);

CREATE TABLE IF NOT EXISTS relationships (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    from_person_id TEXT NOT NULL REFERENCES persons(id) ON DELETE CASCADE,
    to_person_id TEXT NOT NULL REFERENCES persons(id) ON DELETE CASCADE,
    relationship_type TEXT NOT NULL,
    UNIQUE (from_person_id, to_person_id, relationship_type)
);

CREATE TABLE IF NOT EXISTS person_attributes (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    person_id TEXT NOT NULL REFERENCES persons(id) ON DELETE CASCADE,
    attribute_key TEXT NOT NULL,
    attribute_value TEXT,
    UNIQUE (person_id, attribute_key)
);

CREATE TABLE IF NOT EXISTS chats (
    id TEXT PRIMARY KEY,
    imessage_id TEXT NOT NULL UNIQUE,
    display_name TEXT,
    is_group_chat INTEGER NOT NULL DEFAULT 0,
    notes TEXT,
    auto_created INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_aliases (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
    alias TEXT NOT NULL,
    alias_lower TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_aliases_lower ON chat_aliases(alias_lower);

CREATE TABLE IF NOT EXISTS chat_participants (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
    person_id TEXT NOT NULL REFERENCES persons(id) ON DELETE CASCADE,
    joined_at INTEGER,
    left_at INTEGER,
    UNIQUE (chat_id, person_id)
);
`

// RelationshipTypes is the closed set accepted for relationship edges.
var RelationshipTypes = map[string]bool{
	"spouse":    true,
	"partner":   true,
	"parent":    true,
	"child":     true,
	"sibling":   true,
	"friend":    true,
	"coworker":  true,
	"relative":  true,
	"neighbor":  true,
	"classmate": true,
}
