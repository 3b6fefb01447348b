// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chatgraph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/stillwaterhq/recall/services/contacts"
)

// Person is one canonical correspondent.
type Person struct {
	ID          string
	DisplayName string
	Notes       string
	IsOwner     bool
	AutoCreated bool
	CreatedAt   int64
	UpdatedAt   int64
}

// Chat is one canonical conversation.
type Chat struct {
	ID          string
	IMessageID  string
	DisplayName string
	IsGroupChat bool
	Notes       string
	AutoCreated bool
}

// Resolution is the outcome of a fuzzy lookup. When Found is false,
// Suggestions may carry up to five near-miss names.
type Resolution struct {
	Found       bool
	PersonID    string
	ChatID      string
	DisplayName string
	Suggestions []string
}

const maxSuggestions = 5

// Graph owns a private SQLite handle for the chat-graph database.
type Graph struct {
	db  *sql.DB
	log *slog.Logger

	// chatCache maps platform chat identifiers to internal chat ids. It
	// is the ingest hot path: one lookup per chunk.
	mu        sync.RWMutex
	chatCache map[string]string
}

// DefaultPath returns the conventional graph database location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "recall_graph.db"
	}
	return filepath.Join(home, ".recall", "graph.db")
}

// Open opens the graph database at path, applying the schema and priming
// the chat-id cache.
func Open(path string, log *slog.Logger) (*Graph, error) {
	if log == nil {
		log = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("chatgraph: create dir %s: %w", dir, err)
		}
	}
	// Cascades depend on foreign keys, which SQLite enables per
	// connection, so the pragma rides on the DSN.
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", path))
	if err != nil {
		return nil, fmt.Errorf("chatgraph: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("chatgraph: apply schema: %w", err)
	}

	g := &Graph{db: db, log: log, chatCache: make(map[string]string)}
	if err := g.loadChatCache(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	log.Debug("chat graph opened", "path", path, "cached_chats", len(g.chatCache))
	return g, nil
}

// Close releases the database handle.
func (g *Graph) Close() error {
	return g.db.Close()
}

func (g *Graph) loadChatCache(ctx context.Context) error {
	rows, err := g.db.QueryContext(ctx, `SELECT imessage_id, id FROM chats`)
	if err != nil {
		return fmt.Errorf("chatgraph: load chat cache: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var imID, id string
		if err := rows.Scan(&imID, &id); err != nil {
			return fmt.Errorf("chatgraph: scan chat cache: %w", err)
		}
		g.chatCache[imID] = id
	}
	return rows.Err()
}

// HandleType classifies a raw handle as phone, email, or appleid.
func HandleType(handle string) string {
	if strings.Contains(handle, "@") {
		return "email"
	}
	for _, r := range handle {
		if r >= '0' && r <= '9' {
			return "phone"
		}
	}
	return "appleid"
}

// NormalizeHandle maps a raw handle to the form stored in the unique
// handle index. Phones share the contact resolver's digit normalization
// so both layers agree on identity.
func NormalizeHandle(handle string) string {
	if HandleType(handle) == "email" {
		return contacts.NormalizeEmail(handle)
	}
	if HandleType(handle) == "phone" {
		return contacts.NormalizePhone(handle)
	}
	return strings.ToLower(strings.TrimSpace(handle))
}

// EnsureOwner returns the owner person, creating the record on first use.
func (g *Graph) EnsureOwner(ctx context.Context, displayName string) (Person, error) {
	var p Person
	err := g.db.QueryRowContext(ctx,
		`SELECT id, display_name, is_owner FROM persons WHERE is_owner = 1`).
		Scan(&p.ID, &p.DisplayName, &p.IsOwner)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Person{}, fmt.Errorf("chatgraph: owner lookup: %w", err)
	}

	now := time.Now().Unix()
	p = Person{ID: uuid.NewString(), DisplayName: displayName, IsOwner: true, CreatedAt: now, UpdatedAt: now}
	_, err = g.db.ExecContext(ctx,
		`INSERT INTO persons (id, display_name, is_owner, auto_created, created_at, updated_at)
		 VALUES (?, ?, 1, 0, ?, ?)`, p.ID, p.DisplayName, now, now)
	if err != nil {
		return Person{}, fmt.Errorf("chatgraph: create owner: %w", err)
	}
	return p, nil
}

// ResolveOrCreatePerson finds the person owning handle, creating an
// auto-created record named displayName on miss. The handle row is
// inserted in the same transaction as the person.
func (g *Graph) ResolveOrCreatePerson(ctx context.Context, handle, displayName string) (Person, error) {
	norm := NormalizeHandle(handle)

	var p Person
	err := g.db.QueryRowContext(ctx,
		`SELECT p.id, p.display_name, p.is_owner, p.auto_created
		 FROM persons p JOIN handles h ON h.person_id = p.id
		 WHERE h.handle_normalized = ?`, norm).
		Scan(&p.ID, &p.DisplayName, &p.IsOwner, &p.AutoCreated)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Person{}, fmt.Errorf("chatgraph: person lookup %s: %w", norm, err)
	}

	if displayName == "" {
		displayName = handle
	}
	now := time.Now().Unix()
	p = Person{ID: uuid.NewString(), DisplayName: displayName, AutoCreated: true, CreatedAt: now, UpdatedAt: now}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return Person{}, fmt.Errorf("chatgraph: begin person tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO persons (id, display_name, is_owner, auto_created, created_at, updated_at)
		 VALUES (?, ?, 0, 1, ?, ?)`, p.ID, p.DisplayName, now, now); err != nil {
		return Person{}, fmt.Errorf("chatgraph: create person: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO handles (person_id, handle, handle_normalized, handle_type)
		 VALUES (?, ?, ?, ?)`, p.ID, handle, norm, HandleType(handle)); err != nil {
		return Person{}, fmt.Errorf("chatgraph: attach handle %s: %w", norm, err)
	}
	if err := tx.Commit(); err != nil {
		return Person{}, fmt.Errorf("chatgraph: commit person: %w", err)
	}
	return p, nil
}

// AddAlias attaches an alternate name to a person.
func (g *Graph) AddAlias(ctx context.Context, personID, alias string) error {
	_, err := g.db.ExecContext(ctx,
		`INSERT INTO aliases (person_id, alias, alias_lower) VALUES (?, ?, ?)`,
		personID, alias, strings.ToLower(alias))
	if err != nil {
		return fmt.Errorf("chatgraph: add alias: %w", err)
	}
	return nil
}

// AddRelationship records a directed labeled edge. The type must come
// from RelationshipTypes.
func (g *Graph) AddRelationship(ctx context.Context, fromID, toID, relType string) error {
	if !RelationshipTypes[relType] {
		return fmt.Errorf("chatgraph: unknown relationship type %q", relType)
	}
	_, err := g.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO relationships (from_person_id, to_person_id, relationship_type)
		 VALUES (?, ?, ?)`, fromID, toID, relType)
	if err != nil {
		return fmt.Errorf("chatgraph: add relationship: %w", err)
	}
	return nil
}

// SetAttribute upserts a (person, key) attribute.
func (g *Graph) SetAttribute(ctx context.Context, personID, key, value string) error {
	_, err := g.db.ExecContext(ctx,
		`INSERT INTO person_attributes (person_id, attribute_key, attribute_value)
		 VALUES (?, ?, ?)
		 ON CONFLICT (person_id, attribute_key) DO UPDATE SET attribute_value = excluded.attribute_value`,
		personID, key, value)
	if err != nil {
		return fmt.Errorf("chatgraph: set attribute: %w", err)
	}
	return nil
}

// DeletePerson removes a person; handles, aliases, attributes, and
// participant rows cascade.
func (g *Graph) DeletePerson(ctx context.Context, personID string) error {
	if _, err := g.db.ExecContext(ctx, `DELETE FROM persons WHERE id = ?`, personID); err != nil {
		return fmt.Errorf("chatgraph: delete person: %w", err)
	}
	return nil
}

// ResolvePerson looks a person up by display name, alias, or handle.
// Policy: exact lowercase display match, then exact alias match, then a
// unique substring match, then up to five suggestions.
func (g *Graph) ResolvePerson(ctx context.Context, query string) (Resolution, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return Resolution{}, nil
	}

	var id, name string
	err := g.db.QueryRowContext(ctx,
		`SELECT id, display_name FROM persons WHERE LOWER(display_name) = ?`, q).Scan(&id, &name)
	if err == nil {
		return Resolution{Found: true, PersonID: id, DisplayName: name}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Resolution{}, fmt.Errorf("chatgraph: person display lookup: %w", err)
	}

	err = g.db.QueryRowContext(ctx,
		`SELECT p.id, p.display_name FROM persons p JOIN aliases a ON a.person_id = p.id
		 WHERE a.alias_lower = ?`, q).Scan(&id, &name)
	if err == nil {
		return Resolution{Found: true, PersonID: id, DisplayName: name}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Resolution{}, fmt.Errorf("chatgraph: person alias lookup: %w", err)
	}

	// Handle-shaped queries short-circuit to the handle index.
	if norm := NormalizeHandle(query); norm != q || strings.Contains(query, "@") {
		err = g.db.QueryRowContext(ctx,
			`SELECT p.id, p.display_name FROM persons p JOIN handles h ON h.person_id = p.id
			 WHERE h.handle_normalized = ?`, norm).Scan(&id, &name)
		if err == nil {
			return Resolution{Found: true, PersonID: id, DisplayName: name}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Resolution{}, fmt.Errorf("chatgraph: person handle lookup: %w", err)
		}
	}

	return g.fuzzy(ctx,
		`SELECT id, display_name FROM persons WHERE LOWER(display_name) LIKE ? ORDER BY display_name LIMIT ?`,
		`SELECT p.id, p.display_name FROM persons p JOIN aliases a ON a.person_id = p.id
		 WHERE a.alias_lower LIKE ? ORDER BY p.display_name LIMIT ?`,
		q, func(id, name string) Resolution {
			return Resolution{Found: true, PersonID: id, DisplayName: name}
		})
}

// ResolveOrCreateChat finds the chat for a platform chat identifier,
// creating it on miss. A provided display name becomes an alias in the
// same transaction. The hot-path cache answers repeat lookups.
func (g *Graph) ResolveOrCreateChat(ctx context.Context, imessageID, displayName string, isGroup bool) (Chat, error) {
	g.mu.RLock()
	cached, ok := g.chatCache[imessageID]
	g.mu.RUnlock()
	if ok {
		return Chat{ID: cached, IMessageID: imessageID, DisplayName: displayName, IsGroupChat: isGroup}, nil
	}

	var c Chat
	var dn sql.NullString
	err := g.db.QueryRowContext(ctx,
		`SELECT id, imessage_id, display_name, is_group_chat, auto_created FROM chats WHERE imessage_id = ?`,
		imessageID).Scan(&c.ID, &c.IMessageID, &dn, &c.IsGroupChat, &c.AutoCreated)
	if err == nil {
		c.DisplayName = dn.String
		g.cacheChat(imessageID, c.ID)
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Chat{}, fmt.Errorf("chatgraph: chat lookup %s: %w", imessageID, err)
	}

	now := time.Now().Unix()
	c = Chat{ID: uuid.NewString(), IMessageID: imessageID, DisplayName: displayName, IsGroupChat: isGroup, AutoCreated: true}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return Chat{}, fmt.Errorf("chatgraph: begin chat tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chats (id, imessage_id, display_name, is_group_chat, auto_created, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?)`,
		c.ID, imessageID, nullable(displayName), isGroup, now, now); err != nil {
		return Chat{}, fmt.Errorf("chatgraph: create chat: %w", err)
	}
	if displayName != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chat_aliases (chat_id, alias, alias_lower) VALUES (?, ?, ?)`,
			c.ID, displayName, strings.ToLower(displayName)); err != nil {
			return Chat{}, fmt.Errorf("chatgraph: create chat alias: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Chat{}, fmt.Errorf("chatgraph: commit chat: %w", err)
	}
	g.cacheChat(imessageID, c.ID)
	return c, nil
}

func (g *Graph) cacheChat(imessageID, id string) {
	g.mu.Lock()
	g.chatCache[imessageID] = id
	g.mu.Unlock()
}

// AddChatAlias attaches an alternate name to a chat.
func (g *Graph) AddChatAlias(ctx context.Context, chatID, alias string) error {
	_, err := g.db.ExecContext(ctx,
		`INSERT INTO chat_aliases (chat_id, alias, alias_lower) VALUES (?, ?, ?)`,
		chatID, alias, strings.ToLower(alias))
	if err != nil {
		return fmt.Errorf("chatgraph: add chat alias: %w", err)
	}
	return nil
}

// DeleteChat removes a chat; aliases and participants cascade. The cache
// entry is dropped as well.
func (g *Graph) DeleteChat(ctx context.Context, chatID string) error {
	var imID string
	err := g.db.QueryRowContext(ctx, `SELECT imessage_id FROM chats WHERE id = ?`, chatID).Scan(&imID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("chatgraph: delete chat lookup: %w", err)
	}
	if _, err := g.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, chatID); err != nil {
		return fmt.Errorf("chatgraph: delete chat: %w", err)
	}
	if imID != "" {
		g.mu.Lock()
		delete(g.chatCache, imID)
		g.mu.Unlock()
	}
	return nil
}

// ResolveChat looks a chat up by display name or alias with the same
// fuzzy ladder as ResolvePerson.
func (g *Graph) ResolveChat(ctx context.Context, query string) (Resolution, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return Resolution{}, nil
	}

	var id string
	var dn sql.NullString
	err := g.db.QueryRowContext(ctx,
		`SELECT id, display_name FROM chats WHERE LOWER(display_name) = ?`, q).Scan(&id, &dn)
	if err == nil {
		return Resolution{Found: true, ChatID: id, DisplayName: dn.String}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Resolution{}, fmt.Errorf("chatgraph: chat display lookup: %w", err)
	}

	err = g.db.QueryRowContext(ctx,
		`SELECT c.id, c.display_name FROM chats c JOIN chat_aliases a ON a.chat_id = c.id
		 WHERE a.alias_lower = ?`, q).Scan(&id, &dn)
	if err == nil {
		return Resolution{Found: true, ChatID: id, DisplayName: dn.String}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Resolution{}, fmt.Errorf("chatgraph: chat alias lookup: %w", err)
	}

	return g.fuzzy(ctx,
		`SELECT id, COALESCE(display_name, '') FROM chats WHERE LOWER(display_name) LIKE ? ORDER BY display_name LIMIT ?`,
		`SELECT c.id, COALESCE(c.display_name, '') FROM chats c JOIN chat_aliases a ON a.chat_id = c.id
		 WHERE a.alias_lower LIKE ? ORDER BY c.display_name LIMIT ?`,
		q, func(id, name string) Resolution {
			return Resolution{Found: true, ChatID: id, DisplayName: name}
		})
}

// fuzzy runs the substring ladder: a single match on the display query
// resolves; multiple matches become suggestions; the alias query is the
// fallback with the same rules.
func (g *Graph) fuzzy(ctx context.Context, displayQuery, aliasQuery, q string, hit func(id, name string) Resolution) (Resolution, error) {
	pattern := "%" + q + "%"
	for _, query := range []string{displayQuery, aliasQuery} {
		ids, names, err := g.collectMatches(ctx, query, pattern)
		if err != nil {
			return Resolution{}, err
		}
		if len(ids) == 1 {
			return hit(ids[0], names[0]), nil
		}
		if len(ids) > 1 {
			return Resolution{Suggestions: names}, nil
		}
	}
	return Resolution{Suggestions: []string{}}, nil
}

func (g *Graph) collectMatches(ctx context.Context, query, pattern string) (ids, names []string, err error) {
	rows, err := g.db.QueryContext(ctx, query, pattern, maxSuggestions)
	if err != nil {
		return nil, nil, fmt.Errorf("chatgraph: fuzzy query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, nil, fmt.Errorf("chatgraph: fuzzy scan: %w", err)
		}
		ids = append(ids, id)
		names = append(names, name)
	}
	return ids, names, rows.Err()
}

// EnsureParticipants records that the given persons are in the chat.
// Existing rows are untouched, so repeat calls are idempotent and never
// clobber joined_at/left_at.
func (g *Graph) EnsureParticipants(ctx context.Context, chatID string, personIDs []string) error {
	if len(personIDs) == 0 {
		return nil
	}
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("chatgraph: begin participants tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO chat_participants (chat_id, person_id, joined_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("chatgraph: prepare participants: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, pid := range personIDs {
		if _, err := stmt.ExecContext(ctx, chatID, pid, now); err != nil {
			return fmt.Errorf("chatgraph: add participant %s: %w", pid, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("chatgraph: commit participants: %w", err)
	}
	return nil
}

// Participants returns the person ids currently in the chat (left_at
// null).
func (g *Graph) Participants(ctx context.Context, chatID string) ([]string, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT person_id FROM chat_participants WHERE chat_id = ? AND left_at IS NULL`, chatID)
	if err != nil {
		return nil, fmt.Errorf("chatgraph: participants: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var pid string
		if err := rows.Scan(&pid); err != nil {
			return nil, fmt.Errorf("chatgraph: scan participant: %w", err)
		}
		out = append(out, pid)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
