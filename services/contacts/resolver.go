// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package contacts resolves raw message handles (phone numbers, email
// addresses) to display names using the macOS AddressBook databases.
//
// Resolution is best-effort by design: a missing or unreadable source is
// skipped silently, and an unknown handle resolves to itself, so search
// output degrades to raw phone numbers rather than failing.
package contacts

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Resolver maps normalized handles to contact display names.
//
// Both maps are populated once at construction and read-only afterwards,
// so a Resolver is safe for concurrent use.
type Resolver struct {
	byPhone map[string]string // normalized digits -> display name
	byEmail map[string]string // lowercased email -> display name
	log     *slog.Logger
}

// DefaultSources returns the AddressBook database paths to try, in
// priority order: the primary database, then one per synced account
// under Sources/.
func DefaultSources() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	base := filepath.Join(home, "Library", "Application Support", "AddressBook")
	paths := []string{filepath.Join(base, "AddressBook-v22.abcddb")}
	matches, _ := filepath.Glob(filepath.Join(base, "Sources", "*", "AddressBook-v22.abcddb"))
	return append(paths, matches...)
}

// NewResolver loads every reachable source. Individual open failures are
// silent; loading zero contacts overall logs a warning but still returns
// a usable resolver.
func NewResolver(sources []string, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	r := &Resolver{
		byPhone: make(map[string]string),
		byEmail: make(map[string]string),
		log:     log,
	}
	for _, src := range sources {
		r.loadSource(src)
	}
	if len(r.byPhone) == 0 && len(r.byEmail) == 0 {
		log.Warn("no contacts loaded, handles will appear unresolved", "sources", len(sources))
	} else {
		log.Debug("contacts loaded", "phones", len(r.byPhone), "emails", len(r.byEmail))
	}
	return r
}

func (r *Resolver) loadSource(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return
	}
	defer db.Close()

	phoneRows, err := db.Query(`
		SELECT COALESCE(r.ZFIRSTNAME, ''), COALESCE(r.ZLASTNAME, ''),
		       COALESCE(r.ZORGANIZATION, ''), p.ZFULLNUMBER
		FROM ZABCDRECORD r
		JOIN ZABCDPHONENUMBER p ON p.ZOWNER = r.Z_PK
	`)
	if err == nil {
		defer phoneRows.Close()
		for phoneRows.Next() {
			var first, last, org, phone string
			if err := phoneRows.Scan(&first, &last, &org, &phone); err != nil {
				continue
			}
			name := displayName(first, last, org)
			key := NormalizePhone(phone)
			if name == "" || key == "" {
				continue
			}
			// First source wins on collision.
			if _, exists := r.byPhone[key]; !exists {
				r.byPhone[key] = name
			}
		}
	}

	emailRows, err := db.Query(`
		SELECT COALESCE(r.ZFIRSTNAME, ''), COALESCE(r.ZLASTNAME, ''),
		       COALESCE(r.ZORGANIZATION, ''), e.ZADDRESS
		FROM ZABCDRECORD r
		JOIN ZABCDEMAILADDRESS e ON e.ZOWNER = r.Z_PK
	`)
	if err == nil {
		defer emailRows.Close()
		for emailRows.Next() {
			var first, last, org, email string
			if err := emailRows.Scan(&first, &last, &org, &email); err != nil {
				continue
			}
			name := displayName(first, last, org)
			key := NormalizeEmail(email)
			if name == "" || key == "" {
				continue
			}
			if _, exists := r.byEmail[key]; !exists {
				r.byEmail[key] = name
			}
		}
	}
}

// Resolve returns the display name for a handle, or the handle itself
// when no contact matches.
func (r *Resolver) Resolve(handle string) string {
	if handle == "" {
		return handle
	}
	if strings.Contains(handle, "@") {
		if name, ok := r.byEmail[NormalizeEmail(handle)]; ok {
			return name
		}
		return handle
	}
	if name, ok := r.byPhone[NormalizePhone(handle)]; ok {
		return name
	}
	return handle
}

// Size returns the number of loaded handle mappings.
func (r *Resolver) Size() int {
	return len(r.byPhone) + len(r.byEmail)
}

// NormalizePhone reduces a phone number to comparable digits: strip
// non-digits; drop a leading 1 from 11-digit NANP numbers; otherwise keep
// the last 10 digits when at least 10 are present.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	switch {
	case len(d) == 11 && d[0] == '1':
		return d[1:]
	case len(d) >= 10:
		return d[len(d)-10:]
	default:
		return d
	}
}

// NormalizeEmail lowercases and trims an email handle.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func displayName(first, last, org string) string {
	name := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last))
	if name == "" {
		name = strings.TrimSpace(org)
	}
	return name
}
