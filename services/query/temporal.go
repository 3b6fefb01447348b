// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package query

import (
	"fmt"
	"strings"
	"time"
)

// TimeRange is a resolved absolute window in Unix seconds. Zero means
// unbounded on that side.
type TimeRange struct {
	Gte int64
	Lte int64
}

// ResolveTemporalFilter turns a temporal block into absolute bounds
// against now. Indexed temporal facets are computed in the host's local
// zone, so resolution happens in the same zone.
//
// A nil filter resolves to the empty range. Relative tokens and explicit
// dates are mutually exclusive; when both appear the relative token
// wins.
func ResolveTemporalFilter(tf *TemporalFilter, now time.Time) (TimeRange, error) {
	if tf == nil {
		return TimeRange{}, nil
	}
	if tf.Relative != "" {
		return resolveRelative(strings.ToLower(tf.Relative), now)
	}

	var r TimeRange
	if tf.DateGte != "" {
		t, err := parseISODate(tf.DateGte, now.Location())
		if err != nil {
			return TimeRange{}, fmt.Errorf("query: bad date_gte %q: %w", tf.DateGte, err)
		}
		r.Gte = t.Unix()
	}
	if tf.DateLte != "" {
		t, err := parseISODate(tf.DateLte, now.Location())
		if err != nil {
			return TimeRange{}, fmt.Errorf("query: bad date_lte %q: %w", tf.DateLte, err)
		}
		r.Lte = t.Unix()
	}
	return r, nil
}

func resolveRelative(token string, now time.Time) (TimeRange, error) {
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	switch token {
	case "today":
		return TimeRange{Gte: today.Unix()}, nil

	case "yesterday":
		return TimeRange{
			Gte: today.AddDate(0, 0, -1).Unix(),
			Lte: today.Unix(),
		}, nil

	case "this_week":
		// Weeks start on Sunday.
		return TimeRange{Gte: weekStart(today).Unix()}, nil

	case "last_week":
		start := weekStart(today)
		return TimeRange{
			Gte: start.AddDate(0, 0, -7).Unix(),
			Lte: start.Unix(),
		}, nil

	case "this_month":
		return TimeRange{
			Gte: time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc).Unix(),
		}, nil

	case "last_month":
		thisMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		return TimeRange{
			Gte: thisMonth.AddDate(0, -1, 0).Unix(),
			Lte: thisMonth.Add(-time.Second).Unix(),
		}, nil

	case "this_year":
		return TimeRange{
			Gte: time.Date(now.Year(), 1, 1, 0, 0, 0, 0, loc).Unix(),
		}, nil

	case "last_year":
		jan1 := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, loc)
		return TimeRange{
			Gte: jan1.AddDate(-1, 0, 0).Unix(),
			Lte: jan1.Add(-time.Second).Unix(),
		}, nil
	}
	return TimeRange{}, fmt.Errorf("query: unknown relative token %q", token)
}

// weekStart returns the most recent Sunday at midnight, today included.
func weekStart(today time.Time) time.Time {
	return today.AddDate(0, 0, -int(today.Weekday()))
}

// parseISODate accepts either a bare date or a full RFC 3339 timestamp.
// Bare dates are taken in loc, matching the indexed facets.
func parseISODate(s string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
