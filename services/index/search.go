// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package index

import (
	"context"
	"fmt"
	"sort"

	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
)

// candidateMultiplier over-fetches so client-side exclusions and
// rescoring still have a full result page to work with.
const candidateMultiplier = 10

const defaultLimit = 10

// HybridSearch runs the combined BM25 + dense-vector query.
//
// The backend returns a fused score; boosts are then added client-side
// per matching flag, exclusions drop candidates, and ties break by
// chunk id so equal-score orderings are stable across runs.
func (s *Store) HybridSearch(ctx context.Context, opts SearchOptions) ([]SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if opts.KeywordQuery == "" && len(opts.TextVector) == 0 {
		return nil, fmt.Errorf("index: hybrid search needs a keyword query or a text vector")
	}

	query := s.client.GraphQL().Get().
		WithClassName(ClassName).
		WithFields(resultFields()...).
		WithLimit(limit * candidateMultiplier)

	if where := buildWhere(opts.Filters); where != nil {
		query = query.WithWhere(where)
	}

	switch {
	case opts.KeywordQuery != "" && len(opts.TextVector) > 0:
		alpha := float32(0.5)
		if opts.Alpha != nil {
			alpha = *opts.Alpha
		}
		hybrid := s.client.GraphQL().HybridArgumentBuilder().
			WithQuery(opts.KeywordQuery).
			WithVector(opts.TextVector).
			WithAlpha(alpha).
			WithTargetVectors(TextVectorName).
			WithProperties([]string{"text"})
		query = query.WithHybrid(hybrid)
	case opts.KeywordQuery != "":
		bm25 := s.client.GraphQL().Bm25ArgBuilder().
			WithQuery(opts.KeywordQuery).
			WithProperties("text")
		query = query.WithBM25(bm25)
	default:
		near := s.client.GraphQL().NearVectorArgBuilder().
			WithVector(opts.TextVector).
			WithTargetVectors(TextVectorName)
		query = query.WithNearVector(near)
	}

	result, err := query.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: hybrid search: %v", ErrStoreUnavailable, err)
	}
	hits, err := parseResults(result)
	if err != nil {
		return nil, err
	}

	hits = applyExclusions(hits, opts.Exclusions)
	applyBoosts(hits, opts.Boosts)
	sortResults(hits)

	if len(hits) > limit {
		hits = hits[:limit]
	}
	s.log.Debug("hybrid search done",
		"keyword", opts.KeywordQuery, "vector", len(opts.TextVector) > 0, "hits", len(hits))
	return hits, nil
}

// SemanticSearch is HybridSearch with only the dense-vector signal.
func (s *Store) SemanticSearch(ctx context.Context, vector []float32, limit int, f Filters) ([]SearchResult, error) {
	return s.HybridSearch(ctx, SearchOptions{TextVector: vector, Limit: limit, Filters: f})
}

// KeywordSearch is HybridSearch with only the BM25 signal.
func (s *Store) KeywordSearch(ctx context.Context, query string, limit int, f Filters) ([]SearchResult, error) {
	return s.HybridSearch(ctx, SearchOptions{KeywordQuery: query, Limit: limit, Filters: f})
}

// ImageSearch runs kNN over the image vector space. has_image=true is
// forced into the filter regardless of what the caller passes, and the
// candidate pool is 10x the requested page.
func (s *Store) ImageSearch(ctx context.Context, vector []float32, limit int, f Filters) ([]SearchResult, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	f = withImageOnly(f)

	near := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector).
		WithTargetVectors(ImageVectorName)

	query := s.client.GraphQL().Get().
		WithClassName(ClassName).
		WithFields(resultFields()...).
		WithNearVector(near).
		WithLimit(limit * candidateMultiplier)
	if where := buildWhere(f); where != nil {
		query = query.WithWhere(where)
	}

	result, err := query.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: image search: %v", ErrStoreUnavailable, err)
	}
	hits, err := parseResults(result)
	if err != nil {
		return nil, err
	}
	sortResults(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// withImageOnly pins has_image=true, overriding whatever the caller
// set: image search must never surface text-only documents.
func withImageOnly(f Filters) Filters {
	forced := true
	f.HasImage = &forced
	return f
}

// buildWhere maps Filters onto the backend's where grammar. Returns nil
// when nothing is constrained.
func buildWhere(f Filters) *filters.WhereBuilder {
	var ops []*filters.WhereBuilder

	eqString := func(path, v string) {
		if v != "" {
			ops = append(ops, filters.Where().
				WithPath([]string{path}).WithOperator(filters.Equal).WithValueString(v))
		}
	}
	eqBool := func(path string, v *bool) {
		if v != nil {
			ops = append(ops, filters.Where().
				WithPath([]string{path}).WithOperator(filters.Equal).WithValueBoolean(*v))
		}
	}

	eqString("sender", f.Sender)
	eqBool("sender_is_me", f.SenderIsMe)
	for _, p := range f.Participants {
		eqString("participants", p)
	}
	eqString("chat_id", f.ChatID)
	eqString("chat_name", f.ChatName)
	eqBool("is_dm", f.IsDM)
	eqBool("is_group_chat", f.IsGroupChat)
	eqString("day_of_week", f.DayOfWeek)
	eqBool("has_image", f.HasImage)

	if f.Year != 0 {
		ops = append(ops, filters.Where().
			WithPath([]string{"year"}).WithOperator(filters.Equal).WithValueInt(int64(f.Year)))
	}
	switch {
	case len(f.Months) > 0:
		monthOps := make([]*filters.WhereBuilder, 0, len(f.Months))
		for _, m := range f.Months {
			monthOps = append(monthOps, filters.Where().
				WithPath([]string{"month"}).WithOperator(filters.Equal).WithValueInt(int64(m)))
		}
		ops = append(ops, filters.Where().WithOperator(filters.Or).WithOperands(monthOps))
	case f.Month != 0:
		ops = append(ops, filters.Where().
			WithPath([]string{"month"}).WithOperator(filters.Equal).WithValueInt(int64(f.Month)))
	}
	// Wrap-around hour windows (gte > lte) are split into two queries by
	// the caller; here both bounds always describe one interval.
	if f.HourGte != nil {
		ops = append(ops, filters.Where().
			WithPath([]string{"hour_of_day"}).WithOperator(filters.GreaterThanEqual).WithValueInt(int64(*f.HourGte)))
	}
	if f.HourLte != nil {
		ops = append(ops, filters.Where().
			WithPath([]string{"hour_of_day"}).WithOperator(filters.LessThanEqual).WithValueInt(int64(*f.HourLte)))
	}
	if f.TimestampGte != 0 {
		ops = append(ops, filters.Where().
			WithPath([]string{"start_ts"}).WithOperator(filters.GreaterThanEqual).WithValueInt(f.TimestampGte))
	}
	if f.TimestampLte != 0 {
		ops = append(ops, filters.Where().
			WithPath([]string{"start_ts"}).WithOperator(filters.LessThanEqual).WithValueInt(f.TimestampLte))
	}

	if len(ops) == 0 {
		return nil
	}
	if len(ops) == 1 {
		return ops[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(ops)
}

// applyExclusions drops candidates matching any must-not rule. The
// where grammar cannot express negated conjunctions, so this runs on
// the over-fetched candidate set.
func applyExclusions(hits []SearchResult, ex Exclusions) []SearchResult {
	if len(ex.IsDMWith) == 0 && len(ex.Senders) == 0 && len(ex.ChatIDs) == 0 {
		return hits
	}
	out := hits[:0]
	for _, h := range hits {
		if excluded(h.Document, ex) {
			continue
		}
		out = append(out, h)
	}
	return out
}

func excluded(d ResultDoc, ex Exclusions) bool {
	for _, s := range ex.Senders {
		if d.Sender == s {
			return true
		}
	}
	for _, c := range ex.ChatIDs {
		if d.ChatID == c {
			return true
		}
	}
	if d.IsDM {
		for _, name := range ex.IsDMWith {
			for _, p := range d.Participants {
				if p == name {
					return true
				}
			}
		}
	}
	return false
}

// applyBoosts adds each configured boost to documents with the matching
// flag set.
func applyBoosts(hits []SearchResult, b Boosts) {
	if b.SenderIsMe == 0 && b.IsGroupChat == 0 && b.IsDM == 0 {
		return
	}
	for i := range hits {
		if hits[i].Document.SenderIsMe {
			hits[i].Score += b.SenderIsMe
		}
		if hits[i].Document.IsGroupChat {
			hits[i].Score += b.IsGroupChat
		}
		if hits[i].Document.IsDM {
			hits[i].Score += b.IsDM
		}
	}
}

// sortResults orders by score descending, chunk id ascending on ties.
func sortResults(hits []SearchResult) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
}
