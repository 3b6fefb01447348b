// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/stillwaterhq/recall/pkg/mactime"
	"github.com/stillwaterhq/recall/services/chatgraph"
	"github.com/stillwaterhq/recall/services/index"
)

// DefaultTimeout bounds one search end to end, parse included.
const DefaultTimeout = 30 * time.Second

// Searcher is the index surface the engine needs.
type Searcher interface {
	HybridSearch(ctx context.Context, opts index.SearchOptions) ([]index.SearchResult, error)
	ImageSearch(ctx context.Context, vector []float32, limit int, f index.Filters) ([]index.SearchResult, error)
}

// Resolver maps user-facing names onto graph entities.
type Resolver interface {
	ResolvePerson(ctx context.Context, query string) (chatgraph.Resolution, error)
	ResolveChat(ctx context.Context, query string) (chatgraph.Resolution, error)
}

// TextQueryEmbedder embeds query text into the text vector space.
type TextQueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// ImageQueryEmbedder embeds query text into the image vector space.
type ImageQueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// IntentParser extracts structured intent from natural language.
type IntentParser interface {
	Parse(ctx context.Context, request string) ParsedQuery
}

// Engine executes natural-language searches against the index.
type Engine struct {
	parser   IntentParser
	store    Searcher
	graph    Resolver
	text     TextQueryEmbedder
	image    ImageQueryEmbedder
	log      *slog.Logger
	timeout  time.Duration
	timezone *time.Location
}

// NewEngine wires the search path together. graph and image may be nil;
// the engine then skips name resolution and image queries respectively.
func NewEngine(parser IntentParser, store Searcher, graph Resolver, text TextQueryEmbedder, image ImageQueryEmbedder, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		parser:   parser,
		store:    store,
		graph:    graph,
		text:     text,
		image:    image,
		log:      log,
		timeout:  DefaultTimeout,
		timezone: time.Local,
	}
}

// WithTimeout overrides the per-search deadline.
func (e *Engine) WithTimeout(d time.Duration) *Engine {
	e.timeout = d
	return e
}

// Search parses, resolves, and executes one request.
//
// On deadline the distinct ErrTimeout comes back and nothing is left
// half-done; the index was only read.
func (e *Engine) Search(ctx context.Context, request string, limit int) ([]FormattedResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	results, err := e.search(ctx, request, limit)
	if err != nil {
		// The store wraps its backend errors opaquely, so a deadline
		// hit inside a store call may not carry DeadlineExceeded in
		// its chain; the context records it either way.
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %q", ErrTimeout, request)
		}
		return nil, err
	}
	return results, nil
}

func (e *Engine) search(ctx context.Context, request string, limit int) ([]FormattedResult, error) {
	pq := e.parser.Parse(ctx, request)
	e.log.Debug("query parsed", "type", pq.QueryType, "reasoning", pq.Reasoning)

	filters, exclusions, err := e.resolveNames(ctx, pq)
	if err != nil {
		return nil, err
	}

	window, err := ResolveTemporalFilter(pq.Temporal, time.Now().In(e.timezone))
	if err != nil {
		return nil, err
	}
	filters.TimestampGte = window.Gte
	filters.TimestampLte = window.Lte

	if pq.QueryType == TypeImage {
		return e.imageSearch(ctx, pq, filters, limit)
	}

	opts := index.SearchOptions{
		SemanticQuery: pq.SemanticQuery,
		Limit:         limit,
		Filters:       filters,
		Exclusions:    exclusions,
		Boosts: index.Boosts{
			SenderIsMe:  pq.Boosts.SenderIsMe,
			IsGroupChat: pq.Boosts.IsGroupChat,
			IsDM:        pq.Boosts.IsDM,
		},
	}

	switch pq.QueryType {
	case TypeKeyword:
		opts.KeywordQuery = pq.KeywordQuery
		if opts.KeywordQuery == "" {
			opts.KeywordQuery = request
		}
	case TypeSemantic, TypeMetadataOnly, TypeHybrid:
		if pq.QueryType != TypeMetadataOnly || pq.SemanticQuery != "" {
			text := pq.SemanticQuery
			if text == "" {
				text = request
			}
			vector, err := e.text.EmbedOne(ctx, text)
			if err != nil {
				return nil, fmt.Errorf("query: embed request: %w", err)
			}
			opts.TextVector = vector
		}
		if pq.QueryType == TypeHybrid {
			opts.KeywordQuery = pq.KeywordQuery
		}
		if pq.QueryType == TypeMetadataOnly && len(opts.TextVector) == 0 {
			// Pure metadata queries still need a should clause; fall
			// back to matching the raw request lexically.
			opts.KeywordQuery = request
		}
	}

	hits, err := e.runHybrid(ctx, opts)
	if err != nil {
		return nil, err
	}
	return e.format(hits), nil
}

// runHybrid handles the wrap-around hour window by issuing two
// one-sided queries and merging, everything else in one shot.
func (e *Engine) runHybrid(ctx context.Context, opts index.SearchOptions) ([]index.SearchResult, error) {
	f := opts.Filters
	if f.HourGte == nil || f.HourLte == nil || *f.HourGte <= *f.HourLte {
		return e.store.HybridSearch(ctx, opts)
	}

	// e.g. 22..3 becomes [22..23] union [0..3].
	late := opts
	late.Filters.HourLte = nil
	early := opts
	early.Filters.HourGte = nil

	lateHits, err := e.store.HybridSearch(ctx, late)
	if err != nil {
		return nil, err
	}
	earlyHits, err := e.store.HybridSearch(ctx, early)
	if err != nil {
		return nil, err
	}
	merged := mergeResults(lateHits, earlyHits)
	if opts.Limit > 0 && len(merged) > opts.Limit {
		merged = merged[:opts.Limit]
	}
	return merged, nil
}

func (e *Engine) imageSearch(ctx context.Context, pq ParsedQuery, filters index.Filters, limit int) ([]FormattedResult, error) {
	if e.image == nil {
		return nil, fmt.Errorf("query: image search requested but no image embedder configured")
	}
	text := pq.SemanticQuery
	if text == "" {
		text = pq.KeywordQuery
	}
	vector, err := e.image.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("query: embed image query: %w", err)
	}
	hits, err := e.store.ImageSearch(ctx, vector, limit, filters)
	if err != nil {
		return nil, err
	}
	return e.format(hits), nil
}

// resolveNames maps the parser's people and chat names through the
// graph. Unresolvable names pass through raw so the filter still
// matches documents that carry the literal string.
func (e *Engine) resolveNames(ctx context.Context, pq ParsedQuery) (index.Filters, index.Exclusions, error) {
	f := index.Filters{
		Sender:      pq.Filters.Sender,
		ChatName:    pq.Filters.ChatName,
		IsDM:        pq.Filters.IsDM,
		IsGroupChat: pq.Filters.IsGroupChat,
		Year:        pq.Filters.Year,
		Month:       pq.Filters.Month,
		Months:      pq.Filters.Months,
		DayOfWeek:   strings.ToLower(pq.Filters.DayOfWeek),
		HourGte:     pq.Filters.HourGte,
		HourLte:     pq.Filters.HourLte,
		HasImage:    pq.Filters.HasImage,
	}
	ex := index.Exclusions{
		IsDMWith: pq.Exclusions.IsDMWith,
		Senders:  pq.Exclusions.Senders,
	}

	if e.graph == nil {
		f.Participants = pq.Filters.Participants
		ex.ChatIDs = pq.Exclusions.Chats
		return f, ex, nil
	}

	resolvePerson := func(name string) string {
		res, err := e.graph.ResolvePerson(ctx, name)
		if err != nil || !res.Found {
			return name
		}
		return res.DisplayName
	}

	if f.Sender != "" {
		f.Sender = resolvePerson(f.Sender)
	}
	for _, p := range pq.Filters.Participants {
		f.Participants = append(f.Participants, resolvePerson(p))
	}
	for i, name := range ex.IsDMWith {
		ex.IsDMWith[i] = resolvePerson(name)
	}
	for i, name := range ex.Senders {
		ex.Senders[i] = resolvePerson(name)
	}

	if f.ChatName != "" {
		res, err := e.graph.ResolveChat(ctx, f.ChatName)
		if err == nil && res.Found && res.DisplayName != "" {
			f.ChatName = res.DisplayName
		}
	}
	for _, name := range pq.Exclusions.Chats {
		res, err := e.graph.ResolveChat(ctx, name)
		if err == nil && res.Found {
			ex.ChatIDs = append(ex.ChatIDs, res.ChatID)
			continue
		}
		ex.ChatIDs = append(ex.ChatIDs, name)
	}
	return f, ex, nil
}

// mergeResults unions two hit lists, deduplicates by id keeping the
// higher score, and re-sorts with the standard ordering.
func mergeResults(a, b []index.SearchResult) []index.SearchResult {
	best := make(map[string]index.SearchResult, len(a)+len(b))
	for _, h := range append(append([]index.SearchResult{}, a...), b...) {
		if prev, ok := best[h.ID]; !ok || h.Score > prev.Score {
			best[h.ID] = h
		}
	}
	out := make([]index.SearchResult, 0, len(best))
	for _, h := range best {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (e *Engine) format(hits []index.SearchResult) []FormattedResult {
	out := make([]FormattedResult, 0, len(hits))
	for _, h := range hits {
		d := h.Document
		header := d.ChatName
		if header == "" {
			header = strings.Join(d.Participants, ", ")
		}
		out = append(out, FormattedResult{
			ID:           h.ID,
			Score:        math.Round(h.Score*100) / 100,
			Text:         d.Text,
			Sender:       d.Sender,
			Participants: d.Participants,
			ChatHeader:   header,
			When: fmt.Sprintf("%s %s",
				mactime.FormatDate(time.Unix(d.StartTs, 0)), mactime.FormatClock(time.Unix(d.StartTs, 0))),
			StartTs:  d.StartTs,
			HasImage: d.HasImage,
		})
	}
	return out
}
