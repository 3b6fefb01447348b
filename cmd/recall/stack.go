// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"

	"github.com/stillwaterhq/recall/cmd/recall/config"
	"github.com/stillwaterhq/recall/pkg/logging"
	"github.com/stillwaterhq/recall/services/chatgraph"
	"github.com/stillwaterhq/recall/services/chunker"
	"github.com/stillwaterhq/recall/services/contacts"
	"github.com/stillwaterhq/recall/services/embed"
	"github.com/stillwaterhq/recall/services/index"
	"github.com/stillwaterhq/recall/services/indexer"
	"github.com/stillwaterhq/recall/services/messagedb"
	"github.com/stillwaterhq/recall/services/query"
	"github.com/stillwaterhq/recall/services/state"
)

// stack is the wired set of components a command needs. Close releases
// every opened resource; nil members are skipped, so partially built
// stacks close cleanly too.
type stack struct {
	reader *messagedb.Reader
	states *state.Store
	graph  *chatgraph.Graph
	store  *index.Store
	cache  *embed.Cache
	text   *embed.TextEmbedder
	images *embed.ImageEmbedder
	ix     *indexer.Indexer
	engine *query.Engine
}

func (s *stack) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
	if s.graph != nil {
		s.graph.Close()
	}
	if s.states != nil {
		s.states.Close()
	}
	if s.reader != nil {
		s.reader.Close()
	}
}

// buildIndexingStack wires everything an indexing run needs.
func buildIndexingStack(ctx context.Context) (*stack, error) {
	cfg := config.Global
	if cfg.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}

	s := &stack{}
	var err error

	s.reader, err = messagedb.Open(cfg.MessageDB, appLog)
	if err != nil {
		return nil, err
	}

	sources := cfg.AddressBookSources
	if len(sources) == 0 {
		sources = contacts.DefaultSources()
	}
	resolver := contacts.NewResolver(sources, appLog)

	s.states, err = state.Open(logging.ExpandHome(cfg.StateDB), appLog)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.graph, err = chatgraph.Open(logging.ExpandHome(cfg.GraphDB), appLog)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.store, err = index.NewStore(cfg.Weaviate.URL, appLog)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.text, err = embed.NewTextEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.EmbedModel, appLog)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.cache, err = embed.NewCache(logging.ExpandHome(cfg.CacheDir), s.text, appLog)
	if err != nil {
		s.Close()
		return nil, err
	}

	var images indexer.ImageEmbedder
	if cfg.Images.Enabled {
		s.images = embed.NewImageEmbedder(cfg.Images.URL, appLog)
		if err := s.images.Warmup(ctx); err != nil {
			appLog.Warn("image embed service unavailable, indexing text only", "error", err)
			s.images = nil
		} else {
			images = s.images
		}
	}

	s.ix = indexer.New(s.reader, chunker.New(resolver), s.states, s.store, s.cache, images, appLog).
		WithGraph(s.graph, resolver)
	return s, nil
}

// buildQueryStack wires the search path. The message reader stays closed;
// queries never touch the platform store.
func buildQueryStack() (*stack, error) {
	cfg := config.Global
	if cfg.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}

	s := &stack{}
	var err error

	s.graph, err = chatgraph.Open(logging.ExpandHome(cfg.GraphDB), appLog)
	if err != nil {
		return nil, err
	}
	s.store, err = index.NewStore(cfg.Weaviate.URL, appLog)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.text, err = embed.NewTextEmbedder(cfg.OpenAI.APIKey, cfg.OpenAI.EmbedModel, appLog)
	if err != nil {
		s.Close()
		return nil, err
	}

	parser, err := query.NewParser(cfg.OpenAI.APIKey, cfg.OpenAI.ParserModel, appLog)
	if err != nil {
		s.Close()
		return nil, err
	}

	var images query.ImageQueryEmbedder
	if cfg.Images.Enabled {
		s.images = embed.NewImageEmbedder(cfg.Images.URL, appLog)
		images = s.images
	}

	s.engine = query.NewEngine(parser, s.store, s.graph, s.text, images, appLog)
	return s, nil
}
