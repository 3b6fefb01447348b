// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stillwaterhq/recall/cmd/recall/config"
	"github.com/stillwaterhq/recall/services/indexer"
	"github.com/stillwaterhq/recall/services/server"
)

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The serve stack is both sides at once: queries answer over HTTP
	// while the watcher keeps the index fresh.
	s, err := buildIndexingStack(ctx)
	if err != nil {
		return fail("serve", err)
	}
	defer s.Close()

	q, err := buildQueryStack()
	if err != nil {
		return fail("serve", err)
	}
	defer q.Close()

	addr := serveAddr
	if addr == "" {
		addr = config.Global.Server.Addr
	}
	srv := server.New(q.engine, s.ix, s.store, s.store, appLog)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(ctx, addr) })
	if watchMode {
		g.Go(func() error { return s.ix.Watch(ctx, s.reader.Path(), indexer.RunOptions{}) })
	}
	if err := g.Wait(); err != nil {
		return fail("serve", err)
	}
	return nil
}
