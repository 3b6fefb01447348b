// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stillwaterhq/recall/services/indexer"
)

func runIndex(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s, err := buildIndexingStack(ctx)
	if err != nil {
		return fail("index", err)
	}
	defer s.Close()

	opts := indexer.RunOptions{
		FullReindex:  fullReindex,
		MaxMessages:  messageLimit,
		ShowProgress: true,
	}
	result, err := s.ix.Run(ctx, opts)
	if err != nil {
		return fail("index", err)
	}

	fmt.Printf("indexed %d messages into %d chunks (%d written) in %s\n",
		result.MessagesProcessed, result.ChunksCreated, result.ChunksIndexed,
		result.Duration.Round(time.Millisecond))

	if watchMode {
		fmt.Println("watching for changes, ^C to stop")
		if err := s.ix.Watch(ctx, s.reader.Path(), opts); err != nil {
			return fail("watch", err)
		}
	}
	return nil
}
