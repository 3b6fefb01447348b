// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/stillwaterhq/recall/pkg/mactime"
)

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := buildIndexingStack(cmd.Context())
	if err != nil {
		return fail("status", err)
	}
	defer s.Close()

	status, err := s.ix.Status(cmd.Context())
	if err != nil {
		return fail("status", err)
	}

	fmt.Println("indexing state")
	fmt.Printf("  last message rowid:  %d\n", status.LastMessageRowid)
	fmt.Printf("  last indexed:        %s\n", formatUnix(status.LastIndexedAt))
	fmt.Printf("  messages indexed:    %d\n", status.TotalMessagesIndexed)
	fmt.Printf("  chunks created:      %d\n", status.TotalChunksCreated)
	fmt.Println("index")
	fmt.Printf("  documents:           %d\n", status.IndexStats.DocumentCount)
	fmt.Println("message store")
	fmt.Printf("  total messages:      %d\n", status.MessageStats.TotalMessages)
	fmt.Printf("  rowid range:         %d..%d\n", status.MessageStats.MinRowid, status.MessageStats.MaxRowid)
	fmt.Printf("  oldest message:      %s\n", formatUnix(status.MessageStats.OldestDate))
	fmt.Printf("  newest message:      %s\n", formatUnix(status.MessageStats.NewestDate))
	fmt.Printf("pending messages:      %d\n", status.PendingMessages)
	return nil
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return "never"
	}
	t := time.Unix(ts, 0)
	return fmt.Sprintf("%s %s", mactime.FormatDate(t), mactime.FormatClock(t))
}
