// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func runVerify(cmd *cobra.Command, args []string) error {
	s, err := buildIndexingStack(cmd.Context())
	if err != nil {
		return fail("verify", err)
	}
	defer s.Close()

	report, err := s.ix.Verify(cmd.Context())
	if err != nil {
		return fail("verify", err)
	}

	fmt.Printf("state chunks:      %d\n", report.StateChunks)
	fmt.Printf("index documents:   %d\n", report.IndexDocuments)
	fmt.Printf("state cursor:      %d\n", report.StateLastRowid)
	fmt.Printf("max usable rowid:  %d\n", report.MaxUsableRowid)
	fmt.Printf("pending messages:  %d\n", report.PendingMessages)

	if !report.Ok() {
		for _, d := range report.Divergences {
			fmt.Printf("DIVERGENCE: %s\n", d)
		}
		return fmt.Errorf("verify found %d divergence(s); run 'recall index --full' to rebuild", len(report.Divergences))
	}
	fmt.Println("ok: message store, state, and index agree")
	return nil
}
