// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func runSearch(cmd *cobra.Command, args []string) error {
	s, err := buildQueryStack()
	if err != nil {
		return fail("search", err)
	}
	defer s.Close()

	results, err := s.engine.Search(cmd.Context(), args[0], searchLimit)
	if err != nil {
		return fail("search", err)
	}
	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}

	for i, r := range results {
		header := r.ChatHeader
		if r.HasImage {
			header += " [image]"
		}
		fmt.Printf("%d. %s (%s, score %.2f)\n", i+1, header, r.When, r.Score)
		for _, line := range strings.Split(r.Text, "\n") {
			fmt.Printf("   %s\n", line)
		}
		fmt.Println()
	}
	return nil
}
