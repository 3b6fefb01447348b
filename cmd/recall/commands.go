// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/stillwaterhq/recall/cmd/recall/config"
	"github.com/stillwaterhq/recall/pkg/logging"
)

// --- Global Command Variables ---
var (
	fullReindex  bool
	messageLimit int
	watchMode    bool
	serveAddr    string
	searchLimit  int
	debugLogging bool

	appLog      *slog.Logger
	closeLogger func() error

	rootCmd = &cobra.Command{
		Use:   "recall",
		Short: "Index and search your local message history",
		Long: `Recall builds a private hybrid-search index over your local
message history and answers natural-language questions about it.
Everything runs on your machine; only embedding and query-parsing
calls leave it.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(); err != nil {
				return err
			}
			appLog, closeLogger = logging.Setup(logging.Config{
				Debug:   debugLogging,
				LogDir:  config.Global.Logging.LogDir,
				Service: cmd.Name(),
			})
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if closeLogger != nil {
				closeLogger()
			}
		},
	}

	indexCmd = &cobra.Command{
		Use:   "index",
		Short: "Index new messages (incremental by default)",
		RunE:  runIndex, // Defined in cmd_index.go
	}

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show indexing progress and index statistics",
		RunE:  runStatus, // Defined in cmd_status.go
	}

	verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Cross-check the message store, state, and index",
		RunE:  runVerify, // Defined in cmd_verify.go
	}

	searchCmd = &cobra.Command{
		Use:   "search \"<question>\"",
		Short: "Search indexed messages with a natural-language question",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch, // Defined in cmd_search.go
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the search and status API over HTTP",
		RunE:  runServe, // Defined in cmd_serve.go
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugLogging, "debug", false, "enable debug logging")

	indexCmd.Flags().BoolVarP(&fullReindex, "full", "f", false, "clear the index and state, then reindex everything")
	indexCmd.Flags().IntVarP(&messageLimit, "limit", "l", 0, "stop after indexing this many messages (0 = no cap)")
	indexCmd.Flags().BoolVar(&watchMode, "watch", false, "keep running and reindex when the message store changes")

	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 10, "maximum number of results")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&watchMode, "watch", false, "also reindex when the message store changes")

	rootCmd.AddCommand(indexCmd, statusCmd, verifyCmd, searchCmd, serveCmd)
}

// fail wraps a command error with context for the final CLI line.
func fail(action string, err error) error {
	return fmt.Errorf("%s: %w", action, err)
}
