// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupFileLogging(t *testing.T) {
	dir := t.TempDir()
	logger, closer := Setup(Config{Quiet: true, LogDir: dir, Service: "test"})
	logger.Info("hello", "key", "value")
	if err := closer(); err != nil {
		t.Fatalf("closer: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one log file, got %d (err=%v)", len(entries), err)
	}
	if !strings.HasPrefix(entries[0].Name(), "test_") {
		t.Errorf("log file name = %q, want test_ prefix", entries[0].Name())
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Errorf("log file missing record: %s", data)
	}
	if !strings.Contains(string(data), `"service":"test"`) {
		t.Errorf("log file missing service attribute: %s", data)
	}
}

func TestSetupNoFile(t *testing.T) {
	logger, closer := Setup(Config{Quiet: true})
	logger.Info("discarded")
	if err := closer(); err != nil {
		t.Errorf("no-op closer returned error: %v", err)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ExpandHome("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("ExpandHome = %q", got)
	}
	if got := ExpandHome("/var/log"); got != "/var/log" {
		t.Errorf("absolute path changed: %q", got)
	}
}
