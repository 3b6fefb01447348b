// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mactime

import (
	"math/big"
	"testing"
	"time"
)

func TestAppleNanosToUnix(t *testing.T) {
	tests := []struct {
		name  string
		nanos int64
		want  int64
	}{
		{"epoch start", 0, AppleEpochOffset},
		{"one second in", 1_000_000_000, AppleEpochOffset + 1},
		{"sub-second truncated", 1_999_999_999, AppleEpochOffset + 1},
		{"mid 2024", 741484800_000_000_000, 741484800 + AppleEpochOffset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AppleNanosToUnix(tt.nanos); got != tt.want {
				t.Errorf("AppleNanosToUnix(%d) = %d, want %d", tt.nanos, got, tt.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	// Converting x seconds past the Apple epoch must land on x + offset.
	for _, x := range []int64{0, 1, 60, 86400, 700000000} {
		nanos := x * 1_000_000_000
		if got := AppleNanosToUnix(nanos); got != x+AppleEpochOffset {
			t.Fatalf("round trip for %d: got %d", x, got)
		}
		if back := UnixToAppleNanos(x + AppleEpochOffset); back != nanos {
			t.Fatalf("inverse for %d: got %d", x, back)
		}
	}
}

func TestAppleNanosToUnixBig(t *testing.T) {
	small := big.NewInt(5_000_000_000)
	if got := AppleNanosToUnixBig(small); got != AppleEpochOffset+5 {
		t.Errorf("big conversion = %d, want %d", got, AppleEpochOffset+5)
	}
	if got := AppleNanosToUnixBig(nil); got != AppleEpochOffset {
		t.Errorf("nil conversion = %d, want %d", got, AppleEpochOffset)
	}
	// Wider than 63 bits divided back down must still fit.
	wide := new(big.Int).Mul(big.NewInt(700000000), big.NewInt(1_000_000_000))
	if got := AppleNanosToUnixBig(wide); got != 700000000+AppleEpochOffset {
		t.Errorf("wide conversion = %d", got)
	}
}

func TestAppleNanosToTime(t *testing.T) {
	if !AppleNanosToTime(0).IsZero() {
		t.Error("zero nanos should map to the zero time")
	}
	got := AppleNanosToTime(1_500_000_000)
	if got.Unix() != AppleEpochOffset+1 {
		t.Errorf("unix seconds = %d", got.Unix())
	}
	if got.Nanosecond() != 500_000_000 {
		t.Errorf("nanosecond remainder = %d", got.Nanosecond())
	}
}

func TestFormatRelative(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.Local)
	tests := []struct {
		name string
		ago  time.Duration
		want string
	}{
		{"just now", 5 * time.Second, "just now"},
		{"one minute", 90 * time.Second, "1 minute ago"},
		{"minutes", 10 * time.Minute, "10 minutes ago"},
		{"hours", 3 * time.Hour, "3 hours ago"},
		{"days", 50 * time.Hour, "2 days ago"},
		{"weeks", 8 * 24 * time.Hour, "1 week ago"},
		{"months", 40 * 24 * time.Hour, "1 month ago"},
		{"years", 800 * 24 * time.Hour, "2 years ago"},
		{"future clamps", -time.Hour, "just now"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatRelative(now.Add(-tt.ago), now); got != tt.want {
				t.Errorf("FormatRelative(-%v) = %q, want %q", tt.ago, got, tt.want)
			}
		})
	}
}

func TestFormatClockAndDate(t *testing.T) {
	ts := time.Date(2024, 6, 5, 15, 4, 0, 0, time.Local)
	if got := FormatClock(ts); got != "3:04 PM" {
		t.Errorf("FormatClock = %q", got)
	}
	if got := FormatDate(ts); got != "Jun 5, 2024" {
		t.Errorf("FormatDate = %q", got)
	}
}
