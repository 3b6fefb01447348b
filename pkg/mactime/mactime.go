// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mactime converts between the Apple Core Data epoch and Unix time
// and formats timestamps for human-readable search output.
//
// Apple's Messages database stores dates as nanoseconds since
// 2001-01-01 00:00:00 UTC. Unix time is seconds since 1970-01-01 UTC.
// The difference between the two epochs is exactly 978,307,200 seconds.
package mactime

import (
	"fmt"
	"math/big"
	"time"
)

// AppleEpochOffset is the number of seconds between the Unix epoch
// (1970-01-01) and the Apple Core Data epoch (2001-01-01).
const AppleEpochOffset int64 = 978307200

const nanosPerSecond = int64(1_000_000_000)

// Relative-age thresholds, in seconds.
const (
	minuteSeconds = 60
	hourSeconds   = 3600
	daySeconds    = 86400
	weekSeconds   = 604800
	monthSeconds  = 2592000
	yearSeconds   = 31536000
)

// AppleNanosToUnix converts an Apple-epoch nanosecond timestamp to Unix
// seconds. Sub-second precision is truncated.
func AppleNanosToUnix(nanos int64) int64 {
	return nanos/nanosPerSecond + AppleEpochOffset
}

// AppleNanosToUnixBig converts an arbitrary-precision Apple-epoch nanosecond
// value to Unix seconds. Some message rows carry values wider than 63 bits
// after third-party sync tools rewrite them, so the reader scans those
// columns into big integers before conversion.
func AppleNanosToUnixBig(nanos *big.Int) int64 {
	if nanos == nil {
		return AppleEpochOffset
	}
	seconds := new(big.Int).Quo(nanos, big.NewInt(nanosPerSecond))
	return seconds.Int64() + AppleEpochOffset
}

// UnixToAppleNanos converts Unix seconds to Apple-epoch nanoseconds.
func UnixToAppleNanos(unix int64) int64 {
	return (unix - AppleEpochOffset) * nanosPerSecond
}

// AppleNanosToTime converts an Apple-epoch nanosecond timestamp to a
// time.Time in the local zone, preserving sub-second precision.
// A zero input yields the zero time.
func AppleNanosToTime(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(AppleNanosToUnix(nanos), nanos%nanosPerSecond)
}

// FormatClock renders a timestamp as a 12-hour clock string, e.g. "3:04 PM".
func FormatClock(t time.Time) string {
	return t.Format("3:04 PM")
}

// FormatDate renders a timestamp as an abbreviated date, e.g. "Jun 5, 2024".
func FormatDate(t time.Time) string {
	return t.Format("Jan 2, 2006")
}

// FormatRelative renders the age of t relative to now, e.g. "3 hours ago".
//
// The buckets are fixed: under a minute is "just now", then minutes, hours,
// days, weeks, months (30 days), and years (365 days). Future timestamps
// are treated as "just now".
func FormatRelative(t, now time.Time) string {
	seconds := int64(now.Sub(t).Seconds())
	switch {
	case seconds < minuteSeconds:
		return "just now"
	case seconds < hourSeconds:
		return plural(seconds/minuteSeconds, "minute")
	case seconds < daySeconds:
		return plural(seconds/hourSeconds, "hour")
	case seconds < weekSeconds:
		return plural(seconds/daySeconds, "day")
	case seconds < monthSeconds:
		return plural(seconds/weekSeconds, "week")
	case seconds < yearSeconds:
		return plural(seconds/monthSeconds, "month")
	default:
		return plural(seconds/yearSeconds, "year")
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
