// Copyright (C) 2025 Stillwater Systems
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package messagedb

import (
	"bytes"
	"strings"
	"unicode"
)

// nsStringMarker precedes the message body inside a serialized
// NSAttributedString (typedstream) blob.
var nsStringMarker = []byte("NSString")

// ExtractAttributedText pulls the plain message body out of an
// attributedBody blob.
//
// The blob is Apple's typedstream serialization of an NSAttributedString.
// Rather than implement the full format, this follows the well-known
// heuristic: locate "NSString", then the 0x01 0x2B marker that precedes
// the inline string, then a length byte (taken as-is below 0x80, low
// seven bits otherwise), then that many bytes of UTF-8. A printable-ASCII
// scan after the marker serves as fallback. Returns "" when nothing
// usable is found; callers drop such rows.
func ExtractAttributedText(blob []byte) string {
	if len(blob) == 0 {
		return ""
	}
	at := bytes.Index(blob, nsStringMarker)
	if at < 0 {
		return ""
	}
	rest := blob[at+len(nsStringMarker):]

	if text := extractMarked(rest); text != "" {
		return text
	}
	return extractPrintableRun(rest)
}

// extractMarked reads the length-prefixed string after the 0x01 0x2B marker.
func extractMarked(rest []byte) string {
	for i := 0; i+2 < len(rest); i++ {
		if rest[i] != 0x01 || rest[i+1] != 0x2B {
			continue
		}
		n := int(rest[i+2])
		if n >= 0x80 {
			n &= 0x7F
		}
		start := i + 3
		if n == 0 || start >= len(rest) {
			return ""
		}
		if start+n > len(rest) {
			n = len(rest) - start
		}
		return cleanExtracted(string(rest[start : start+n]))
	}
	return ""
}

// extractPrintableRun returns the first printable-ASCII run of at least
// three bytes, for blobs whose framing the marker scan does not match.
func extractPrintableRun(rest []byte) string {
	start := -1
	for i := 0; i <= len(rest); i++ {
		printable := i < len(rest) && rest[i] >= 0x20 && rest[i] < 0x7F
		if printable {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 && i-start >= 3 {
			return cleanExtracted(string(rest[start:i]))
		}
		start = -1
	}
	return ""
}

// cleanExtracted strips typedstream residue from the head of a candidate
// string: C0/C1 control characters, and a single leading digit acting as
// a length indicator when letters follow it.
func cleanExtracted(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return r < 0x20 || (r >= 0x7F && r <= 0x9F)
	})
	runes := []rune(s)
	if len(runes) >= 2 && unicode.IsDigit(runes[0]) && unicode.IsLetter(runes[1]) {
		s = string(runes[1:])
	}
	return strings.TrimSpace(s)
}
