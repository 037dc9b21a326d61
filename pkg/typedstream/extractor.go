// chatdb-migrate - Recovers message text from macOS chat.db archives.
// Copyright (C) 2026 Ludvig Rhodin
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package typedstream

import "unicode/utf8"

const (
	// stringTypeTag is the '+' byte that precedes the length field of an
	// encoded string payload. Inferred from observed chat.db samples, not
	// from any published grammar.
	stringTypeTag = 0x2B

	// lengthEscape marks a two-byte little-endian length for strings longer
	// than singleByteMax. Longer escape forms may exist for very large
	// payloads but have not been observed in the fixture corpus.
	lengthEscape = 0x81

	// singleByteMax is the largest length encodable as a single byte.
	singleByteMax = 0x80

	// tagScanWindow bounds how far past the class name we look for the
	// type tag. The tag sits within a few bytes of the name in every
	// observed sample; 64 leaves generous slack without letting the scan
	// wander into payload bytes of a later object.
	tagScanWindow = 64
)

// Extraction holds a successfully recovered payload.
type Extraction struct {
	Text      string
	TagOffset int // offset of the type tag that introduced the payload
	RawLength int // payload length in bytes, before UTF-8 validation
}

// ExtractAt attempts to recover the length-prefixed text payload encoded
// after the class-name marker at markerOffset. It scans a bounded window
// after the name for the string type tag, decodes the length field
// (single byte, or 0x81 + little-endian uint16), and validates that the
// payload lies within the buffer and is well-formed UTF-8.
//
// Any violation fails this candidate; the caller moves on to the next one.
func ExtractAt(cur *Cursor, markerOffset int, kind MarkerKind) (Extraction, bool) {
	name := MarkerName(kind)
	if name == nil {
		return Extraction{}, false
	}
	scanStart := markerOffset + len(name)

	for off := scanStart; off < scanStart+tagScanWindow; off++ {
		b, ok := cur.PeekAt(off)
		if !ok {
			break
		}
		if b != stringTypeTag {
			continue
		}
		if ex, ok := readLengthPrefixed(cur, off); ok {
			return ex, true
		}
		// Tag byte without a valid payload behind it; keep scanning, the
		// 0x2B may have been part of an unrelated encoded value.
	}
	return Extraction{}, false
}

// readLengthPrefixed decodes the length field directly after the type tag
// at tagOffset and returns the validated UTF-8 payload.
func readLengthPrefixed(cur *Cursor, tagOffset int) (Extraction, bool) {
	first, ok := cur.PeekAt(tagOffset + 1)
	if !ok {
		return Extraction{}, false
	}

	var length, payloadStart int
	switch {
	case first == lengthEscape:
		lo, okLo := cur.PeekAt(tagOffset + 2)
		hi, okHi := cur.PeekAt(tagOffset + 3)
		if !okLo || !okHi {
			return Extraction{}, false
		}
		length = int(lo) | int(hi)<<8
		payloadStart = tagOffset + 4
	case int(first) <= singleByteMax:
		length = int(first)
		payloadStart = tagOffset + 2
	default:
		// 0x82..0xFF: unknown escape form, fail this candidate.
		return Extraction{}, false
	}

	if length == 0 {
		return Extraction{}, false
	}
	payload, ok := cur.SliceFrom(payloadStart, length)
	if !ok {
		return Extraction{}, false
	}
	if !utf8.Valid(payload) {
		return Extraction{}, false
	}
	return Extraction{
		Text:      string(payload),
		TagOffset: tagOffset,
		RawLength: length,
	}, true
}
